package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pipecrm/wfm/pkg/cache"
	"github.com/pipecrm/wfm/pkg/eventbus"
	natssink "github.com/pipecrm/wfm/pkg/notify/nats"
	redissink "github.com/pipecrm/wfm/pkg/notify/redis"
	"github.com/pipecrm/wfm/pkg/services"
	"github.com/redis/go-redis/v9"
)

// SinkConfig lists the optional outputs next to the event bus. Empty URLs disable a sink.
type SinkConfig struct {
	RedisURL     string
	RedisQueue   string
	RedisMaxLen  int64
	NATSURL      string
	NATSSubject  string
	CacheEnabled bool
}

// CloseFunc releases a resource opened during startup.
type CloseFunc func(ctx context.Context) error

// Outputs is what the services publish to and cache in.
type Outputs struct {
	Publisher eventbus.EventPublisher
	Cache     services.DefinitionCache
	closers   []CloseFunc
}

// Close releases every connection opened by NewOutputs.
func (o *Outputs) Close(ctx context.Context) error {
	var firstErr error

	for _, closer := range o.closers {
		if err := closer(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// NewOutputs fans events out to the bus plus the configured Redis and NATS sinks, and builds the
// Redis definition cache when enabled.
func NewOutputs(ctx context.Context, bus eventbus.EventPublisher, config SinkConfig, logger *slog.Logger) (*Outputs, error) {
	outputs := &Outputs{}
	publishers := []eventbus.EventPublisher{bus}

	var redisClient *redis.Client

	if config.RedisURL != "" {
		client, err := redissink.Connect(ctx, config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		redisClient = client
		outputs.closers = append(outputs.closers, func(context.Context) error { return client.Close() })

		var opts []redissink.Option
		if config.RedisQueue != "" {
			opts = append(opts, redissink.WithQueue(config.RedisQueue))
		}

		if config.RedisMaxLen > 0 {
			opts = append(opts, redissink.WithMaxLen(config.RedisMaxLen))
		}

		publishers = append(publishers, redissink.NewSink(client, logger, opts...))
	}

	if config.CacheEnabled {
		if redisClient == nil {
			_ = outputs.Close(ctx)

			return nil, fmt.Errorf("the definition cache needs a redis URL")
		}

		outputs.Cache = cache.NewWorkflowGraphs(redisClient, cache.DefaultTTL, logger)
	}

	if config.NATSURL != "" {
		conn, err := natssink.Connect(config.NATSURL)
		if err != nil {
			_ = outputs.Close(ctx)

			return nil, fmt.Errorf("failed to connect to nats: %w", err)
		}

		outputs.closers = append(outputs.closers, func(context.Context) error { return conn.Drain() })

		publishers = append(publishers, natssink.NewSink(conn, config.NATSSubject, logger))
	}

	if len(publishers) == 1 {
		outputs.Publisher = bus
	} else {
		outputs.Publisher = eventbus.NewFanout(logger, publishers...)
	}

	return outputs, nil
}
