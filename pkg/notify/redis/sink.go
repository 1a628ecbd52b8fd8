// Package redis provides an event sink that appends WFM events to a Redis list for background job workers.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pipecrm/wfm/pkg/eventbus"
	"github.com/pipecrm/wfm/pkg/events"
	redis "github.com/redis/go-redis/v9"
)

// DefaultQueue is the list events are pushed to when none is configured.
const DefaultQueue = "wfm:events"

// Envelope is the list item format consumed by job workers.
type Envelope struct {
	ID        string           `json:"id"`
	Key       string           `json:"key"`
	Type      events.EventType `json:"type"`
	Payload   json.RawMessage  `json:"payload"`
	Published time.Time        `json:"published"`
}

// Sink pushes events onto a capped Redis list.
type Sink struct {
	client redis.UniversalClient
	queue  string
	maxLen int64
	logger *slog.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithQueue overrides the list name.
func WithQueue(queue string) Option {
	return func(s *Sink) {
		s.queue = queue
	}
}

// WithMaxLen caps the list length; older entries are trimmed. Zero disables trimming.
func WithMaxLen(maxLen int64) Option {
	return func(s *Sink) {
		s.maxLen = maxLen
	}
}

func NewSink(client redis.UniversalClient, logger *slog.Logger, opts ...Option) *Sink {
	sink := &Sink{
		client: client,
		queue:  DefaultQueue,
		logger: logger.With("module", "redis_sink"),
	}

	for _, opt := range opts {
		opt(sink)
	}

	return sink
}

// Connect opens a client from a redis:// URL and verifies it with a ping.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, errors.New("redis url is required")
	}

	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

func (s *Sink) Publish(ctx context.Context, key string, event eventbus.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	item, err := json.Marshal(Envelope{
		ID:        event.GetID(),
		Key:       key,
		Type:      event.GetType(),
		Payload:   payload,
		Published: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.queue, item)

	if s.maxLen > 0 {
		pipe.LTrim(ctx, s.queue, -s.maxLen, -1)
	}

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to push event to %s: %w", s.queue, err)
	}

	s.logger.DebugContext(ctx, "event queued", "queue", s.queue, "event_type", event.GetType(), "key", key)

	return nil
}
