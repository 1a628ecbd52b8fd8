package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/pipecrm/wfm/pkg/channels/gochannel"
	"github.com/pipecrm/wfm/pkg/channels/kafka"
	"github.com/pipecrm/wfm/pkg/eventbus"
	kafkabus "github.com/pipecrm/wfm/pkg/eventbus/kafka"
	"go.opentelemetry.io/otel/trace"
)

// EventBusConfig selects and configures the event bus every WFM event is published on.
type EventBusConfig struct {
	// Provider is "kafka" (watermill over sarama), "kafka-go" (segmentio/kafka-go) or "memory".
	Provider    string
	Brokers     string
	OTELEnabled bool
}

func (c EventBusConfig) brokers() []string {
	var brokers []string

	for _, broker := range strings.Split(c.Brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}

	return brokers
}

func NewEventBus(config EventBusConfig, tracer trace.Tracer, logger *slog.Logger) (eventbus.EventBus, error) {
	switch config.Provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), kafka.Config{
			Brokers:     config.brokers(),
			OTELEnabled: config.OTELEnabled,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	case "kafka-go":
		bus, err := kafkabus.NewEventBus(logger, tracer, kafkabus.Config{Brokers: config.brokers()})
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka-go event bus: %w", err)
		}

		return bus, nil
	case "memory", "":
		pubSub := gochannel.New(watermill.NewSlogLogger(logger), gochannel.Config{})

		return eventbus.NewWatermillEventBus(pubSub, pubSub, logger), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", config.Provider)
	}
}
