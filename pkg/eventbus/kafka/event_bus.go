// Package kafka provides a segmentio/kafka-go event bus that forwards trace context in message headers.
package kafka

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pipecrm/wfm/pkg/eventbus"
	"github.com/pipecrm/wfm/pkg/events"
	"github.com/pipecrm/wfm/pkg/otelhelper"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
)

// Config selects the brokers, topic and consumer group of the bus.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

type kafkaEventBus struct {
	logger   *slog.Logger
	tracer   trace.Tracer
	writer   *kafkago.Writer
	reader   *kafkago.Reader
	handlers *eventbus.Handlers
}

func NewEventBus(logger *slog.Logger, tracer trace.Tracer, config Config) (eventbus.EventBus, error) {
	if len(config.Brokers) == 0 || (len(config.Brokers) == 1 && config.Brokers[0] == "") {
		return nil, errors.New("no Kafka brokers configured")
	}

	if config.Topic == "" {
		config.Topic = events.Topic
	}

	if config.GroupID == "" {
		config.GroupID = "cg-wfm-event-bus"
	}

	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(config.Brokers...),
		Topic:                  config.Topic,
		Balancer:               &kafkago.Hash{},
		AllowAutoTopicCreation: true,
	}

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: config.Brokers,
		Topic:   config.Topic,
		GroupID: config.GroupID,
	})

	return &kafkaEventBus{
		logger:   logger.With("module", "kafka_event_bus"),
		tracer:   tracer,
		writer:   writer,
		reader:   reader,
		handlers: eventbus.NewHandlers(),
	}, nil
}

func (k *kafkaEventBus) Publish(ctx context.Context, key string, event eventbus.Event) error {
	k.logger.DebugContext(ctx, "Publishing event", "key", key, "event_type", event.GetType(), "event_id", event.GetID())

	message, err := buildMessage(ctx, key, event)
	if err != nil {
		return err
	}

	return k.writer.WriteMessages(context.WithoutCancel(ctx), message)
}

func (k *kafkaEventBus) Subscribe(ctx context.Context) error {
	k.logger.InfoContext(ctx, "Subscribing to events")

	go k.consume(ctx)

	return nil
}

func (k *kafkaEventBus) Close() error {
	return errors.Join(k.writer.Close(), k.reader.Close())
}

func (k *kafkaEventBus) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	k.handlers.Set(eventType, handler)

	return nil
}
