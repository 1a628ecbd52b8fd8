package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pipecrm/wfm/pkg/events"
)

// WatermillEventBus publishes WFM events on events.Topic through any watermill transport.
// Message UUIDs are the event ids, so consumers can deduplicate redeliveries.
type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	handlers   *Handlers
	logger     *slog.Logger
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *WatermillEventBus {
	return &WatermillEventBus{
		publisher:  pub,
		subscriber: sub,
		handlers:   NewHandlers(),
		logger:     logger.With("module", "watermill_event_bus"),
	}
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.GetType(), err)
	}

	msg := message.NewMessage(event.GetID(), payload)
	msg.SetContext(ctx)

	for k, v := range Metadata(ctx, key, event) {
		msg.Metadata.Set(k, v)
	}

	return eb.publisher.Publish(events.Topic, msg)
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			eb.handle(ctx, msg)
		}
	}()

	return nil
}

// handle acks handled, unhandled and undecodable messages and nacks handler failures for redelivery.
func (eb *WatermillEventBus) handle(ctx context.Context, msg *message.Message) {
	msgCtx, eventType := FromMetadata(ctx, msg.Metadata)

	handled, err := eb.handlers.Dispatch(msgCtx, eventType, msg.Payload)

	switch {
	case err == nil:
		if !handled {
			eb.logger.DebugContext(msgCtx, "no handler for event", "event_type", eventType)
		}

		msg.Ack()
	case errors.Is(err, ErrPoisonMessage):
		eb.logger.ErrorContext(msgCtx, "dropping undecodable event", "event_type", eventType, "message_id", msg.UUID, "error", err)
		msg.Ack()
	default:
		eb.logger.WarnContext(msgCtx, "event handler failed, requesting redelivery", "event_type", eventType, "message_id", msg.UUID, "error", err)
		msg.Nack()
	}
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.handlers.Set(eventType, handler)

	return nil
}

func (eb *WatermillEventBus) Close() error {
	return errors.Join(eb.publisher.Close(), eb.subscriber.Close())
}
