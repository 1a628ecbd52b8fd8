package kafka

import (
	"context"
	"errors"

	"github.com/pipecrm/wfm/pkg/eventbus"
	"github.com/pipecrm/wfm/pkg/events"
	"github.com/pipecrm/wfm/pkg/otelhelper"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
)

func (k *kafkaEventBus) consume(ctx context.Context) {
	for {
		message, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				k.logger.InfoContext(ctx, "Stopping consumer", "reason", err)

				return
			}

			k.logger.ErrorContext(ctx, "failed to fetch message", "error", err)

			continue
		}

		k.handleMessage(ctx, message)

		err = k.reader.CommitMessages(ctx, message)
		if err != nil {
			k.logger.ErrorContext(ctx, "Failed to commit message", "error", err)
		}
	}
}

// handleMessage dispatches one message. Failures are logged and the message is still committed:
// notification consumers never hold back the partition of an entity.
func (k *kafkaEventBus) handleMessage(ctx context.Context, message kafkago.Message) {
	metadata := headerMap(message.Headers)
	msgCtx, eventType := eventbus.FromMetadata(ctx, metadata)

	msgCtx, span := otelhelper.StartSpan(msgCtx, k.tracer, "wfm.event consume",
		attribute.String("kafka.key", string(message.Key)),
		attribute.String("kafka.topic", message.Topic),
		attribute.String(otelhelper.EventTypeKey, string(eventType)),
		attribute.String(otelhelper.EventIDKey, metadata[events.EventIDMetadataKey]),
	)
	defer span.End()

	handled, err := k.handlers.Dispatch(msgCtx, eventType, message.Value)
	if err != nil {
		k.logger.ErrorContext(msgCtx, "Failed to handle event", "event_type", eventType, "poison", errors.Is(err, eventbus.ErrPoisonMessage), "error", err)
		otelhelper.SetError(span, err)

		return
	}

	if !handled {
		k.logger.DebugContext(msgCtx, "No handler found for event type", "event_type", eventType)

		return
	}

	span.AddEvent("event_handled")
}
