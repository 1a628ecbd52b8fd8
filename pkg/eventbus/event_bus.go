// Package eventbus provides the fire-and-forget event sink the WFM engine publishes to.
package eventbus

import (
	"context"
	"errors"
	"sync"

	"github.com/pipecrm/wfm/pkg/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Event is a WFM notification. Every concrete event embeds events.BaseEvent.
type Event interface {
	GetID() string
	GetType() events.EventType
}

// EventPublisher publishes an event under a routing key. Events sharing a key keep their order
// on transports that partition.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a pointer to the decoded concrete event.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
}

// Metadata returns the transport headers of an event: routing key, type, id and the trace context of ctx.
func Metadata(ctx context.Context, key string, event Event) map[string]string {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	carrier[events.EventMetadataKey] = key
	carrier[events.EventTypeMetadataKey] = string(event.GetType())
	carrier[events.EventIDMetadataKey] = event.GetID()

	return carrier
}

// FromMetadata restores the publisher's trace context and returns the event type carried in the headers.
func FromMetadata(ctx context.Context, metadata map[string]string) (context.Context, events.EventType) {
	carrier := propagation.MapCarrier(metadata)

	return otel.GetTextMapPropagator().Extract(ctx, carrier), events.EventType(carrier.Get(events.EventTypeMetadataKey))
}

// ErrPoisonMessage marks a message that can never be handled, so it should be dropped instead of retried.
var ErrPoisonMessage = errors.New("undecodable event")

// Handlers is a concurrency safe registry of handlers keyed by event type.
type Handlers struct {
	mu       sync.RWMutex
	handlers map[events.EventType]EventHandler
}

func NewHandlers() *Handlers {
	return &Handlers{handlers: make(map[events.EventType]EventHandler)}
}

func (h *Handlers) Set(eventType events.EventType, handler EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.handlers[eventType] = handler
}

// Dispatch decodes payload and runs the handler registered for eventType.
// It reports false when no handler is registered. Decoding failures wrap ErrPoisonMessage.
func (h *Handlers) Dispatch(ctx context.Context, eventType events.EventType, payload []byte) (bool, error) {
	h.mu.RLock()
	handler, ok := h.handlers[eventType]
	h.mu.RUnlock()

	if !ok {
		return false, nil
	}

	event, err := events.Decode(eventType, payload)
	if err != nil {
		return true, errors.Join(ErrPoisonMessage, err)
	}

	return true, handler(ctx, event)
}
