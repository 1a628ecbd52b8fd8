package eventbus

import (
	"context"
	"errors"
	"log/slog"
)

// Fanout publishes every event to all configured sinks. A failing sink does not stop the others.
type Fanout struct {
	logger     *slog.Logger
	publishers []EventPublisher
}

func NewFanout(logger *slog.Logger, publishers ...EventPublisher) *Fanout {
	return &Fanout{logger: logger, publishers: publishers}
}

func (f *Fanout) Publish(ctx context.Context, key string, event Event) error {
	var errs []error

	for _, publisher := range f.publishers {
		err := publisher.Publish(ctx, key, event)
		if err != nil {
			f.logger.WarnContext(ctx, "event sink rejected event", "event_type", event.GetType(), "key", key, "error", err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Discard is a publisher that drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, string, Event) error { return nil }
