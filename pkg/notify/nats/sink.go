// Package nats provides an event sink that publishes WFM events on NATS subjects.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pipecrm/wfm/pkg/eventbus"
	"github.com/pipecrm/wfm/pkg/events"
)

// DefaultSubjectPrefix is prepended to the event type to build the subject.
const DefaultSubjectPrefix = "wfm.events"

// Sink publishes each event on "<prefix>.<event type>", with the routing key and type as headers.
type Sink struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

func NewSink(conn *nats.Conn, prefix string, logger *slog.Logger) *Sink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	return &Sink{conn: conn, prefix: prefix, logger: logger.With("module", "nats_sink")}
}

// Connect dials NATS with reconnects enabled.
func Connect(url string) (*nats.Conn, error) {
	if url == "" {
		return nil, errors.New("nats url is required")
	}

	conn, err := nats.Connect(url,
		nats.Name("wfm"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return conn, nil
}

// Subject returns the subject an event type is published on.
func (s *Sink) Subject(eventType events.EventType) string {
	return s.prefix + "." + string(eventType)
}

func (s *Sink) Publish(ctx context.Context, key string, event eventbus.Event) error {
	err := ctx.Err()
	if err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := nats.NewMsg(s.Subject(event.GetType()))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, event.GetID())

	for k, v := range eventbus.Metadata(ctx, key, event) {
		msg.Header.Set(k, v)
	}

	err = s.conn.PublishMsg(msg)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", msg.Subject, err)
	}

	s.logger.DebugContext(ctx, "event published", "subject", msg.Subject, "key", key)

	return nil
}
