// Package messaging forwards domain events to NATS.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/nexuscrm/approvals/internal/domain/events"
	"github.com/nexuscrm/approvals/internal/domain/ports"
)

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Connect dials NATS with reconnect handlers that log through logger.
func Connect(url string, logger zerolog.Logger) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(
		url,
		nats.Name("approvals"),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info().Msg("NATS connection closed")
		}),
		nats.PingInterval(20*time.Second),
		nats.MaxPingsOutstanding(5),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// Publisher sends every event it is subscribed to on <prefix>.<eventType>.
type Publisher struct {
	conn   Conn
	prefix string
	logger zerolog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(conn Conn, prefix string, logger zerolog.Logger) *Publisher {
	return &Publisher{conn: conn, prefix: prefix, logger: logger}
}

// Subject returns the NATS subject of eventType.
func (p *Publisher) Subject(eventType events.EventType) string {
	if p.prefix == "" {
		return string(eventType)
	}
	return p.prefix + "." + string(eventType)
}

// Attach subscribes the publisher to each event type on bus and returns a
// function that removes every subscription.
func (p *Publisher) Attach(bus ports.EventPublisher, types ...events.EventType) func() {
	unsubs := make([]func(), 0, len(types))
	for _, et := range types {
		et := et
		unsubs = append(unsubs, bus.Subscribe(et, func(ctx context.Context, payload interface{}) error {
			return p.Publish(ctx, et, payload)
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Publish encodes payload as JSON, passing pre-encoded payloads through, and sends it.
func (p *Publisher) Publish(_ context.Context, eventType events.EventType, payload interface{}) error {
	var data []byte
	switch v := payload.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode %s event: %w", eventType, err)
		}
		data = b
	}
	subject := p.Subject(eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	p.logger.Debug().Str("subject", subject).Msg("event published to NATS")
	return nil
}
