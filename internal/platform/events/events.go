// Package events publishes domain events to a message broker.
package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Message is a broker-neutral event envelope. Key groups messages that
// must stay ordered, e.g. all events of one appointment.
type Message struct {
	ID         string
	Type       string
	Key        string
	Payload    []byte
	OccurredAt time.Time
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Noop drops every message.
type Noop struct{}

func (Noop) Publish(context.Context, Message) error { return nil }
func (Noop) Close() error                           { return nil }

// LogPublisher writes messages to the log instead of a broker. It is used
// when no brokers are configured so event flow stays visible in development.
type LogPublisher struct {
	Logger zerolog.Logger
}

func (p LogPublisher) Publish(_ context.Context, msg Message) error {
	p.Logger.Info().
		Str("event_id", msg.ID).
		Str("event_type", msg.Type).
		Str("key", msg.Key).
		RawJSON("payload", msg.Payload).
		Msg("event")
	return nil
}

func (LogPublisher) Close() error { return nil }
