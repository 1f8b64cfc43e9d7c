package history

import (
	"context"
	"log/slog"
	"time"
)

// EventType is the outcome of one extractor invocation.
type EventType string

const (
	EventSkipped   EventType = "skipped"
	EventContended EventType = "contended"
	EventSucceeded EventType = "succeeded"
	EventFailed    EventType = "failed"
)

// Event is exported to analytics systems after every invocation.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Country    string    `json:"country"`
	Rows       int64     `json:"rows"`
	LastRun    string    `json:"last_run"`
	Error      string    `json:"error,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }

// Logged wraps a sink so that failures are logged and never returned.
type Logged struct {
	Sink   Sink
	Logger *slog.Logger
}

func (l Logged) Send(ctx context.Context, e Event) error {
	if l.Sink == nil {
		return nil
	}
	if err := l.Sink.Send(ctx, e); err != nil {
		logger := l.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("History event not recorded", "country", e.Country, "type", e.Type, "error", err)
	}
	return nil
}

// Memory buffers up to capacity events and drops the rest.
type Memory struct {
	events chan Event
}

func NewMemory(capacity int) *Memory {
	return &Memory{events: make(chan Event, capacity)}
}

func (m *Memory) Send(_ context.Context, e Event) error {
	select {
	case m.events <- e:
	default:
	}
	return nil
}

// Drain returns the buffered events in arrival order.
func (m *Memory) Drain() []Event {
	var out []Event
	for {
		select {
		case e := <-m.events:
			out = append(out, e)
		default:
			return out
		}
	}
}
