package history

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type failingSink struct{}

func (failingSink) Send(context.Context, Event) error { return errors.New("boom") }

func TestLogged_SwallowsAndLogs(t *testing.T) {
	var buf bytes.Buffer
	l := Logged{Sink: failingSink{}, Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	if err := l.Send(context.Background(), Event{Type: EventFailed, Country: "mx"}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if !strings.Contains(buf.String(), "boom") || !strings.Contains(buf.String(), "country=mx") {
		t.Fatalf("expected warning in log, got %q", buf.String())
	}
	if err := (Logged{}).Send(context.Background(), Event{}); err != nil {
		t.Fatalf("nil sink: %v", err)
	}
}

func TestMemory_DrainOrderAndCapacity(t *testing.T) {
	m := NewMemory(2)
	ctx := context.Background()
	now := time.Now()
	_ = m.Send(ctx, Event{Type: EventSkipped, OccurredAt: now})
	_ = m.Send(ctx, Event{Type: EventSucceeded, OccurredAt: now})
	_ = m.Send(ctx, Event{Type: EventFailed, OccurredAt: now})

	got := m.Drain()
	if len(got) != 2 || got[0].Type != EventSkipped || got[1].Type != EventSucceeded {
		t.Fatalf("unexpected events %+v", got)
	}
	if len(m.Drain()) != 0 {
		t.Fatalf("expected drained buffer")
	}
}
