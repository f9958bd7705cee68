package history

import (
	"context"
	"log/slog"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart EventType = "start"
	EventStop  EventType = "stop"
	EventExit  EventType = "exit"
)

// Event is one script lifecycle transition exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Script     string    `json:"script"`
	PID        int       `json:"pid"`
	ExitErr    string    `json:"exit_err,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// SendTimeout bounds each sink delivery made by Emit.
const SendTimeout = 5 * time.Second

// Emit delivers e to every sink. Failures are logged and otherwise ignored so
// that history export never affects supervision.
func Emit(logger *slog.Logger, sinks []Sink, e Event) {
	if len(sinks) == 0 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	for _, s := range sinks {
		ctx, cancel := context.WithTimeout(context.Background(), SendTimeout)
		if err := s.Send(ctx, e); err != nil {
			logger.Warn("history sink failed", "script", e.Script, "event", e.Type, "error", err)
		}
		cancel()
	}
}

// NullString maps an empty string to nil for nullable SQL columns.
func NullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
