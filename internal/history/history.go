package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart    EventType = "start"
	EventRunning  EventType = "running"
	EventStopping EventType = "stopping"
	EventExit     EventType = "exit"
	EventKill     EventType = "kill"
)

// Record describes the profile's process at the moment of the event.
type Record struct {
	Profile   string    `json:"profile"`
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
	ExitErr   string    `json:"exit_err,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// NewEvent stamps rec with a fresh id and the current UTC time.
func NewEvent(t EventType, rec Record) Event {
	return Event{ID: uuid.NewString(), Type: t, OccurredAt: time.Now().UTC(), Record: rec}
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// DefaultSendTimeout bounds a single Send issued by Dispatch.
const DefaultSendTimeout = 5 * time.Second

// Dispatch delivers e to every sink on its own goroutine so a slow sink never
// holds up the caller. Failures are logged at debug level and dropped.
func Dispatch(sinks []Sink, e Event) {
	for _, s := range sinks {
		go func(s Sink) {
			ctx, cancel := context.WithTimeout(context.Background(), DefaultSendTimeout)
			defer cancel()
			if err := s.Send(ctx, e); err != nil {
				slog.Debug("history sink send failed", "type", e.Type, "profile", e.Record.Profile, "error", err)
			}
		}(s)
	}
}
