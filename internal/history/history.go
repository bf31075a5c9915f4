package history

import (
	"context"
	"time"
)

// EventType defines the kind of workspace event.
type EventType string

const (
	EventAppCreated   EventType = "app_created"
	EventAppDeleted   EventType = "app_deleted"
	EventReclaim      EventType = "reclaim"
	EventLogCleanup   EventType = "log_cleanup"
	EventPortAssigned EventType = "port_assigned"
	EventPortReleased EventType = "port_released"
)

// Event is a workspace lifecycle or housekeeping event exported to external
// systems. Outcome carries a short status (e.g. "deleted", "quarantined");
// Detail is free-form text such as an error message or a quarantine path.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	UserID     int64     `json:"user_id"`
	AppID      int64     `json:"app_id,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Nop discards events. It is used when no history DSN is configured.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }
