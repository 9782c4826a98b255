package domain

import "time"

// EventType names a session-sync telemetry event.
type EventType string

const (
	EventSessionResolved      EventType = "session_resolved"
	EventSessionCleared       EventType = "session_cleared"
	EventProviderError        EventType = "provider_error"
	EventStoreError           EventType = "store_error"
	EventIntegrityWarning     EventType = "integrity_warning"
	EventStaleResultDiscarded EventType = "stale_result_discarded"
)

// Event is a single telemetry record emitted by the session reconciler.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"eventType"`
	Source     string    `json:"source"`
	Subject    string    `json:"subject,omitempty"`
	Email      string    `json:"email,omitempty"`
	Generation uint64    `json:"generation"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
