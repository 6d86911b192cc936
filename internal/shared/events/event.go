package events

import (
	"time"

	"github.com/google/uuid"
)

// Event types published on the bus.
const (
	TypeAlertCreated      = "alert.created"
	TypeAlertEscalated    = "alert.escalated"
	TypeAlertAcknowledged = "alert.acknowledged"
	TypeAlertResolved     = "alert.resolved"
	TypeAlertAutoResolved = "alert.auto_resolved"
	TypeScoreComputed     = "score.computed"
)

// Event represents a domain event
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Source        string    `json:"source"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`

	// Event data
	Data any `json:"data"`
}

// NewEvent creates a new event with auto-generated ID and timestamp
func NewEvent(eventType, source string, data any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// WithCorrelation sets the correlation ID for request tracing
func (e Event) WithCorrelation(correlationID string) Event {
	e.CorrelationID = correlationID
	return e
}

// NotificationPayload is the egress payload consumed by the external
// delivery collaborator.
type NotificationPayload struct {
	AlertID   string    `json:"alert_id"`
	RuleID    string    `json:"rule_id"`
	EntityKey string    `json:"entity_id"`
	Severity  string    `json:"severity"`
	Action    string    `json:"action"` // Created | Escalated | Acknowledged | Resolved | AutoResolved
	Timestamp time.Time `json:"timestamp"`
}
