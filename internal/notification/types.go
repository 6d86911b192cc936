package notification

import (
	"time"

	"github.com/clinsight/platform/internal/rules"
)

// Channel represents a delivery channel
type Channel string

const (
	ChannelConsole Channel = "console"
	ChannelWebhook Channel = "webhook"
)

// Status represents notification delivery status
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Notification is one outbound message about an alert transition
type Notification struct {
	ID       string         `json:"id"`
	Channel  Channel        `json:"channel"`
	Severity rules.Severity `json:"severity"`
	Status   Status         `json:"status"`

	// Content
	Subject string `json:"subject"`
	Body    string `json:"body"`

	// Provenance
	AlertID   string `json:"alert_id"`
	RuleID    string `json:"rule_id"`
	EntityKey string `json:"entity_key"`
	Action    string `json:"action"`
	EventID   string `json:"event_id"`

	// Retry info
	RetryCount   int    `json:"retry_count"`
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

// Stats summarizes dispatcher activity
type Stats struct {
	TotalSent   int64                    `json:"total_sent"`
	TotalFailed int64                    `json:"total_failed"`
	ByChannel   map[Channel]int64        `json:"by_channel"`
	BySeverity  map[rules.Severity]int64 `json:"by_severity"`
}

var severityOrder = map[rules.Severity]int{
	rules.SeverityLow:      1,
	rules.SeverityMedium:   2,
	rules.SeverityHigh:     3,
	rules.SeverityCritical: 4,
}

// meetsMinSeverity reports whether severity is at or above the threshold
func meetsMinSeverity(severity, min rules.Severity) bool {
	return severityOrder[severity] >= severityOrder[min]
}
