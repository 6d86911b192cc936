package alert

import (
	"fmt"
	"time"

	"github.com/clinsight/platform/internal/rules"
	"github.com/clinsight/platform/internal/shared/types"
)

// State defines the alert lifecycle state
type State string

const (
	StateOpen       State = "open"
	StateEscalated  State = "escalated"
	StateResolved   State = "resolved"
	StateAutoClosed State = "auto_closed"
)

// Active reports whether the alert still tracks a live issue
func (s State) Active() bool {
	return s == StateOpen || s == StateEscalated
}

// ActionKind classifies an entry in the alert's action log
type ActionKind string

const (
	ActionCreated      ActionKind = "created"
	ActionRecurred     ActionKind = "recurred"
	ActionEscalated    ActionKind = "escalated"
	ActionAcknowledged ActionKind = "acknowledged"
	ActionResolved     ActionKind = "resolved"
	ActionAutoResolved ActionKind = "auto_resolved"
)

// ActionRecord is one append-only entry in an alert's history. The log is
// never rewritten; every state change an alert has seen is replayable from it.
type ActionRecord struct {
	Timestamp time.Time  `json:"timestamp"`
	Kind      ActionKind `json:"kind"`
	Actor     string     `json:"actor"` // human identity or "system"
	Note      string     `json:"note,omitempty"`
}

// Alert is the durable aggregate tracking one recurring finding. At most one
// active alert exists per (rule, entity) pair; the acknowledged flag is
// orthogonal to state and set only by an explicit external action.
type Alert struct {
	ID       types.ID        `json:"id"`
	RuleID   string          `json:"rule_id"`
	Entity   types.EntityRef `json:"entity"`
	Severity rules.Severity  `json:"severity"`
	State    State           `json:"state"`

	Acknowledged   bool   `json:"acknowledged"`
	AcknowledgedBy string `json:"acknowledged_by,omitempty"`

	OpenedAt        time.Time  `json:"opened_at"`
	LastEvaluatedAt time.Time  `json:"last_evaluated_at"`
	EscalatedAt     *time.Time `json:"escalated_at,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`

	// Optimistic concurrency version, bumped by the store on every write
	Version int64 `json:"version"`

	Actions []ActionRecord `json:"actions"`
}

// NewAlert opens a new alert for a finding
func NewAlert(finding rules.Finding) *Alert {
	a := &Alert{
		ID:              types.NewID(),
		RuleID:          finding.RuleID,
		Entity:          finding.Entity,
		Severity:        finding.Severity,
		State:           StateOpen,
		OpenedAt:        finding.Timestamp,
		LastEvaluatedAt: finding.Timestamp,
	}
	a.appendAction(finding.Timestamp, ActionCreated, "system", finding.Detail)
	return a
}

// Recur marks the alert's finding as still present at the given tick
func (a *Alert) Recur(at time.Time) error {
	if !a.State.Active() {
		return fmt.Errorf("cannot record recurrence on a %s alert", a.State)
	}
	a.LastEvaluatedAt = at
	return nil
}

// Escalate advances an open alert whose finding kept recurring past the
// rule's escalation threshold. Escalation is monotonic: once escalated, an
// alert can only move forward to resolved or auto-closed.
func (a *Alert) Escalate(at time.Time) error {
	if a.State != StateOpen {
		return fmt.Errorf("can only escalate an open alert, state is %s", a.State)
	}

	a.State = StateEscalated
	a.EscalatedAt = &at
	a.LastEvaluatedAt = at
	a.appendAction(at, ActionEscalated, "system",
		fmt.Sprintf("unresolved since %s", a.OpenedAt.Format(time.RFC3339)))
	return nil
}

// Acknowledge sets the orthogonal acknowledged flag. It does not change
// state and does not stop scheduled escalation.
func (a *Alert) Acknowledge(at time.Time, actor string) error {
	if !a.State.Active() {
		return fmt.Errorf("cannot acknowledge a %s alert", a.State)
	}
	if a.Acknowledged {
		return fmt.Errorf("alert is already acknowledged")
	}

	a.Acknowledged = true
	a.AcknowledgedBy = actor
	a.appendAction(at, ActionAcknowledged, actor, "")
	return nil
}

// Resolve closes the alert by explicit external action
func (a *Alert) Resolve(at time.Time, actor, note string) error {
	if !a.State.Active() {
		return fmt.Errorf("cannot resolve a %s alert", a.State)
	}

	a.State = StateResolved
	a.ResolvedAt = &at
	a.appendAction(at, ActionResolved, actor, note)
	return nil
}

// AutoResolve closes the alert after its finding stopped recurring for the
// grace period. Alerts someone acknowledged resolve; untouched ones
// auto-close, so the two outcomes stay distinguishable in reporting.
func (a *Alert) AutoResolve(at time.Time) error {
	if !a.State.Active() {
		return fmt.Errorf("cannot auto-resolve a %s alert", a.State)
	}

	if a.Acknowledged {
		a.State = StateResolved
	} else {
		a.State = StateAutoClosed
	}
	a.ResolvedAt = &at
	a.appendAction(at, ActionAutoResolved, "system",
		fmt.Sprintf("finding stopped recurring, last seen %s", a.LastEvaluatedAt.Format(time.RFC3339)))
	return nil
}

func (a *Alert) appendAction(at time.Time, kind ActionKind, actor, note string) {
	a.Actions = append(a.Actions, ActionRecord{
		Timestamp: at,
		Kind:      kind,
		Actor:     actor,
		Note:      note,
	})
}
