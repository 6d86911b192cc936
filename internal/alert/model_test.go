package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsight/platform/internal/rules"
	"github.com/clinsight/platform/internal/shared/types"
)

func testFinding() rules.Finding {
	return rules.Finding{
		RuleID:    rules.RuleDQIBelowFair,
		Entity:    types.SiteRef("ST-001", "S01"),
		Severity:  rules.SeverityHigh,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Measured:  52.3,
		Detail:    "composite=52.30 lt 60.00",
	}
}

func TestNewAlertOpensWithCreatedAction(t *testing.T) {
	a := NewAlert(testFinding())

	assert.False(t, a.ID.IsZero())
	assert.Equal(t, StateOpen, a.State)
	assert.False(t, a.Acknowledged)
	require.Len(t, a.Actions, 1)
	assert.Equal(t, ActionCreated, a.Actions[0].Kind)
	assert.Equal(t, "system", a.Actions[0].Actor)
}

func TestEscalationIsMonotonic(t *testing.T) {
	a := NewAlert(testFinding())
	at := a.OpenedAt.Add(8 * 24 * time.Hour)

	require.NoError(t, a.Escalate(at))
	assert.Equal(t, StateEscalated, a.State)
	require.NotNil(t, a.EscalatedAt)

	// Already escalated: a second escalation is a guard violation
	assert.Error(t, a.Escalate(at.Add(time.Hour)))
	assert.Equal(t, StateEscalated, a.State)

	// There is no path back to open
	require.NoError(t, a.Resolve(at.Add(2*time.Hour), "dm.jones", "site retrained"))
	assert.Equal(t, StateResolved, a.State)
	assert.Error(t, a.Escalate(at.Add(3*time.Hour)))
	assert.Error(t, a.Recur(at.Add(3*time.Hour)))
}

func TestAcknowledgeIsOrthogonalToState(t *testing.T) {
	a := NewAlert(testFinding())
	at := a.OpenedAt.Add(time.Hour)

	require.NoError(t, a.Acknowledge(at, "cra.smith"))
	assert.True(t, a.Acknowledged)
	assert.Equal(t, StateOpen, a.State, "acknowledging does not change state")

	assert.Error(t, a.Acknowledge(at.Add(time.Minute), "cra.smith"), "double ack rejected")

	// An acknowledged alert still escalates on schedule
	require.NoError(t, a.Escalate(at.Add(8*24*time.Hour)))
	assert.Equal(t, StateEscalated, a.State)
	assert.True(t, a.Acknowledged)
}

func TestAutoResolveDistinguishesAcknowledged(t *testing.T) {
	ignored := NewAlert(testFinding())
	require.NoError(t, ignored.AutoResolve(ignored.OpenedAt.Add(72*time.Hour)))
	assert.Equal(t, StateAutoClosed, ignored.State, "never-acknowledged alerts auto-close")

	seen := NewAlert(testFinding())
	require.NoError(t, seen.Acknowledge(seen.OpenedAt.Add(time.Hour), "cra.smith"))
	require.NoError(t, seen.AutoResolve(seen.OpenedAt.Add(72*time.Hour)))
	assert.Equal(t, StateResolved, seen.State, "acknowledged alerts resolve")

	last := seen.Actions[len(seen.Actions)-1]
	assert.Equal(t, ActionAutoResolved, last.Kind)
}

func TestActionLogIsAppendOnly(t *testing.T) {
	a := NewAlert(testFinding())
	at := a.OpenedAt

	require.NoError(t, a.Acknowledge(at.Add(time.Hour), "cra.smith"))
	require.NoError(t, a.Escalate(at.Add(8*24*time.Hour)))
	require.NoError(t, a.Resolve(at.Add(9*24*time.Hour), "dm.jones", "fixed"))

	kinds := make([]ActionKind, len(a.Actions))
	for i, rec := range a.Actions {
		kinds[i] = rec.Kind
	}
	assert.Equal(t, []ActionKind{ActionCreated, ActionAcknowledged, ActionEscalated, ActionResolved}, kinds)

	for i := 1; i < len(a.Actions); i++ {
		assert.False(t, a.Actions[i].Timestamp.Before(a.Actions[i-1].Timestamp))
	}
}
