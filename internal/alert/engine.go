package alert

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinsight/platform/internal/rules"
	"github.com/clinsight/platform/internal/shared/errors"
	"github.com/clinsight/platform/internal/shared/events"
	"github.com/clinsight/platform/internal/shared/metrics"
	"github.com/clinsight/platform/internal/shared/types"
)

// Engine owns every alert state transition. Nothing else mutates an alert:
// the HTTP handlers for acknowledge/resolve also go through here, so the
// per-entity single-writer discipline covers human actions too.
type Engine struct {
	store     Store
	evaluator *rules.Evaluator
	bus       events.EventBus
	log       zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per entity key
}

// NewEngine creates a new escalation engine
func NewEngine(store Store, evaluator *rules.Evaluator, bus events.EventBus, log zerolog.Logger) *Engine {
	return &Engine{
		store:     store,
		evaluator: evaluator,
		bus:       bus,
		log:       log.With().Str("component", "escalation").Logger(),
		locks:     make(map[string]*sync.Mutex),
	}
}

// entityLock returns the mutex serializing all writes for one entity
func (e *Engine) entityLock(key string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	return l
}

// TickOutcome summarizes the alert transitions of one entity's tick
type TickOutcome struct {
	Created      int `json:"created"`
	Recurred     int `json:"recurred"`
	Escalated    int `json:"escalated"`
	AutoResolved int `json:"auto_resolved"`
}

// ProcessTick advances alert state for one entity from the findings of one
// evaluation pass. The whole read-evaluate-write sequence runs under the
// entity's lock; two concurrent ticks for the same entity cannot both create
// or both escalate the same alert. Running the same tick twice with
// unchanged findings is a no-op beyond last-evaluated-at.
func (e *Engine) ProcessTick(ctx context.Context, entity types.EntityRef, findings []rules.Finding, now time.Time) (TickOutcome, error) {
	lock := e.entityLock(entity.Key())
	lock.Lock()
	defer lock.Unlock()

	var outcome TickOutcome

	matched := make(map[string]bool)
	for _, finding := range findings {
		matched[finding.RuleID] = true
		if err := e.applyFinding(ctx, finding, now, &outcome); err != nil {
			return outcome, err
		}
	}

	// Alerts whose finding stopped recurring
	active, err := e.store.ActiveForEntity(ctx, entity.Key())
	if err != nil {
		return outcome, err
	}
	for _, a := range active {
		if matched[a.RuleID] {
			continue
		}
		rule, ok := e.evaluator.Rule(a.RuleID)
		if !ok {
			continue // rule withdrawn from the catalog, leave the alert alone
		}
		if now.Sub(a.LastEvaluatedAt) < rule.GracePeriod() {
			continue
		}

		if err := a.AutoResolve(now); err != nil {
			return outcome, err
		}
		if err := e.store.Update(ctx, a); err != nil {
			return outcome, err
		}
		outcome.AutoResolved++
		e.transition(ctx, a, events.TypeAlertAutoResolved, "AutoResolved")
	}

	return outcome, nil
}

func (e *Engine) applyFinding(ctx context.Context, finding rules.Finding, now time.Time, outcome *TickOutcome) error {
	existing, err := e.store.FindActive(ctx, finding.RuleID, finding.Entity.Key())
	if err != nil {
		return err
	}

	if existing == nil {
		a := NewAlert(finding)
		if err := e.store.Create(ctx, a); err != nil {
			return err
		}
		outcome.Created++
		e.transition(ctx, a, events.TypeAlertCreated, "Created")
		return nil
	}

	if err := existing.Recur(now); err != nil {
		return err
	}

	rule, ok := e.evaluator.Rule(finding.RuleID)
	if ok && existing.State == StateOpen && now.Sub(existing.OpenedAt) >= rule.EscalateAfter {
		if err := existing.Escalate(now); err != nil {
			return err
		}
		if err := e.store.Update(ctx, existing); err != nil {
			return err
		}
		outcome.Escalated++
		e.transition(ctx, existing, events.TypeAlertEscalated, "Escalated")
		return nil
	}

	if err := e.store.Update(ctx, existing); err != nil {
		return err
	}
	outcome.Recurred++
	return nil
}

// Acknowledge sets the acknowledged flag by explicit external action
func (e *Engine) Acknowledge(ctx context.Context, id types.ID, actor string) (*Alert, error) {
	a, err := e.mutate(ctx, id, func(a *Alert, now time.Time) error {
		return a.Acknowledge(now, actor)
	})
	if err != nil {
		return nil, err
	}
	e.transition(ctx, a, events.TypeAlertAcknowledged, "Acknowledged")
	return a, nil
}

// Resolve closes an alert by explicit external action
func (e *Engine) Resolve(ctx context.Context, id types.ID, actor, note string) (*Alert, error) {
	var resolved *Alert
	a, err := e.mutate(ctx, id, func(a *Alert, now time.Time) error {
		if err := a.Resolve(now, actor, note); err != nil {
			return err
		}
		resolved = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.transition(ctx, resolved, events.TypeAlertResolved, "Resolved")
	return a, nil
}

// mutate loads, mutates and writes one alert under its entity lock
func (e *Engine) mutate(ctx context.Context, id types.ID, fn func(*Alert, time.Time) error) (*Alert, error) {
	a, err := e.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	lock := e.entityLock(a.Entity.Key())
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock so the version check starts from current state
	a, err = e.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := fn(a, time.Now().UTC()); err != nil {
		// Guard failures are lifecycle violations, not server faults
		return nil, errors.Conflict(err.Error())
	}
	if err := e.store.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// transition records metrics and emits the notification egress event for a
// state change. Event delivery is best-effort: a bus outage must not roll
// back a committed transition, so failures are logged and dropped.
func (e *Engine) transition(ctx context.Context, a *Alert, eventType, action string) {
	metrics.RecordAlertTransition(a.RuleID, action)
	metrics.RecordNotificationEvent(action, string(a.Severity))

	payload := events.NotificationPayload{
		AlertID:   a.ID.String(),
		RuleID:    a.RuleID,
		EntityKey: a.Entity.Key(),
		Severity:  string(a.Severity),
		Action:    action,
		Timestamp: time.Now().UTC(),
	}
	if err := e.bus.Publish(ctx, events.NewEvent(eventType, "escalation-engine", payload)); err != nil {
		e.log.Error().Err(err).
			Str("alert_id", a.ID.String()).
			Str("action", action).
			Msg("failed to publish notification event")
	}
}
