package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsight/platform/internal/rules"
	"github.com/clinsight/platform/internal/shared/config"
	"github.com/clinsight/platform/internal/shared/events"
	"github.com/clinsight/platform/internal/shared/types"
)

type engineFixture struct {
	engine *Engine
	store  *MemoryStore
	bus    *events.MemoryBus
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	store := NewMemoryStore()
	bus := events.NewMemoryBus(zerolog.Nop())
	catalog := rules.BuiltinCatalog(config.ScoringConfig{
		QueryAgedDays:   21,
		EscalationAfter: 7 * 24 * time.Hour,
		DefaultCooldown: 24 * time.Hour,
	})
	return &engineFixture{
		engine: NewEngine(store, rules.NewEvaluator(catalog), bus, zerolog.Nop()),
		store:  store,
		bus:    bus,
	}
}

func tickFinding(at time.Time) rules.Finding {
	f := testFinding()
	f.Timestamp = at
	return f
}

func eventTypes(bus *events.MemoryBus) []string {
	var out []string
	for _, e := range bus.Published() {
		out = append(out, e.Type)
	}
	return out
}

func TestTickCreatesAlertThenDeduplicates(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()
	entity := types.SiteRef("ST-001", "S01")
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	outcome, err := fx.engine.ProcessTick(ctx, entity, []rules.Finding{tickFinding(t0)}, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Created)

	// Same finding on the next tick: no second alert
	t1 := t0.Add(time.Hour)
	outcome, err = fx.engine.ProcessTick(ctx, entity, []rules.Finding{tickFinding(t1)}, t1)
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Created)
	assert.Equal(t, 1, outcome.Recurred)

	alerts, total, err := fx.store.List(ctx, ListFilter{Entity: entity.Key()})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, StateOpen, alerts[0].State)
	assert.Equal(t, t1, alerts[0].LastEvaluatedAt)

	assert.Equal(t, []string{events.TypeAlertCreated}, eventTypes(fx.bus))
}

func TestPersistentFindingEscalatesExactlyOnce(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()
	entity := types.SiteRef("ST-001", "S01")
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := fx.engine.ProcessTick(ctx, entity, []rules.Finding{tickFinding(t0)}, t0)
	require.NoError(t, err)

	// Recurring for eight days, past the seven-day escalation threshold
	t8 := t0.Add(8 * 24 * time.Hour)
	outcome, err := fx.engine.ProcessTick(ctx, entity, []rules.Finding{tickFinding(t8)}, t8)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Escalated)

	// Still recurring: stays escalated, no second escalation
	t9 := t0.Add(9 * 24 * time.Hour)
	outcome, err = fx.engine.ProcessTick(ctx, entity, []rules.Finding{tickFinding(t9)}, t9)
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Escalated)
	assert.Equal(t, 1, outcome.Recurred)

	alerts, _, err := fx.store.List(ctx, ListFilter{Entity: entity.Key()})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, StateEscalated, a.State)

	escalations := 0
	for _, rec := range a.Actions {
		if rec.Kind == ActionEscalated {
			escalations++
		}
	}
	assert.Equal(t, 1, escalations, "exactly one escalation action record")

	assert.Equal(t, []string{events.TypeAlertCreated, events.TypeAlertEscalated}, eventTypes(fx.bus))
}

func TestVanishedFindingAutoResolvesAfterGrace(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()
	entity := types.SiteRef("ST-001", "S01")
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := fx.engine.ProcessTick(ctx, entity, []rules.Finding{tickFinding(t0)}, t0)
	require.NoError(t, err)

	// Finding gone, but grace period (2x24h cooldown) not yet over
	t1 := t0.Add(24 * time.Hour)
	outcome, err := fx.engine.ProcessTick(ctx, entity, nil, t1)
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.AutoResolved)

	// Past the grace period
	t2 := t0.Add(49 * time.Hour)
	outcome, err = fx.engine.ProcessTick(ctx, entity, nil, t2)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.AutoResolved)

	alerts, _, err := fx.store.List(ctx, ListFilter{Entity: entity.Key()})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, StateAutoClosed, alerts[0].State, "never acknowledged, so auto-closed")

	// A later tick with the finding back opens a fresh alert
	t3 := t2.Add(time.Hour)
	outcome, err = fx.engine.ProcessTick(ctx, entity, []rules.Finding{tickFinding(t3)}, t3)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Created)
}

func TestAcknowledgedAlertResolvesInsteadOfAutoClosing(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()
	entity := types.SiteRef("ST-001", "S01")
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := fx.engine.ProcessTick(ctx, entity, []rules.Finding{tickFinding(t0)}, t0)
	require.NoError(t, err)

	alerts, _, err := fx.store.List(ctx, ListFilter{Entity: entity.Key()})
	require.NoError(t, err)
	_, err = fx.engine.Acknowledge(ctx, alerts[0].ID, "cra.smith")
	require.NoError(t, err)

	t2 := t0.Add(49 * time.Hour)
	_, err = fx.engine.ProcessTick(ctx, entity, nil, t2)
	require.NoError(t, err)

	a, err := fx.store.FindByID(ctx, alerts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, StateResolved, a.State)
	assert.Equal(t, "cra.smith", a.AcknowledgedBy)
}

func TestAcknowledgeEmitsEvent(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()
	entity := types.SiteRef("ST-001", "S01")
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := fx.engine.ProcessTick(ctx, entity, []rules.Finding{tickFinding(t0)}, t0)
	require.NoError(t, err)

	alerts, _, err := fx.store.List(ctx, ListFilter{Entity: entity.Key()})
	require.NoError(t, err)

	a, err := fx.engine.Acknowledge(ctx, alerts[0].ID, "cra.smith")
	require.NoError(t, err)
	assert.True(t, a.Acknowledged)

	// Every manual transition reaches the egress stream, acknowledgements
	// included
	assert.Equal(t, []string{events.TypeAlertCreated, events.TypeAlertAcknowledged}, eventTypes(fx.bus))
}

func TestManualResolveEmitsEventAndGuardsDoubleResolve(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()
	entity := types.SiteRef("ST-001", "S01")
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := fx.engine.ProcessTick(ctx, entity, []rules.Finding{tickFinding(t0)}, t0)
	require.NoError(t, err)

	alerts, _, err := fx.store.List(ctx, ListFilter{Entity: entity.Key()})
	require.NoError(t, err)

	a, err := fx.engine.Resolve(ctx, alerts[0].ID, "dm.jones", "queries cleaned up")
	require.NoError(t, err)
	assert.Equal(t, StateResolved, a.State)

	_, err = fx.engine.Resolve(ctx, alerts[0].ID, "dm.jones", "again")
	require.Error(t, err, "resolving a resolved alert is rejected")

	assert.Equal(t, []string{events.TypeAlertCreated, events.TypeAlertResolved}, eventTypes(fx.bus))
}

func TestConcurrentTicksCreateOneAlert(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()
	entity := types.SiteRef("ST-001", "S01")
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.engine.ProcessTick(ctx, entity, []rules.Finding{tickFinding(t0)}, t0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, total, err := fx.store.List(ctx, ListFilter{Entity: entity.Key()})
	require.NoError(t, err)
	assert.Equal(t, 1, total, "per-entity serialization keeps the dedup invariant")
}

func TestMultipleRulesYieldDistinctAlerts(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()
	entity := types.SiteRef("ST-001", "S01")
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	scoreFinding := tickFinding(t0)
	queryFinding := rules.Finding{
		RuleID:    rules.RuleQueryAged,
		Entity:    entity,
		Severity:  rules.SeverityMedium,
		Timestamp: t0,
		Measured:  12,
	}

	outcome, err := fx.engine.ProcessTick(ctx, entity, []rules.Finding{scoreFinding, queryFinding}, t0)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Created, "one alert per (rule, entity)")
}
