package internal

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsight/platform/internal/alert"
	"github.com/clinsight/platform/internal/dqi"
	"github.com/clinsight/platform/internal/evaluation"
	"github.com/clinsight/platform/internal/insight"
	"github.com/clinsight/platform/internal/rules"
	"github.com/clinsight/platform/internal/shared/config"
	"github.com/clinsight/platform/internal/shared/events"
	"github.com/clinsight/platform/internal/shared/types"
	"github.com/clinsight/platform/internal/signal"
)

type platformFixture struct {
	signals *signal.MemoryRepository
	history *dqi.MemoryHistory
	alerts  *alert.MemoryStore
	bus     *events.MemoryBus
	engine  *alert.Engine
	service *evaluation.Service
}

func newPlatformFixture(t *testing.T) *platformFixture {
	t.Helper()

	scoring := config.ScoringConfig{
		QueryAgedDays:    21,
		QueryOverdueDays: 30,
		EscalationAfter:  7 * 24 * time.Hour,
		DefaultCooldown:  24 * time.Hour,
	}

	signals := signal.NewMemoryRepository(signal.BucketThresholds{
		AgedDays:    scoring.QueryAgedDays,
		OverdueDays: scoring.QueryOverdueDays,
	})
	history := dqi.NewMemoryHistory()
	alerts := alert.NewMemoryStore()
	bus := events.NewMemoryBus(zerolog.Nop())
	evaluator := rules.NewEvaluator(rules.BuiltinCatalog(scoring))
	engine := alert.NewEngine(alerts, evaluator, bus, zerolog.Nop())

	return &platformFixture{
		signals: signals,
		history: history,
		alerts:  alerts,
		bus:     bus,
		engine:  engine,
		service: evaluation.NewService(signals, history, evaluator, engine, bus, 4, zerolog.Nop()),
	}
}

// TestAlertLifecycleWorkflow drives the full pipeline: ingest degraded
// signals, evaluate, acknowledge the raised alert and resolve it.
func TestAlertLifecycleWorkflow(t *testing.T) {
	fx := newPlatformFixture(t)
	ctx := context.Background()

	// 1. Ingest overdue queries for one site
	opened := time.Now().UTC().Add(-35 * 24 * time.Hour)
	var records []signal.Record
	for _, key := range []string{"Q-1", "Q-2", "Q-3", "Q-4"} {
		records = append(records, signal.Record{
			StudyID:    "ST-001",
			SiteID:     "S01",
			PatientID:  "P001",
			Type:       signal.RecordTypeOpenQuery,
			NaturalKey: key,
			ObservedAt: time.Now().UTC(),
			OpenedAt:   &opened,
		})
	}
	result, err := fx.signals.UpsertRecords(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Inserted)

	// 2. Run an evaluation tick
	report, err := fx.service.RunTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Greater(t, report.Created, 0)

	// The score landed in history
	entity := types.SiteRef("ST-001", "S01")
	score, err := fx.history.Latest(ctx, entity)
	require.NoError(t, err)
	assert.Less(t, score.SubScores.Queries, 100.0)

	// Overdue queries must raise the overdue rule
	open, _, err := fx.alerts.List(ctx, alert.ListFilter{Entity: entity.Key(), State: alert.StateOpen})
	require.NoError(t, err)
	var overdue *alert.Alert
	for _, a := range open {
		if a.RuleID == rules.RuleQueryOverdue {
			overdue = a
		}
	}
	require.NotNil(t, overdue, "overdue queries must raise the overdue rule")
	assert.Equal(t, rules.SeverityHigh, overdue.Severity)

	// 3. Acknowledge
	acked, err := fx.engine.Acknowledge(ctx, overdue.ID, "cra.jones")
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)
	assert.Equal(t, alert.StateOpen, acked.State, "acknowledgement does not change state")

	// 4. Resolve
	resolved, err := fx.engine.Resolve(ctx, overdue.ID, "cra.jones", "queries closed with site")
	require.NoError(t, err)
	assert.Equal(t, alert.StateResolved, resolved.State)

	// The action log tells the whole story in order
	kinds := make([]alert.ActionKind, 0, len(resolved.Actions))
	for _, action := range resolved.Actions {
		kinds = append(kinds, action.Kind)
	}
	assert.Equal(t, []alert.ActionKind{
		alert.ActionCreated,
		alert.ActionAcknowledged,
		alert.ActionResolved,
	}, kinds)

	// 5. A resolved alert does not block a fresh one for the same rule
	_, err = fx.service.RunTick(ctx)
	require.NoError(t, err)
	open, _, err = fx.alerts.List(ctx, alert.ListFilter{Entity: entity.Key(), State: alert.StateOpen})
	require.NoError(t, err)
	found := false
	for _, a := range open {
		if a.RuleID == rules.RuleQueryOverdue {
			found = true
		}
	}
	assert.True(t, found, "the unchanged finding re-raises after manual resolution")
}

// TestScoreTrendAcrossTicks verifies that repeated ticks build a usable trend
// and that worsening data moves the composite down.
func TestScoreTrendAcrossTicks(t *testing.T) {
	fx := newPlatformFixture(t)
	ctx := context.Background()
	entity := types.SiteRef("ST-002", "S05")

	fresh := time.Now().UTC().Add(-2 * 24 * time.Hour)
	_, err := fx.signals.UpsertRecords(ctx, []signal.Record{{
		StudyID:    "ST-002",
		SiteID:     "S05",
		PatientID:  "P010",
		Type:       signal.RecordTypeOpenQuery,
		NaturalKey: "Q-10",
		ObservedAt: time.Now().UTC(),
		OpenedAt:   &fresh,
	}})
	require.NoError(t, err)

	_, err = fx.service.RunTick(ctx)
	require.NoError(t, err)

	// New aged queries arrive between ticks
	aged := time.Now().UTC().Add(-25 * 24 * time.Hour)
	_, err = fx.signals.UpsertRecords(ctx, []signal.Record{
		{StudyID: "ST-002", SiteID: "S05", PatientID: "P010", Type: signal.RecordTypeOpenQuery, NaturalKey: "Q-11", ObservedAt: time.Now().UTC(), OpenedAt: &aged},
		{StudyID: "ST-002", SiteID: "S05", PatientID: "P011", Type: signal.RecordTypeOpenQuery, NaturalKey: "Q-12", ObservedAt: time.Now().UTC(), OpenedAt: &aged},
	})
	require.NoError(t, err)

	_, err = fx.service.RunTick(ctx)
	require.NoError(t, err)

	trend, err := fx.history.Trend(ctx, entity, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, trend, 2)
	assert.Equal(t, int64(1), trend[0].Seq, "trend is oldest first")
	assert.Less(t, trend[1].Composite, trend[0].Composite, "aged queries pull the composite down")

	deltas := dqi.TrendDelta(trend)
	require.Len(t, deltas, 1)
	assert.Negative(t, deltas[0])
}

// TestInsightCacheAcrossDataVersions ties the insight gateway to signal
// ingestion: the cache holds until new data bumps the entity's version.
func TestInsightCacheAcrossDataVersions(t *testing.T) {
	fx := newPlatformFixture(t)
	ctx := context.Background()
	entity := types.SiteRef("ST-003", "S09")

	opened := time.Now().UTC().Add(-10 * 24 * time.Hour)
	seed := func(key string) {
		_, err := fx.signals.UpsertRecords(ctx, []signal.Record{{
			StudyID:    "ST-003",
			SiteID:     "S09",
			PatientID:  "P020",
			Type:       signal.RecordTypeOpenQuery,
			NaturalKey: key,
			ObservedAt: time.Now().UTC(),
			OpenedAt:   &opened,
		}})
		require.NoError(t, err)
	}
	seed("Q-20")

	calls := 0
	generator := insight.GeneratorFunc(func(ctx context.Context, req insight.GenerationRequest) (string, error) {
		calls++
		return "summary", nil
	})
	gateway := insight.NewGateway(insight.NewMemoryCache(), generator, fx.signals, fx.history, time.Hour, zerolog.Nop())

	first, err := gateway.GetOrGenerate(ctx, "Why is quality dropping?", entity)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := gateway.GetOrGenerate(ctx, "  why IS quality  dropping? ", entity)
	require.NoError(t, err)
	assert.True(t, second.Cached, "normalized repeats hit the cache")
	assert.Equal(t, 1, calls)

	// New signal data bumps the version and invalidates the fingerprint
	seed("Q-21")
	third, err := gateway.GetOrGenerate(ctx, "Why is quality dropping?", entity)
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, 2, calls)
	assert.Greater(t, third.DataVersion, first.DataVersion)
}
