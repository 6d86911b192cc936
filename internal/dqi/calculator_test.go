package dqi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/clinsight/platform/internal/shared/errors"
	"github.com/clinsight/platform/internal/shared/types"
	"github.com/clinsight/platform/internal/signal"
)

func healthySnapshot() *signal.Snapshot {
	return &signal.Snapshot{
		Entity:          types.SiteRef("ST-001", "S01"),
		Timestamp:       time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		DataVersion:     3,
		FieldsExpected:  200,
		FieldsMissing:   0,
		QueriesTotal:    0,
		VisitsExpected:  40,
		VisitsCompleted: 40,
		FormsTotal:      40,
		FormsVerified:   40,
		CodableTotal:    60,
		CodingOpen:      0,
	}
}

func TestComputePerfectSnapshot(t *testing.T) {
	score, err := Compute(healthySnapshot())
	require.NoError(t, err)

	assert.Equal(t, 100.0, score.SubScores.Missing)
	assert.Equal(t, 100.0, score.SubScores.Queries)
	assert.Equal(t, 100.0, score.SubScores.Visits)
	assert.Equal(t, 100.0, score.SubScores.Verification)
	assert.Equal(t, 100.0, score.SubScores.Coding)
	assert.Equal(t, 100.0, score.Composite)
	assert.Equal(t, CategoryExcellent, score.Category)
}

func TestComputeDeterministic(t *testing.T) {
	snap := healthySnapshot()
	snap.FieldsMissing = 37
	snap.QueriesTotal = 18
	snap.QueriesOpen = 11
	snap.QueriesAged = 5
	snap.QueriesOverdue = 2
	snap.VisitsCompleted = 31
	snap.FormsVerified = 22
	snap.CodingOpen = 13

	first, err := Compute(snap)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		again, err := Compute(snap)
		require.NoError(t, err)
		assert.Equal(t, first, again, "identical snapshot must yield an identical score")
	}
}

func TestCompositeIsWeightedSum(t *testing.T) {
	snap := healthySnapshot()
	snap.FieldsMissing = 50
	snap.QueriesTotal = 10
	snap.QueriesOpen = 8
	snap.QueriesAged = 4
	snap.QueriesOverdue = 1
	snap.FormsVerified = 25

	score, err := Compute(snap)
	require.NoError(t, err)

	expected := score.SubScores.Missing*WeightMissing +
		score.SubScores.Queries*WeightQueries +
		score.SubScores.Visits*WeightVisits +
		score.SubScores.Verification*WeightVerification +
		score.SubScores.Coding*WeightCoding

	assert.InDelta(t, expected, score.Composite, 0.01)
	assert.GreaterOrEqual(t, score.Composite, 0.0)
	assert.LessOrEqual(t, score.Composite, 100.0)
}

func TestCategoryBoundaries(t *testing.T) {
	cases := []struct {
		composite float64
		want      Category
	}{
		{100, CategoryExcellent},
		{90, CategoryExcellent}, // lower bound inclusive
		{89.99, CategoryGood},
		{75, CategoryGood},
		{74.99, CategoryFair},
		{60, CategoryFair},
		{59.99, CategoryPoor},
		{45, CategoryPoor},
		{44.99, CategoryCritical},
		{0, CategoryCritical},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, CategoryOf(tc.composite), "composite %.2f", tc.composite)
	}
}

func TestAgedQueriesDropQuerySubScore(t *testing.T) {
	// Site with 12 queries all aged past the first threshold but not overdue
	snap := healthySnapshot()
	snap.QueriesTotal = 12
	snap.QueriesOpen = 12
	snap.QueriesAged = 12
	snap.QueriesOverdue = 0

	score, err := Compute(snap)
	require.NoError(t, err)

	fresh := healthySnapshot()
	fresh.QueriesTotal = 12
	fresh.QueriesOpen = 12
	freshScore, err := Compute(fresh)
	require.NoError(t, err)

	assert.Less(t, score.SubScores.Queries, freshScore.SubScores.Queries,
		"aged queries must penalize more than fresh ones")
	assert.Less(t, score.SubScores.Queries, 50.0)
}

func TestOverdueWorseThanAged(t *testing.T) {
	aged := healthySnapshot()
	aged.QueriesTotal = 10
	aged.QueriesOpen = 10
	aged.QueriesAged = 10

	overdue := healthySnapshot()
	overdue.QueriesTotal = 10
	overdue.QueriesOpen = 10
	overdue.QueriesAged = 10
	overdue.QueriesOverdue = 10

	agedScore, err := Compute(aged)
	require.NoError(t, err)
	overdueScore, err := Compute(overdue)
	require.NoError(t, err)

	assert.Less(t, overdueScore.SubScores.Queries, agedScore.SubScores.Queries)
	assert.Equal(t, 0.0, overdueScore.SubScores.Queries,
		"every query open and overdue is the worst case")
}

func TestUnscheduledVisitsCapAt100(t *testing.T) {
	snap := healthySnapshot()
	snap.VisitsExpected = 10
	snap.VisitsCompleted = 13 // unscheduled visits

	score, err := Compute(snap)
	require.NoError(t, err)
	assert.Equal(t, 100.0, score.SubScores.Visits)
}

func TestEmptyDenominatorsScoreFull(t *testing.T) {
	snap := &signal.Snapshot{
		Entity:    types.PatientRef("ST-001", "S01", "P001"),
		Timestamp: time.Now().UTC(),
	}

	score, err := Compute(snap)
	require.NoError(t, err)
	assert.Equal(t, 100.0, score.Composite, "an entity with no signals yet scores clean")
}

func TestMalformedSnapshotRejected(t *testing.T) {
	negative := healthySnapshot()
	negative.FieldsMissing = -1

	_, err := Compute(negative)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidSignal)

	inconsistent := healthySnapshot()
	inconsistent.QueriesTotal = 5
	inconsistent.QueriesOpen = 9

	_, err = Compute(inconsistent)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidSignal)

	appErr, ok := err.(*apperrors.AppError)
	require.True(t, ok)
	assert.Contains(t, appErr.Details, "queries_open")
	assert.Equal(t, "site:ST-001:S01", appErr.Details["entity"])
}

func TestTrendDelta(t *testing.T) {
	trend := []Score{
		{Composite: 92},
		{Composite: 88},
		{Composite: 81},
	}

	deltas := TrendDelta(trend)
	require.Len(t, deltas, 2)
	assert.Equal(t, -4.0, deltas[0])
	assert.Equal(t, -7.0, deltas[1])

	assert.Nil(t, TrendDelta(trend[:1]))
}
