package dqi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/clinsight/platform/internal/shared/errors"
	"github.com/clinsight/platform/internal/shared/types"
)

func recordedScore(t *testing.T, h History, ref types.EntityRef, composite float64, at time.Time) *Score {
	t.Helper()
	score := &Score{
		Entity:    ref,
		Timestamp: at,
		Composite: composite,
		Category:  CategoryOf(composite),
	}
	require.NoError(t, h.Record(context.Background(), score))
	return score
}

func TestHistoryAssignsMonotonicSeq(t *testing.T) {
	h := NewMemoryHistory()
	ref := types.SiteRef("ST-001", "S01")
	now := time.Now().UTC()

	first := recordedScore(t, h, ref, 90, now.Add(-2*time.Hour))
	second := recordedScore(t, h, ref, 85, now.Add(-time.Hour))
	third := recordedScore(t, h, ref, 80, now)

	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(2), second.Seq)
	assert.Equal(t, int64(3), third.Seq)

	// A different entity has its own sequence
	other := recordedScore(t, h, types.SiteRef("ST-001", "S02"), 95, now)
	assert.Equal(t, int64(1), other.Seq)
}

func TestHistoryLatest(t *testing.T) {
	h := NewMemoryHistory()
	ref := types.SiteRef("ST-001", "S01")
	now := time.Now().UTC()

	_, err := h.Latest(context.Background(), ref)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	recordedScore(t, h, ref, 90, now.Add(-time.Hour))
	recordedScore(t, h, ref, 72, now)

	latest, err := h.Latest(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, 72.0, latest.Composite)
}

func TestHistoryTrendOldestFirst(t *testing.T) {
	h := NewMemoryHistory()
	ref := types.SiteRef("ST-001", "S01")
	now := time.Now().UTC()

	recordedScore(t, h, ref, 95, now.Add(-40*24*time.Hour)) // outside window
	recordedScore(t, h, ref, 90, now.Add(-10*24*time.Hour))
	recordedScore(t, h, ref, 85, now.Add(-5*24*time.Hour))
	recordedScore(t, h, ref, 80, now)

	trend, err := h.Trend(context.Background(), ref, 30*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, trend, 3)
	assert.Equal(t, 90.0, trend[0].Composite)
	assert.Equal(t, 80.0, trend[2].Composite)
}

func TestHistoryLatestByStudy(t *testing.T) {
	h := NewMemoryHistory()
	now := time.Now().UTC()

	recordedScore(t, h, types.SiteRef("ST-001", "S01"), 90, now.Add(-time.Hour))
	recordedScore(t, h, types.SiteRef("ST-001", "S01"), 82, now)
	recordedScore(t, h, types.SiteRef("ST-001", "S02"), 55, now)
	recordedScore(t, h, types.SiteRef("ST-002", "S01"), 70, now) // other study
	recordedScore(t, h, types.PatientRef("ST-001", "S01", "P001"), 40, now)

	sites, err := h.LatestByStudy(context.Background(), "ST-001")
	require.NoError(t, err)
	require.Len(t, sites, 2, "patients and other studies are excluded")
	assert.Equal(t, 82.0, sites[0].Composite, "only the latest score per site")
	assert.Equal(t, 55.0, sites[1].Composite)
}
