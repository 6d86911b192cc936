package dqi

import (
	"context"
	"time"

	"github.com/clinsight/platform/internal/shared/types"
)

// History is the append-only log of computed scores. Entries are keyed by
// (entity, seq) with a monotonically increasing per-entity sequence; nothing
// is ever updated in place or deleted, so every historical score stays
// reproducible.
type History interface {
	// Record appends the score and assigns its per-entity sequence number
	Record(ctx context.Context, score *Score) error

	// Latest returns the most recent score for the entity, or NotFound
	Latest(ctx context.Context, ref types.EntityRef) (*Score, error)

	// Trend returns scores within the window ending now, oldest first
	Trend(ctx context.Context, ref types.EntityRef, window time.Duration) ([]Score, error)

	// LatestByStudy returns the latest score per site in a study, for rollups
	LatestByStudy(ctx context.Context, studyID string) ([]Score, error)
}

// TrendDelta returns composite deltas between consecutive scores in a trend,
// oldest first. Two consecutive negative deltas are the early-warning signal.
func TrendDelta(trend []Score) []float64 {
	if len(trend) < 2 {
		return nil
	}
	deltas := make([]float64, 0, len(trend)-1)
	for i := 1; i < len(trend); i++ {
		deltas = append(deltas, trend[i].Composite-trend[i-1].Composite)
	}
	return deltas
}
