package dqi

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/clinsight/platform/internal/shared/errors"
	"github.com/clinsight/platform/internal/shared/types"
)

// MemoryHistory is an in-memory History used in local development and tests
type MemoryHistory struct {
	mu     sync.RWMutex
	scores map[string][]Score // keyed by entity key, ordered by seq
}

// NewMemoryHistory creates a new in-memory score history
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{scores: make(map[string][]Score)}
}

// Record appends the score and assigns its per-entity sequence
func (h *MemoryHistory) Record(ctx context.Context, score *Score) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := score.Entity.Key()
	score.Seq = int64(len(h.scores[key])) + 1
	h.scores[key] = append(h.scores[key], *score)
	return nil
}

// Latest returns the most recent score for the entity
func (h *MemoryHistory) Latest(ctx context.Context, ref types.EntityRef) (*Score, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	entries := h.scores[ref.Key()]
	if len(entries) == 0 {
		return nil, errors.NotFound("score", ref.Key())
	}
	latest := entries[len(entries)-1]
	return &latest, nil
}

// Trend returns scores within the window, oldest first
func (h *MemoryHistory) Trend(ctx context.Context, ref types.EntityRef, window time.Duration) ([]Score, error) {
	since := time.Now().UTC().Add(-window)

	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []Score
	for _, s := range h.scores[ref.Key()] {
		if !s.Timestamp.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

// LatestByStudy returns the latest site-level score per site in a study
func (h *MemoryHistory) LatestByStudy(ctx context.Context, studyID string) ([]Score, error) {
	prefix := "site:" + studyID + ":"

	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []Score
	for key, entries := range h.scores {
		if !strings.HasPrefix(key, prefix) || len(entries) == 0 {
			continue
		}
		out = append(out, entries[len(entries)-1])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entity.Key() < out[j].Entity.Key() })
	return out, nil
}
