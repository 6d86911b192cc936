package insight

import (
	"context"
	"time"
)

// CachedInsight is one stored generation result
type CachedInsight struct {
	Fingerprint string    `json:"fingerprint"`
	Query       string    `json:"query"` // normalized form
	Scope       string    `json:"scope"` // entity key
	DataVersion int64     `json:"data_version"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the entry's time-to-live has lapsed
func (c CachedInsight) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Cache stores generation results by fingerprint. Expired entries are simply
// treated as absent, implementations need no active sweeping. Concurrent
// writers for one fingerprint may race; last write wins, which is safe
// because identical fingerprints mean identical requests.
type Cache interface {
	// Get returns the unexpired entry for the fingerprint, or nil
	Get(ctx context.Context, fingerprint string) (*CachedInsight, error)

	// Put stores an entry, replacing any previous one for the fingerprint
	Put(ctx context.Context, entry CachedInsight) error
}
