package alert

import (
	"context"

	"github.com/clinsight/platform/internal/rules"
	"github.com/clinsight/platform/internal/shared/types"
)

// ListFilter narrows an alert listing. Zero values mean "any".
type ListFilter struct {
	Entity   string         // entity key
	Severity rules.Severity
	State    State
	Limit    int
	Offset   int
}

// Store persists alert aggregates. Writes use optimistic versioning: Update
// only succeeds when the stored version matches the aggregate's version at
// read time, otherwise it fails with ConcurrentMutationConflict and the
// caller retries its whole tick.
type Store interface {
	// Create inserts a new alert. Violating the one-active-alert-per-
	// (rule, entity) invariant fails with ConcurrentMutationConflict.
	Create(ctx context.Context, a *Alert) error

	// Update writes a mutated aggregate, checking the version it was read at
	Update(ctx context.Context, a *Alert) error

	// FindByID returns one alert, or NotFound
	FindByID(ctx context.Context, id types.ID) (*Alert, error)

	// FindActive returns the single active alert for (rule, entity), or nil
	FindActive(ctx context.Context, ruleID string, entityKey string) (*Alert, error)

	// ActiveForEntity returns all active alerts for one entity
	ActiveForEntity(ctx context.Context, entityKey string) ([]*Alert, error)

	// List returns alerts matching the filter, newest first, and the total
	List(ctx context.Context, filter ListFilter) ([]*Alert, int, error)
}
