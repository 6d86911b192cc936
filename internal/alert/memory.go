package alert

import (
	"context"
	"sort"
	"sync"

	"github.com/clinsight/platform/internal/shared/errors"
	"github.com/clinsight/platform/internal/shared/types"
)

// MemoryStore is an in-memory Store used in local development and tests. It
// mirrors the Postgres semantics: optimistic versioning on update, the
// active-alert dedup constraint on create.
type MemoryStore struct {
	mu     sync.RWMutex
	alerts map[types.ID]*Alert
}

// NewMemoryStore creates a new in-memory alert store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alerts: make(map[types.ID]*Alert)}
}

// Create inserts a new alert, enforcing the dedup invariant
func (s *MemoryStore) Create(ctx context.Context, a *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.alerts {
		if existing.State.Active() &&
			existing.RuleID == a.RuleID &&
			existing.Entity.Key() == a.Entity.Key() {
			return errors.ConcurrentMutationConflict(a.Entity.Key())
		}
	}

	a.Version = 1
	s.alerts[a.ID] = cloneAlert(a)
	return nil
}

// Update writes a mutated aggregate with an optimistic version check
func (s *MemoryStore) Update(ctx context.Context, a *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.alerts[a.ID]
	if !ok {
		return errors.NotFound("alert", a.ID.String())
	}
	if stored.Version != a.Version {
		return errors.ConcurrentMutationConflict(a.Entity.Key())
	}

	a.Version++
	s.alerts[a.ID] = cloneAlert(a)
	return nil
}

// FindByID returns one alert
func (s *MemoryStore) FindByID(ctx context.Context, id types.ID) (*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.alerts[id]
	if !ok {
		return nil, errors.NotFound("alert", id.String())
	}
	return cloneAlert(a), nil
}

// FindActive returns the single active alert for (rule, entity), or nil
func (s *MemoryStore) FindActive(ctx context.Context, ruleID string, entityKey string) (*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.alerts {
		if a.State.Active() && a.RuleID == ruleID && a.Entity.Key() == entityKey {
			return cloneAlert(a), nil
		}
	}
	return nil, nil
}

// ActiveForEntity returns all active alerts for one entity
func (s *MemoryStore) ActiveForEntity(ctx context.Context, entityKey string) ([]*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Alert
	for _, a := range s.alerts {
		if a.State.Active() && a.Entity.Key() == entityKey {
			out = append(out, cloneAlert(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

// List returns alerts matching the filter, newest first
func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]*Alert, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Alert
	for _, a := range s.alerts {
		if filter.Entity != "" && a.Entity.Key() != filter.Entity {
			continue
		}
		if filter.Severity != "" && a.Severity != filter.Severity {
			continue
		}
		if filter.State != "" && a.State != filter.State {
			continue
		}
		matched = append(matched, cloneAlert(a))
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].OpenedAt.After(matched[j].OpenedAt) })

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func cloneAlert(a *Alert) *Alert {
	clone := *a
	clone.Actions = make([]ActionRecord, len(a.Actions))
	copy(clone.Actions, a.Actions)
	return &clone
}
