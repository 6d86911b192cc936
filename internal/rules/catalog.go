package rules

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinsight/platform/internal/shared/errors"
)

// CatalogStore persists the versioned rule catalog. The catalog ships with
// the binary; the store exists so that the exact rule definitions behind any
// historical alert remain reproducible.
type CatalogStore struct {
	pool *pgxpool.Pool
}

// NewCatalogStore creates a new catalog store
func NewCatalogStore(pool *pgxpool.Pool) *CatalogStore {
	return &CatalogStore{pool: pool}
}

// Seed writes catalog entries that are not yet stored. An (id, version) pair
// already present is left untouched, so published rule versions are immutable.
func (s *CatalogStore) Seed(ctx context.Context, catalog []Rule) error {
	for _, rule := range catalog {
		definition, err := json.Marshal(rule)
		if err != nil {
			return errors.Wrap(err, "failed to marshal rule")
		}
		_, err = s.pool.Exec(ctx, `
			INSERT INTO dqi.rules (id, version, definition)
			VALUES ($1, $2, $3)
			ON CONFLICT (id, version) DO NOTHING`,
			rule.ID, rule.Version, definition)
		if err != nil {
			return errors.PersistenceUnavailable(err)
		}
	}
	return nil
}

// Load returns the latest stored version of every rule
func (s *CatalogStore) Load(ctx context.Context) ([]Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (id) definition
		FROM dqi.rules
		ORDER BY id, version DESC`)
	if err != nil {
		return nil, errors.PersistenceUnavailable(err)
	}
	defer rows.Close()

	var catalog []Rule
	for rows.Next() {
		var definition []byte
		if err := rows.Scan(&definition); err != nil {
			return nil, errors.Wrap(err, "failed to scan rule")
		}
		var rule Rule
		if err := json.Unmarshal(definition, &rule); err != nil {
			return nil, errors.Wrap(err, "failed to decode rule")
		}
		catalog = append(catalog, rule)
	}
	return catalog, rows.Err()
}
