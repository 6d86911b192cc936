package insight

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinsight/platform/internal/shared/errors"
)

// PostgresCache implements Cache on the cached_insights table. Expiry is
// lazy: expired rows are ignored on read and overwritten on the next Put for
// the same fingerprint.
type PostgresCache struct {
	pool *pgxpool.Pool
}

// NewPostgresCache creates a Postgres-backed insight cache
func NewPostgresCache(pool *pgxpool.Pool) *PostgresCache {
	return &PostgresCache{pool: pool}
}

// Get returns the unexpired entry for the fingerprint, or nil
func (c *PostgresCache) Get(ctx context.Context, fingerprint string) (*CachedInsight, error) {
	var entry CachedInsight
	err := c.pool.QueryRow(ctx, `
		SELECT fingerprint, query_text, scope, data_version, content, created_at, expires_at
		FROM dqi.cached_insights
		WHERE fingerprint = $1 AND expires_at > $2`,
		fingerprint, time.Now().UTC(),
	).Scan(&entry.Fingerprint, &entry.Query, &entry.Scope, &entry.DataVersion,
		&entry.Content, &entry.CreatedAt, &entry.ExpiresAt)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.PersistenceUnavailable(err)
	}
	return &entry, nil
}

// Put stores an entry, replacing any previous one for the fingerprint
func (c *PostgresCache) Put(ctx context.Context, entry CachedInsight) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO dqi.cached_insights
			(fingerprint, query_text, scope, data_version, content, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (fingerprint)
		DO UPDATE SET content = EXCLUDED.content,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at`,
		entry.Fingerprint, entry.Query, entry.Scope, entry.DataVersion,
		entry.Content, entry.CreatedAt, entry.ExpiresAt)
	if err != nil {
		return errors.PersistenceUnavailable(err)
	}
	return nil
}
