package dqi

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinsight/platform/internal/shared/errors"
	"github.com/clinsight/platform/internal/shared/types"
)

// PostgresHistory implements History on the append-only score_history table
type PostgresHistory struct {
	pool *pgxpool.Pool
}

// NewPostgresHistory creates a new PostgreSQL score history
func NewPostgresHistory(pool *pgxpool.Pool) *PostgresHistory {
	return &PostgresHistory{pool: pool}
}

const scoreColumns = `entity_key, seq, computed_at, data_version,
	missing_score, query_score, visit_score, verification_score, coding_score,
	composite, category`

// Record appends the score with the next per-entity sequence number. The
// sequence is assigned inside the insert so concurrent appends for one
// entity cannot collide silently; a primary key conflict surfaces as
// ConcurrentMutationConflict and the tick retries.
func (h *PostgresHistory) Record(ctx context.Context, score *Score) error {
	key := score.Entity.Key()

	err := h.pool.QueryRow(ctx, `
		INSERT INTO dqi.score_history (`+scoreColumns+`)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		FROM dqi.score_history WHERE entity_key = $1
		RETURNING seq`,
		key, score.Timestamp, score.DataVersion,
		score.SubScores.Missing, score.SubScores.Queries, score.SubScores.Visits,
		score.SubScores.Verification, score.SubScores.Coding,
		score.Composite, string(score.Category),
	).Scan(&score.Seq)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.ConcurrentMutationConflict(key)
		}
		return errors.PersistenceUnavailable(err)
	}
	return nil
}

// Latest returns the most recent score for the entity
func (h *PostgresHistory) Latest(ctx context.Context, ref types.EntityRef) (*Score, error) {
	row := h.pool.QueryRow(ctx, `
		SELECT `+scoreColumns+` FROM dqi.score_history
		WHERE entity_key = $1 ORDER BY seq DESC LIMIT 1`,
		ref.Key())

	score, err := scanScore(row)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("score", ref.Key())
	}
	if err != nil {
		return nil, errors.PersistenceUnavailable(err)
	}
	return score, nil
}

// Trend returns scores within the window, oldest first
func (h *PostgresHistory) Trend(ctx context.Context, ref types.EntityRef, window time.Duration) ([]Score, error) {
	since := time.Now().UTC().Add(-window)

	rows, err := h.pool.Query(ctx, `
		SELECT `+scoreColumns+` FROM dqi.score_history
		WHERE entity_key = $1 AND computed_at >= $2
		ORDER BY seq ASC`,
		ref.Key(), since)
	if err != nil {
		return nil, errors.PersistenceUnavailable(err)
	}
	defer rows.Close()

	var scores []Score
	for rows.Next() {
		score, err := scanScore(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan score")
		}
		scores = append(scores, *score)
	}
	return scores, rows.Err()
}

// LatestByStudy returns the latest site-level score per site in a study
func (h *PostgresHistory) LatestByStudy(ctx context.Context, studyID string) ([]Score, error) {
	rows, err := h.pool.Query(ctx, `
		SELECT DISTINCT ON (entity_key) `+scoreColumns+`
		FROM dqi.score_history
		WHERE entity_key LIKE $1
		ORDER BY entity_key, seq DESC`,
		"site:"+studyID+":%")
	if err != nil {
		return nil, errors.PersistenceUnavailable(err)
	}
	defer rows.Close()

	var scores []Score
	for rows.Next() {
		score, err := scanScore(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan score")
		}
		scores = append(scores, *score)
	}
	return scores, rows.Err()
}

func scanScore(row pgx.Row) (*Score, error) {
	var (
		score    Score
		key      string
		category string
	)
	err := row.Scan(&key, &score.Seq, &score.Timestamp, &score.DataVersion,
		&score.SubScores.Missing, &score.SubScores.Queries, &score.SubScores.Visits,
		&score.SubScores.Verification, &score.SubScores.Coding,
		&score.Composite, &category)
	if err != nil {
		return nil, err
	}

	ref, err := types.ParseEntityRef(key)
	if err != nil {
		return nil, err
	}
	score.Entity = ref
	score.Category = Category(category)
	return &score, nil
}
