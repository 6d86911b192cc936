package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinsight/platform/internal/shared/errors"
	"github.com/clinsight/platform/internal/shared/types"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
	th   BucketThresholds
}

// NewPostgresRepository creates a new PostgreSQL signal repository
func NewPostgresRepository(pool *pgxpool.Pool, th BucketThresholds) *PostgresRepository {
	return &PostgresRepository{pool: pool, th: th}
}

// UpsertRecords ingests a batch transactionally: either every row and every
// version bump commits, or none do.
func (r *PostgresRepository) UpsertRecords(ctx context.Context, records []Record) (UpsertResult, error) {
	var result UpsertResult

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return result, errors.PersistenceUnavailable(err)
	}
	defer tx.Rollback(ctx)

	touched := make(map[string]bool)

	for _, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return result, errors.Wrap(err, "failed to marshal record")
		}

		// xmax = 0 only holds for freshly inserted rows. The DO UPDATE is
		// guarded so a re-delivered identical row returns nothing and leaves
		// the entity's data version alone.
		query := `
			INSERT INTO dqi.signal_records (
				id, study_id, site_id, patient_id, record_type, natural_key,
				payload, observed_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
			ON CONFLICT (study_id, site_id, patient_id, record_type, natural_key)
			DO UPDATE SET payload = EXCLUDED.payload,
				observed_at = EXCLUDED.observed_at,
				updated_at = NOW()
			WHERE dqi.signal_records.payload IS DISTINCT FROM EXCLUDED.payload
			RETURNING (xmax = 0) AS inserted`

		id := types.NewDeterministicID("signal-record", rec.Key())

		var inserted bool
		err = tx.QueryRow(ctx, query,
			id, rec.StudyID, rec.SiteID, rec.PatientID, rec.Type, rec.NaturalKey,
			payload, rec.ObservedAt,
		).Scan(&inserted)
		if err == pgx.ErrNoRows {
			// Unchanged row: counted as matched, no version bump
			result.Updated++
			continue
		}
		if err != nil {
			return result, errors.PersistenceUnavailable(err)
		}

		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}

		touched[rec.Site().Key()] = true
		if rec.PatientID != "" {
			touched[rec.Entity().Key()] = true
		}
	}

	for key := range touched {
		_, err := tx.Exec(ctx, `
			INSERT INTO dqi.entity_versions (entity_key, data_version, updated_at)
			VALUES ($1, 1, NOW())
			ON CONFLICT (entity_key)
			DO UPDATE SET data_version = entity_versions.data_version + 1, updated_at = NOW()`,
			key,
		)
		if err != nil {
			return result, errors.PersistenceUnavailable(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return result, errors.PersistenceUnavailable(err)
	}

	return result, nil
}

// Snapshot derives the entity's snapshot from its stored records
func (r *PostgresRepository) Snapshot(ctx context.Context, ref types.EntityRef, asOf time.Time) (*Snapshot, error) {
	if err := ref.Validate(); err != nil {
		return nil, errors.BadRequest(err.Error())
	}

	query := `SELECT payload FROM dqi.signal_records WHERE study_id = $1 AND site_id = $2`
	args := []any{ref.StudyID, ref.SiteID}
	if ref.Level == types.EntityLevelPatient {
		query += ` AND patient_id = $3`
		args = append(args, ref.PatientID)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.PersistenceUnavailable(err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, "failed to scan record")
		}
		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, errors.Wrap(err, "failed to decode record")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.PersistenceUnavailable(err)
	}

	snap := BuildSnapshot(ref, asOf, r.th, records)
	snap.DataVersion, err = r.DataVersion(ctx, ref)
	if err != nil {
		return nil, err
	}

	return snap, nil
}

// DataVersion returns the entity's monotonic data version
func (r *PostgresRepository) DataVersion(ctx context.Context, ref types.EntityRef) (int64, error) {
	var version int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(
			(SELECT data_version FROM dqi.entity_versions WHERE entity_key = $1), 0)`,
		ref.Key(),
	).Scan(&version)
	if err != nil {
		return 0, errors.PersistenceUnavailable(err)
	}
	return version, nil
}

// ActiveEntities lists all site-level entities with any records
func (r *PostgresRepository) ActiveEntities(ctx context.Context) ([]types.EntityRef, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT study_id, site_id FROM dqi.signal_records ORDER BY study_id, site_id`)
	if err != nil {
		return nil, errors.PersistenceUnavailable(err)
	}
	defer rows.Close()

	var refs []types.EntityRef
	for rows.Next() {
		var studyID, siteID string
		if err := rows.Scan(&studyID, &siteID); err != nil {
			return nil, errors.Wrap(err, "failed to scan entity")
		}
		refs = append(refs, types.SiteRef(studyID, siteID))
	}
	return refs, rows.Err()
}
