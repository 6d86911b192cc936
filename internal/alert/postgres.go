package alert

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinsight/platform/internal/rules"
	"github.com/clinsight/platform/internal/shared/errors"
	"github.com/clinsight/platform/internal/shared/types"
)

// PostgresStore implements Store using PostgreSQL. The dedup invariant is
// enforced twice: by the engine's per-entity serialization and by a partial
// unique index on (rule_id, entity_key) over active states, so even a bug in
// the locking discipline cannot produce duplicate active alerts.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL alert store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const alertColumns = `id, rule_id, entity_key, severity, state,
	acknowledged, acknowledged_by, opened_at, last_evaluated_at,
	escalated_at, resolved_at, version, action_log`

// Create inserts a new alert
func (s *PostgresStore) Create(ctx context.Context, a *Alert) error {
	actions, err := json.Marshal(a.Actions)
	if err != nil {
		return errors.Wrap(err, "failed to marshal action log")
	}

	a.Version = 1
	_, err = s.pool.Exec(ctx, `
		INSERT INTO dqi.alerts (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.RuleID, a.Entity.Key(), string(a.Severity), string(a.State),
		a.Acknowledged, a.AcknowledgedBy, a.OpenedAt, a.LastEvaluatedAt,
		a.EscalatedAt, a.ResolvedAt, a.Version, actions)
	if err != nil {
		if strings.Contains(err.Error(), "alerts_active_rule_entity") {
			return errors.ConcurrentMutationConflict(a.Entity.Key())
		}
		return errors.PersistenceUnavailable(err)
	}
	return nil
}

// Update writes a mutated aggregate with an optimistic version check
func (s *PostgresStore) Update(ctx context.Context, a *Alert) error {
	actions, err := json.Marshal(a.Actions)
	if err != nil {
		return errors.Wrap(err, "failed to marshal action log")
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE dqi.alerts
		SET severity = $2, state = $3, acknowledged = $4, acknowledged_by = $5,
			last_evaluated_at = $6, escalated_at = $7, resolved_at = $8,
			action_log = $9, version = version + 1
		WHERE id = $1 AND version = $10`,
		a.ID, string(a.Severity), string(a.State), a.Acknowledged, a.AcknowledgedBy,
		a.LastEvaluatedAt, a.EscalatedAt, a.ResolvedAt, actions, a.Version)
	if err != nil {
		return errors.PersistenceUnavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ConcurrentMutationConflict(a.Entity.Key())
	}

	a.Version++
	return nil
}

// FindByID returns one alert
func (s *PostgresStore) FindByID(ctx context.Context, id types.ID) (*Alert, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+alertColumns+` FROM dqi.alerts WHERE id = $1`, id)

	a, err := scanAlert(row)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("alert", id.String())
	}
	if err != nil {
		return nil, errors.PersistenceUnavailable(err)
	}
	return a, nil
}

// FindActive returns the single active alert for (rule, entity), or nil
func (s *PostgresStore) FindActive(ctx context.Context, ruleID string, entityKey string) (*Alert, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+alertColumns+` FROM dqi.alerts
		WHERE rule_id = $1 AND entity_key = $2 AND state IN ('open', 'escalated')`,
		ruleID, entityKey)

	a, err := scanAlert(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.PersistenceUnavailable(err)
	}
	return a, nil
}

// ActiveForEntity returns all active alerts for one entity
func (s *PostgresStore) ActiveForEntity(ctx context.Context, entityKey string) ([]*Alert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+alertColumns+` FROM dqi.alerts
		WHERE entity_key = $1 AND state IN ('open', 'escalated')
		ORDER BY opened_at`,
		entityKey)
	if err != nil {
		return nil, errors.PersistenceUnavailable(err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// List returns alerts matching the filter, newest first
func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*Alert, int, error) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.Entity != "" {
		args = append(args, filter.Entity)
		where += " AND entity_key = $" + strconv.Itoa(len(args))
	}
	if filter.Severity != "" {
		args = append(args, string(filter.Severity))
		where += " AND severity = $" + strconv.Itoa(len(args))
	}
	if filter.State != "" {
		args = append(args, string(filter.State))
		where += " AND state = $" + strconv.Itoa(len(args))
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM dqi.alerts"+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.PersistenceUnavailable(err)
	}

	query := "SELECT " + alertColumns + " FROM dqi.alerts" + where + " ORDER BY opened_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.PersistenceUnavailable(err)
	}
	defer rows.Close()

	alerts, err := scanAlerts(rows)
	if err != nil {
		return nil, 0, err
	}
	return alerts, total, nil
}

func scanAlerts(rows pgx.Rows) ([]*Alert, error) {
	var alerts []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan alert")
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func scanAlert(row pgx.Row) (*Alert, error) {
	var (
		a         Alert
		entityKey string
		severity  string
		state     string
		actions   []byte
	)
	err := row.Scan(&a.ID, &a.RuleID, &entityKey, &severity, &state,
		&a.Acknowledged, &a.AcknowledgedBy, &a.OpenedAt, &a.LastEvaluatedAt,
		&a.EscalatedAt, &a.ResolvedAt, &a.Version, &actions)
	if err != nil {
		return nil, err
	}

	ref, err := types.ParseEntityRef(entityKey)
	if err != nil {
		return nil, err
	}
	a.Entity = ref
	a.Severity = rules.Severity(severity)
	a.State = State(state)

	if err := json.Unmarshal(actions, &a.Actions); err != nil {
		return nil, err
	}
	return &a, nil
}
