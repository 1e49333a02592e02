package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/db"
	"github.com/sells-group/prospector/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"commit_task":    `INSERT INTO tasks (id, fingerprint, candidate, status, outcome, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (id) DO NOTHING`,
	"get_task":       `SELECT id, fingerprint, candidate, status, outcome, created_at, updated_at FROM tasks WHERE id = $1`,
	"append_audit":   `INSERT INTO audit_log (id, task_id, stage, decision, outcome, at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"list_audit":     `SELECT id, task_id, stage, decision, outcome, at FROM audit_log WHERE task_id = $1 ORDER BY at ASC`,
	"get_opt_out":    `SELECT scope_type, scope_value, reason, recorded_at FROM opt_out_registry WHERE scope_type = $1 AND scope_value = $2`,
	"upsert_opt_out": `INSERT INTO opt_out_registry (scope_type, scope_value, reason, recorded_at) VALUES ($1, $2, $3, $4) ON CONFLICT (scope_type, scope_value) DO UPDATE SET reason = $3, recorded_at = $4`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for use by subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	candidate   JSONB NOT NULL,
	status      TEXT NOT NULL,
	outcome     JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_fingerprint ON tasks(fingerprint);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at DESC);

CREATE TABLE IF NOT EXISTS audit_log (
	id       TEXT PRIMARY KEY,
	task_id  TEXT NOT NULL,
	stage    TEXT NOT NULL,
	decision TEXT NOT NULL,
	outcome  TEXT,
	at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_log_task_id ON audit_log(task_id);
CREATE INDEX IF NOT EXISTS idx_audit_log_at ON audit_log(at);

CREATE TABLE IF NOT EXISTS opt_out_registry (
	scope_type  TEXT NOT NULL,
	scope_value TEXT NOT NULL,
	reason      TEXT,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (scope_type, scope_value)
);

CREATE INDEX IF NOT EXISTS idx_opt_out_recorded_at ON opt_out_registry(recorded_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// CommitTask persists a task under its terminal status. ON CONFLICT DO
// NOTHING makes redelivered commits of the same task ID a no-op; the bool
// reports whether this call created the row.
func (s *PostgresStore) CommitTask(ctx context.Context, task model.Task) (bool, error) {
	candidateJSON, err := json.Marshal(task.Candidate)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal candidate")
	}

	var outcomeJSON []byte
	if task.Outcome != nil {
		outcomeJSON, err = json.Marshal(task.Outcome)
		if err != nil {
			return false, eris.Wrap(err, "postgres: marshal outcome")
		}
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (id, fingerprint, candidate, status, outcome, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		task.ID, string(task.Fingerprint), candidateJSON, string(task.Status),
		outcomeJSON, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: commit task %s", task.ID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	var t model.Task
	var fingerprint string
	var status string
	var candidateJSON []byte
	var outcomeNull *[]byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, fingerprint, candidate, status, outcome, created_at, updated_at FROM tasks WHERE id = $1`,
		taskID,
	).Scan(&t.ID, &fingerprint, &candidateJSON, &status, &outcomeNull, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get task %s", taskID)
	}

	t.Fingerprint = model.Fingerprint(fingerprint)
	t.Status = model.TaskStatus(status)
	if err := json.Unmarshal(candidateJSON, &t.Candidate); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal candidate")
	}
	if outcomeNull != nil {
		t.Outcome = &model.Outcome{}
		if err := json.Unmarshal(*outcomeNull, t.Outcome); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal outcome")
		}
	}
	return &t, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	query := `SELECT id, fingerprint, candidate, status, outcome, created_at, updated_at FROM tasks WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Fingerprint != "" {
		query += fmt.Sprintf(` AND fingerprint = $%d`, argIdx)
		args = append(args, filter.Fingerprint)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tasks")
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		var t model.Task
		var fingerprint string
		var status string
		var candidateJSON []byte
		var outcomeNull *[]byte

		if err := rows.Scan(&t.ID, &fingerprint, &candidateJSON, &status, &outcomeNull, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan task")
		}
		t.Fingerprint = model.Fingerprint(fingerprint)
		t.Status = model.TaskStatus(status)
		if err := json.Unmarshal(candidateJSON, &t.Candidate); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal candidate")
		}
		if outcomeNull != nil {
			t.Outcome = &model.Outcome{}
			if err := json.Unmarshal(*outcomeNull, t.Outcome); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal outcome")
			}
		}
		tasks = append(tasks, t)
	}
	return tasks, eris.Wrap(rows.Err(), "postgres: list tasks iterate")
}

func (s *PostgresStore) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (id, task_id, stage, decision, outcome, at) VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.TaskID, string(entry.Stage), entry.Decision, entry.Outcome, entry.At,
	)
	return eris.Wrapf(err, "postgres: append audit for task %s", entry.TaskID)
}

func (s *PostgresStore) ListAudit(ctx context.Context, taskID string) ([]model.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, stage, decision, outcome, at FROM audit_log WHERE task_id = $1 ORDER BY at ASC`,
		taskID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list audit for task %s", taskID)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var stage string
		var outcomeNull *string
		if err := rows.Scan(&e.ID, &e.TaskID, &stage, &e.Decision, &outcomeNull, &e.At); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit entry")
		}
		e.Stage = model.Stage(stage)
		if outcomeNull != nil {
			e.Outcome = *outcomeNull
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list audit iterate")
}

func (s *PostgresStore) AddOptOut(ctx context.Context, entry model.OptOutEntry) error {
	recordedAt := entry.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO opt_out_registry (scope_type, scope_value, reason, recorded_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (scope_type, scope_value) DO UPDATE SET reason = $3, recorded_at = $4`,
		entry.ScopeType, entry.ScopeValue, entry.Reason, recordedAt,
	)
	return eris.Wrapf(err, "postgres: add opt-out %s:%s", entry.ScopeType, entry.ScopeValue)
}

// ImportOptOuts bulk-loads opt-out entries in one transaction. Existing
// scopes are superseded by the imported entry.
func (s *PostgresStore) ImportOptOuts(ctx context.Context, entries []model.OptOutEntry) (int, error) {
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		recordedAt := e.RecordedAt
		if recordedAt.IsZero() {
			recordedAt = time.Now().UTC()
		}
		rows = append(rows, []any{e.ScopeType, e.ScopeValue, e.Reason, recordedAt})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "opt_out_registry",
		Columns:      []string{"scope_type", "scope_value", "reason", "recorded_at"},
		ConflictKeys: []string{"scope_type", "scope_value"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: import opt-outs")
	}
	return int(n), nil
}

func (s *PostgresStore) RemoveOptOut(ctx context.Context, scopeType, scopeValue string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM opt_out_registry WHERE scope_type = $1 AND scope_value = $2`,
		scopeType, scopeValue,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: remove opt-out %s:%s", scopeType, scopeValue)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("opt-out not found: %s:%s", scopeType, scopeValue)
	}
	return nil
}

func (s *PostgresStore) ListOptOuts(ctx context.Context) ([]model.OptOutEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT scope_type, scope_value, reason, recorded_at FROM opt_out_registry ORDER BY recorded_at DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list opt-outs")
	}
	defer rows.Close()

	var entries []model.OptOutEntry
	for rows.Next() {
		var e model.OptOutEntry
		var reasonNull *string
		if err := rows.Scan(&e.ScopeType, &e.ScopeValue, &reasonNull, &e.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan opt-out")
		}
		if reasonNull != nil {
			e.Reason = *reasonNull
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list opt-outs iterate")
}

// LatestOptOut returns the active opt-out for a scope, or nil when the scope
// has never opted out. The compliance gate consults this before any fetch.
func (s *PostgresStore) LatestOptOut(ctx context.Context, scopeType, scopeValue string) (*model.OptOutEntry, error) {
	var e model.OptOutEntry
	var reasonNull *string
	err := s.pool.QueryRow(ctx,
		`SELECT scope_type, scope_value, reason, recorded_at FROM opt_out_registry WHERE scope_type = $1 AND scope_value = $2`,
		scopeType, scopeValue,
	).Scan(&e.ScopeType, &e.ScopeValue, &reasonNull, &e.RecordedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get opt-out %s:%s", scopeType, scopeValue)
	}
	if reasonNull != nil {
		e.Reason = *reasonNull
	}
	return &e, nil
}
