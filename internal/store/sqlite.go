package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/prospector/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs single-box
// runs where a Postgres instance is not worth operating.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	candidate   TEXT NOT NULL,
	status      TEXT NOT NULL,
	outcome     TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_fingerprint ON tasks(fingerprint);

CREATE TABLE IF NOT EXISTS audit_log (
	id       TEXT PRIMARY KEY,
	task_id  TEXT NOT NULL,
	stage    TEXT NOT NULL,
	decision TEXT NOT NULL,
	outcome  TEXT,
	at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_audit_log_task_id ON audit_log(task_id);

CREATE TABLE IF NOT EXISTS opt_out_registry (
	scope_type  TEXT NOT NULL,
	scope_value TEXT NOT NULL,
	reason      TEXT,
	recorded_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (scope_type, scope_value)
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CommitTask(ctx context.Context, task model.Task) (bool, error) {
	candidateJSON, err := json.Marshal(task.Candidate)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal candidate")
	}

	var outcomeJSON []byte
	if task.Outcome != nil {
		outcomeJSON, err = json.Marshal(task.Outcome)
		if err != nil {
			return false, eris.Wrap(err, "sqlite: marshal outcome")
		}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, fingerprint, candidate, status, outcome, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		task.ID, string(task.Fingerprint), string(candidateJSON), string(task.Status),
		nullableString(outcomeJSON), task.CreatedAt.UTC(), task.UpdatedAt.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: commit task %s", task.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: commit task rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, fingerprint, candidate, status, outcome, created_at, updated_at FROM tasks WHERE id = ?`,
		taskID,
	)
	t, err := scanTaskRow(row.Scan)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get task %s", taskID)
	}
	return t, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	query := `SELECT id, fingerprint, candidate, status, outcome, created_at, updated_at FROM tasks WHERE true`
	args := []any{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Fingerprint != "" {
		query += ` AND fingerprint = ?`
		args = append(args, filter.Fingerprint)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tasks")
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTaskRow(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan task")
		}
		tasks = append(tasks, *t)
	}
	return tasks, eris.Wrap(rows.Err(), "sqlite: list tasks iterate")
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, task_id, stage, decision, outcome, at) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TaskID, string(entry.Stage), entry.Decision, entry.Outcome, entry.At.UTC(),
	)
	return eris.Wrapf(err, "sqlite: append audit for task %s", entry.TaskID)
}

func (s *SQLiteStore) ListAudit(ctx context.Context, taskID string) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, stage, decision, outcome, at FROM audit_log WHERE task_id = ? ORDER BY at ASC`,
		taskID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list audit for task %s", taskID)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var stage string
		var outcomeNull sql.NullString
		if err := rows.Scan(&e.ID, &e.TaskID, &stage, &e.Decision, &outcomeNull, &e.At); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit entry")
		}
		e.Stage = model.Stage(stage)
		e.Outcome = outcomeNull.String
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list audit iterate")
}

func (s *SQLiteStore) AddOptOut(ctx context.Context, entry model.OptOutEntry) error {
	recordedAt := entry.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO opt_out_registry (scope_type, scope_value, reason, recorded_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (scope_type, scope_value) DO UPDATE SET reason = excluded.reason, recorded_at = excluded.recorded_at`,
		entry.ScopeType, entry.ScopeValue, entry.Reason, recordedAt,
	)
	return eris.Wrapf(err, "sqlite: add opt-out %s:%s", entry.ScopeType, entry.ScopeValue)
}

func (s *SQLiteStore) ImportOptOuts(ctx context.Context, entries []model.OptOutEntry) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import opt-outs begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO opt_out_registry (scope_type, scope_value, reason, recorded_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (scope_type, scope_value) DO UPDATE SET reason = excluded.reason, recorded_at = excluded.recorded_at`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import opt-outs prepare")
	}
	defer stmt.Close()

	count := 0
	for _, e := range entries {
		recordedAt := e.RecordedAt
		if recordedAt.IsZero() {
			recordedAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, e.ScopeType, e.ScopeValue, e.Reason, recordedAt); err != nil {
			return 0, eris.Wrapf(err, "sqlite: import opt-out %s:%s", e.ScopeType, e.ScopeValue)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: import opt-outs commit")
	}
	return count, nil
}

func (s *SQLiteStore) RemoveOptOut(ctx context.Context, scopeType, scopeValue string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM opt_out_registry WHERE scope_type = ? AND scope_value = ?`,
		scopeType, scopeValue,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: remove opt-out %s:%s", scopeType, scopeValue)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: remove opt-out rows affected")
	}
	if n == 0 {
		return eris.Errorf("opt-out not found: %s:%s", scopeType, scopeValue)
	}
	return nil
}

func (s *SQLiteStore) ListOptOuts(ctx context.Context) ([]model.OptOutEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scope_type, scope_value, reason, recorded_at FROM opt_out_registry ORDER BY recorded_at DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list opt-outs")
	}
	defer rows.Close()

	var entries []model.OptOutEntry
	for rows.Next() {
		var e model.OptOutEntry
		var reasonNull sql.NullString
		if err := rows.Scan(&e.ScopeType, &e.ScopeValue, &reasonNull, &e.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan opt-out")
		}
		e.Reason = reasonNull.String
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list opt-outs iterate")
}

func (s *SQLiteStore) LatestOptOut(ctx context.Context, scopeType, scopeValue string) (*model.OptOutEntry, error) {
	var e model.OptOutEntry
	var reasonNull sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT scope_type, scope_value, reason, recorded_at FROM opt_out_registry WHERE scope_type = ? AND scope_value = ?`,
		scopeType, scopeValue,
	).Scan(&e.ScopeType, &e.ScopeValue, &reasonNull, &e.RecordedAt)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get opt-out %s:%s", scopeType, scopeValue)
	}
	e.Reason = reasonNull.String
	return &e, nil
}

// scanTaskRow decodes one tasks row from either QueryRow.Scan or Rows.Scan.
func scanTaskRow(scan func(dest ...any) error) (*model.Task, error) {
	var t model.Task
	var fingerprint, status, candidateJSON string
	var outcomeNull sql.NullString

	if err := scan(&t.ID, &fingerprint, &candidateJSON, &status, &outcomeNull, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Fingerprint = model.Fingerprint(fingerprint)
	t.Status = model.TaskStatus(status)
	if err := json.Unmarshal([]byte(candidateJSON), &t.Candidate); err != nil {
		return nil, eris.Wrap(err, "unmarshal candidate")
	}
	if outcomeNull.Valid {
		t.Outcome = &model.Outcome{}
		if err := json.Unmarshal([]byte(outcomeNull.String), t.Outcome); err != nil {
			return nil, eris.Wrap(err, "unmarshal outcome")
		}
	}
	return &t, nil
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
