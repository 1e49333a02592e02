package store

import (
	"context"

	"github.com/sells-group/prospector/internal/model"
)

// TaskFilter specifies criteria for listing tasks.
type TaskFilter struct {
	Status      model.TaskStatus `json:"status,omitempty"`
	Fingerprint string           `json:"fingerprint,omitempty"`
	Limit       int              `json:"limit,omitempty"`
	Offset      int              `json:"offset,omitempty"`
}

// Store defines the persistence interface for the enrichment pipeline.
//
// CommitTask is the single write path for task outcomes and is idempotent by
// task ID: committing the same terminal task twice leaves one row. The audit
// log is append-only. The opt-out registry holds at most one entry per scope
// and a newer write supersedes the older one.
type Store interface {
	// Tasks
	CommitTask(ctx context.Context, task model.Task) (bool, error)
	GetTask(ctx context.Context, taskID string) (*model.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error)

	// Audit log
	AppendAudit(ctx context.Context, entry model.AuditEntry) error
	ListAudit(ctx context.Context, taskID string) ([]model.AuditEntry, error)

	// Opt-out registry
	AddOptOut(ctx context.Context, entry model.OptOutEntry) error
	ImportOptOuts(ctx context.Context, entries []model.OptOutEntry) (int, error)
	RemoveOptOut(ctx context.Context, scopeType, scopeValue string) error
	ListOptOuts(ctx context.Context) ([]model.OptOutEntry, error)
	LatestOptOut(ctx context.Context, scopeType, scopeValue string) (*model.OptOutEntry, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
