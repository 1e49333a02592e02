// Package audit records gating decisions and enrichment outcomes as an
// append-only trail, one entry per stage decision.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/model"
)

// Log is the persistence surface the emitter writes through.
type Log interface {
	AppendAudit(ctx context.Context, entry model.AuditEntry) error
}

// Emitter writes audit entries for pipeline stages.
type Emitter struct {
	log Log
	now func() time.Time
}

// NewEmitter creates an Emitter backed by the given log.
func NewEmitter(log Log) *Emitter {
	return &Emitter{log: log, now: time.Now}
}

// WithNow overrides the clock. Test hook.
func (e *Emitter) WithNow(now func() time.Time) *Emitter {
	e.now = now
	return e
}

// Record appends one entry for a stage decision. Entries are never updated
// or deleted after this call.
func (e *Emitter) Record(ctx context.Context, taskID string, stage model.Stage, decision, outcome string) error {
	entry := model.AuditEntry{
		ID:       uuid.New().String(),
		TaskID:   taskID,
		Stage:    stage,
		Decision: decision,
		Outcome:  outcome,
		At:       e.now().UTC(),
	}
	if err := e.log.AppendAudit(ctx, entry); err != nil {
		return eris.Wrapf(err, "audit: record %s/%s for task %s", stage, decision, taskID)
	}
	zap.L().Debug("audit entry recorded",
		zap.String("task_id", taskID),
		zap.String("stage", string(stage)),
		zap.String("decision", decision),
	)
	return nil
}
