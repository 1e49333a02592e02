package audit

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/model"
)

type captureLog struct {
	entries []model.AuditEntry
	err     error
}

func (l *captureLog) AppendAudit(_ context.Context, entry model.AuditEntry) error {
	if l.err != nil {
		return l.err
	}
	l.entries = append(l.entries, entry)
	return nil
}

func TestEmitter_Record(t *testing.T) {
	log := &captureLog{}
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	e := NewEmitter(log).WithNow(func() time.Time { return at })

	err := e.Record(context.Background(), "task-1", model.StageCompliance, model.DecisionBlocked, "owner request")
	require.NoError(t, err)

	require.Len(t, log.entries, 1)
	entry := log.entries[0]
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "task-1", entry.TaskID)
	assert.Equal(t, model.StageCompliance, entry.Stage)
	assert.Equal(t, model.DecisionBlocked, entry.Decision)
	assert.Equal(t, "owner request", entry.Outcome)
	assert.Equal(t, at, entry.At)
}

func TestEmitter_Record_UniqueIDs(t *testing.T) {
	log := &captureLog{}
	e := NewEmitter(log)
	ctx := context.Background()

	require.NoError(t, e.Record(ctx, "task-1", model.StageDedup, model.DecisionFresh, ""))
	require.NoError(t, e.Record(ctx, "task-1", model.StageFetch, model.DecisionSuccess, "2 pages"))

	require.Len(t, log.entries, 2)
	assert.NotEqual(t, log.entries[0].ID, log.entries[1].ID)
}

func TestEmitter_Record_PropagatesLogError(t *testing.T) {
	log := &captureLog{err: eris.New("disk full")}
	e := NewEmitter(log)

	err := e.Record(context.Background(), "task-1", model.StagePersist, model.DecisionSuccess, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit: record")
}
