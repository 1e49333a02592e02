package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testTask(status model.TaskStatus) model.Task {
	now := time.Now().UTC().Truncate(time.Second)
	return model.Task{
		ID:          uuid.New().String(),
		Fingerprint: "fp-acme",
		Candidate:   model.CandidateRecord{PlaceID: "places/abc", Name: "Acme Bakery", Address: "12 Main St"},
		Status:      status,
		Outcome:     &model.Outcome{Status: status},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// --- Tasks ---

func TestSQLite_CommitTask_And_GetTask(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	task := testTask(model.TaskStatusDone)
	task.Outcome.Result = &model.EnrichmentResult{
		Domain:       "acmebakery.com",
		Emails:       []string{"info@acmebakery.com"},
		PagesFetched: 2,
	}

	inserted, err := st.CommitTask(ctx, task)
	require.NoError(t, err)
	assert.True(t, inserted)

	fetched, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, fetched.ID)
	assert.Equal(t, model.TaskStatusDone, fetched.Status)
	assert.Equal(t, "Acme Bakery", fetched.Candidate.Name)
	require.NotNil(t, fetched.Outcome)
	require.NotNil(t, fetched.Outcome.Result)
	assert.Equal(t, "acmebakery.com", fetched.Outcome.Result.Domain)
}

func TestSQLite_CommitTask_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	task := testTask(model.TaskStatusDone)

	inserted, err := st.CommitTask(ctx, task)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Redelivered commit of the same task ID is a no-op.
	task.Status = model.TaskStatusFetchFailed
	inserted, err = st.CommitTask(ctx, task)
	require.NoError(t, err)
	assert.False(t, inserted)

	fetched, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusDone, fetched.Status)

	tasks, err := st.ListTasks(ctx, TaskFilter{Fingerprint: "fp-acme", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestSQLite_GetTask_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetTask(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get task")
}

func TestSQLite_ListTasks_FilterByStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	done := testTask(model.TaskStatusDone)
	blocked := testTask(model.TaskStatusComplianceBlocked)
	blocked.Fingerprint = "fp-other"

	_, err := st.CommitTask(ctx, done)
	require.NoError(t, err)
	_, err = st.CommitTask(ctx, blocked)
	require.NoError(t, err)

	tasks, err := st.ListTasks(ctx, TaskFilter{Status: model.TaskStatusComplianceBlocked, Limit: 10})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, blocked.ID, tasks[0].ID)
}

// --- Audit log ---

func TestSQLite_AppendAudit_And_ListAudit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	taskID := uuid.New().String()
	base := time.Now().UTC().Truncate(time.Second)

	entries := []model.AuditEntry{
		{ID: uuid.New().String(), TaskID: taskID, Stage: model.StageDedup, Decision: model.DecisionFresh, At: base},
		{ID: uuid.New().String(), TaskID: taskID, Stage: model.StageCompliance, Decision: model.DecisionAllowed, At: base.Add(time.Second)},
		{ID: uuid.New().String(), TaskID: taskID, Stage: model.StageFetch, Decision: model.DecisionSuccess, Outcome: "2 pages", At: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		require.NoError(t, st.AppendAudit(ctx, e))
	}

	// Unrelated task's entry must not show up.
	require.NoError(t, st.AppendAudit(ctx, model.AuditEntry{
		ID: uuid.New().String(), TaskID: "other-task", Stage: model.StageDedup,
		Decision: model.DecisionDuplicate, At: base,
	}))

	got, err := st.ListAudit(ctx, taskID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, model.StageDedup, got[0].Stage)
	assert.Equal(t, model.StageFetch, got[2].Stage)
	assert.Equal(t, "2 pages", got[2].Outcome)
}

// --- Opt-out registry ---

func TestSQLite_OptOut_AddAndLatest(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	err := st.AddOptOut(ctx, model.OptOutEntry{
		ScopeType:  model.ScopeDomain,
		ScopeValue: "nocontact.com",
		Reason:     "owner request",
	})
	require.NoError(t, err)

	entry, err := st.LatestOptOut(ctx, model.ScopeDomain, "nocontact.com")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "owner request", entry.Reason)
	assert.False(t, entry.RecordedAt.IsZero())
}

func TestSQLite_OptOut_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	entry, err := st.LatestOptOut(context.Background(), model.ScopeDomain, "unknown.com")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestSQLite_OptOut_NewerWriteSupersedes(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	err := st.AddOptOut(ctx, model.OptOutEntry{
		ScopeType: model.ScopeDomain, ScopeValue: "acme.com",
		Reason: "first", RecordedAt: base,
	})
	require.NoError(t, err)

	err = st.AddOptOut(ctx, model.OptOutEntry{
		ScopeType: model.ScopeDomain, ScopeValue: "acme.com",
		Reason: "second", RecordedAt: base.Add(time.Hour),
	})
	require.NoError(t, err)

	entry, err := st.LatestOptOut(ctx, model.ScopeDomain, "acme.com")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "second", entry.Reason)

	all, err := st.ListOptOuts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLite_OptOut_Remove(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.AddOptOut(ctx, model.OptOutEntry{
		ScopeType: model.ScopeEmail, ScopeValue: "ceo@acme.com",
	}))

	require.NoError(t, st.RemoveOptOut(ctx, model.ScopeEmail, "ceo@acme.com"))

	entry, err := st.LatestOptOut(ctx, model.ScopeEmail, "ceo@acme.com")
	require.NoError(t, err)
	assert.Nil(t, entry)

	err = st.RemoveOptOut(ctx, model.ScopeEmail, "ceo@acme.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_OptOut_Import(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	n, err := st.ImportOptOuts(ctx, []model.OptOutEntry{
		{ScopeType: model.ScopeDomain, ScopeValue: "a.com", Reason: "seed"},
		{ScopeType: model.ScopeDomain, ScopeValue: "b.com", Reason: "seed"},
		{ScopeType: model.ScopePhone, ScopeValue: "5550100123", Reason: "dnc list"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	entry, err := st.LatestOptOut(ctx, model.ScopePhone, "5550100123")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "dnc list", entry.Reason)
}

// --- Migrate ---

func TestSQLite_Migrate_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)

	// Migrate was already called in newTestSQLiteStore; calling again should not error.
	require.NoError(t, st.Migrate(context.Background()))
}
