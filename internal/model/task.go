package model

import "time"

// TaskStatus represents the current state of an enrichment task.
type TaskStatus string

const (
	TaskStatusQueued             TaskStatus = "queued"
	TaskStatusDeduplicating      TaskStatus = "deduplicating"
	TaskStatusComplianceChecking TaskStatus = "compliance_checking"
	TaskStatusResolving          TaskStatus = "resolving"
	TaskStatusFetching           TaskStatus = "fetching"
	TaskStatusPersisting         TaskStatus = "persisting"

	// Terminal states. Every task ends in exactly one of these and is
	// committed to the store under it.
	TaskStatusDone               TaskStatus = "done"
	TaskStatusDuplicateSkipped   TaskStatus = "duplicate_skipped"
	TaskStatusComplianceBlocked  TaskStatus = "compliance_blocked"
	TaskStatusNoSourceSkipped    TaskStatus = "no_source_skipped"
	TaskStatusFetchFailed        TaskStatus = "fetch_failed"
	TaskStatusInvalid            TaskStatus = "invalid"
)

// Terminal reports whether no further pipeline stage executes after s.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusDone, TaskStatusDuplicateSkipped, TaskStatusComplianceBlocked,
		TaskStatusNoSourceSkipped, TaskStatusFetchFailed, TaskStatusInvalid:
		return true
	}
	return false
}

// Stage names a pipeline stage for audit purposes.
type Stage string

const (
	StageFingerprint Stage = "fingerprint"
	StageDedup       Stage = "dedup"
	StageCompliance  Stage = "compliance"
	StageResolve     Stage = "resolve"
	StageFetch       Stage = "fetch"
	StagePersist     Stage = "persist"
)

// Task is one candidate flowing through the pipeline.
type Task struct {
	ID          string          `json:"id"`
	Fingerprint Fingerprint     `json:"fingerprint"`
	Candidate   CandidateRecord `json:"candidate"`
	Status      TaskStatus      `json:"status"`
	Outcome     *Outcome        `json:"outcome,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Outcome is the terminal result of a task. For skip/block terminals Result
// is nil and Reason explains the short circuit; for done it carries the
// enrichment payload.
type Outcome struct {
	Status TaskStatus        `json:"status"`
	Reason string            `json:"reason,omitempty"`
	Result *EnrichmentResult `json:"result,omitempty"`
}

// EnrichmentResult holds the data scraped from the business's official site.
type EnrichmentResult struct {
	Domain       string        `json:"domain"`
	Emails       []string      `json:"emails,omitempty"`
	Phones       []string      `json:"phones,omitempty"`
	PagesFetched int           `json:"pages_fetched"`
	Sources      []FieldSource `json:"sources,omitempty"`
	FetchedAt    time.Time     `json:"fetched_at"`
}
