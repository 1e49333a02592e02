package model

import "time"

// AuditEntry is one immutable record of a gating decision or enrichment
// outcome. Entries are append-only; nothing in the core updates or deletes
// them after creation.
type AuditEntry struct {
	ID       string    `json:"id"`
	TaskID   string    `json:"task_id"`
	Stage    Stage     `json:"stage"`
	Decision string    `json:"decision"`
	Outcome  string    `json:"outcome,omitempty"`
	At       time.Time `json:"at"`
}

// Audit decisions recorded per stage.
const (
	DecisionAllowed   = "allowed"
	DecisionBlocked   = "blocked"
	DecisionDuplicate = "duplicate"
	DecisionFresh     = "fresh"
	DecisionVerified  = "verified"
	DecisionNoSource  = "no_source"
	DecisionSuccess   = "success"
	DecisionFailure   = "failure"
	DecisionSkipped   = "skipped"
)

// OptOutEntry is one row of the opt-out registry, keyed by
// (scope_type, scope_value). A newer write for the same scope supersedes
// the older one.
type OptOutEntry struct {
	ScopeType  string    `json:"scope_type"` // domain, email, phone, fingerprint
	ScopeValue string    `json:"scope_value"`
	Reason     string    `json:"reason,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Opt-out scope types consulted by the compliance gate.
const (
	ScopeDomain      = "domain"
	ScopeEmail       = "email"
	ScopePhone       = "phone"
	ScopeFingerprint = "fingerprint"
)
