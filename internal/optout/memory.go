package optout

import (
	"context"
	"sync"

	"github.com/sells-group/prospector/internal/model"
)

// MemoryRegistry is an in-process registry for tests and local runs.
// Append-only like the real one: Add never mutates an existing entry, it
// records a newer one that wins on read.
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries []model.OptOutEntry
}

// NewMemoryRegistry creates an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{}
}

// Add appends an entry.
func (r *MemoryRegistry) Add(entry model.OptOutEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

// LatestOptOut returns the newest entry for the scope key, or nil.
func (r *MemoryRegistry) LatestOptOut(_ context.Context, scopeType, scopeValue string) (*model.OptOutEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *model.OptOutEntry
	for i := range r.entries {
		e := &r.entries[i]
		if e.ScopeType != scopeType || e.ScopeValue != scopeValue {
			continue
		}
		if latest == nil || e.RecordedAt.After(latest.RecordedAt) {
			latest = e
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}
