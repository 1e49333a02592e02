// Package optout gates enrichment against the opt-out registry.
//
// The gate is read-only: entries are written by an external surface (the
// optout CLI commands, an operator API). It runs before any fetch on every
// task, regardless of dedup state, so a newly recorded opt-out blocks even
// identities with a live dedup entry.
package optout

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/model"
)

// Reader is the read surface over the opt-out registry. Latest returns the
// newest entry for a scope key, or nil when none exists.
type Reader interface {
	LatestOptOut(ctx context.Context, scopeType, scopeValue string) (*model.OptOutEntry, error)
}

// Identity carries the scope keys the gate consults for one task.
type Identity struct {
	Domain      string
	Fingerprint model.Fingerprint
}

// Verdict is the gate's decision for an identity.
type Verdict struct {
	Allowed bool
	Reason  string
	Entry   *model.OptOutEntry
}

// Gate checks identities against the registry.
type Gate struct {
	reader Reader
}

// NewGate creates a Gate over the given registry read surface.
func NewGate(r Reader) *Gate {
	return &Gate{reader: r}
}

// Check returns Blocked when any scope of the identity has an opt-out
// entry. Registry errors propagate; they are pipeline-wide failures, not a
// silent allow.
func (g *Gate) Check(ctx context.Context, id Identity) (Verdict, error) {
	scopes := []struct{ typ, value string }{
		{model.ScopeDomain, id.Domain},
		{model.ScopeFingerprint, string(id.Fingerprint)},
	}

	for _, s := range scopes {
		if s.value == "" {
			continue
		}
		entry, err := g.reader.LatestOptOut(ctx, s.typ, s.value)
		if err != nil {
			return Verdict{}, eris.Wrapf(err, "optout: lookup %s", s.typ)
		}
		if entry != nil {
			reason := entry.Reason
			if reason == "" {
				reason = "opted out (" + s.typ + ")"
			}
			return Verdict{Allowed: false, Reason: reason, Entry: entry}, nil
		}
	}

	return Verdict{Allowed: true}, nil
}
