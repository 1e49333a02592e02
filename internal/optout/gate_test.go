package optout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/model"
)

func TestCheck_AllowedWhenRegistryEmpty(t *testing.T) {
	gate := NewGate(NewMemoryRegistry())

	v, err := gate.Check(context.Background(), Identity{Domain: "acmebakery.com", Fingerprint: "f1"})
	require.NoError(t, err)
	assert.True(t, v.Allowed)
}

func TestCheck_BlockedByDomainScope(t *testing.T) {
	reg := NewMemoryRegistry()
	reg.Add(model.OptOutEntry{
		ScopeType:  model.ScopeDomain,
		ScopeValue: "acmebakery.com",
		Reason:     "owner request",
		RecordedAt: time.Now(),
	})
	gate := NewGate(reg)

	v, err := gate.Check(context.Background(), Identity{Domain: "acmebakery.com"})
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, "owner request", v.Reason)
	require.NotNil(t, v.Entry)
}

func TestCheck_BlockedByFingerprintScope(t *testing.T) {
	reg := NewMemoryRegistry()
	reg.Add(model.OptOutEntry{
		ScopeType:  model.ScopeFingerprint,
		ScopeValue: "f1",
		RecordedAt: time.Now(),
	})
	gate := NewGate(reg)

	v, err := gate.Check(context.Background(), Identity{Domain: "other.com", Fingerprint: "f1"})
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "fingerprint")
}

func TestCheck_LastWriteWins(t *testing.T) {
	reg := NewMemoryRegistry()
	now := time.Now()
	reg.Add(model.OptOutEntry{ScopeType: model.ScopeDomain, ScopeValue: "acmebakery.com", Reason: "old", RecordedAt: now.Add(-time.Hour)})
	reg.Add(model.OptOutEntry{ScopeType: model.ScopeDomain, ScopeValue: "acmebakery.com", Reason: "new", RecordedAt: now})
	gate := NewGate(reg)

	v, err := gate.Check(context.Background(), Identity{Domain: "acmebakery.com"})
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, "new", v.Reason)
}

func TestCheck_EmptyScopesSkipped(t *testing.T) {
	reg := NewMemoryRegistry()
	// An entry keyed on the empty string must never match an empty identity field.
	reg.Add(model.OptOutEntry{ScopeType: model.ScopeDomain, ScopeValue: "", RecordedAt: time.Now()})
	gate := NewGate(reg)

	v, err := gate.Check(context.Background(), Identity{Fingerprint: "f1"})
	require.NoError(t, err)
	assert.True(t, v.Allowed)
}
