package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	ctx := context.Background()
	boom := func(context.Context) error { return eris.New("down") }

	for i := 0; i < 3; i++ {
		require.Error(t, cb.Execute(ctx, boom))
	}
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Execute(ctx, boom)
	assert.True(t, eris.Is(err, ErrCircuitOpen))
}

func TestCircuitBreaker_HalfOpenProbeCloses(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Second})
	cb.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, func(context.Context) error { return eris.New("down") }))
	assert.Equal(t, CircuitOpen, cb.State())

	now = now.Add(11 * time.Second)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, func(context.Context) error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Second})
	cb.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, func(context.Context) error { return eris.New("down") }))
	now = now.Add(11 * time.Second)

	require.Error(t, cb.Execute(ctx, func(context.Context) error { return eris.New("still down") }))
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, func(context.Context) error { return eris.New("down") }))
	require.Error(t, cb.Execute(ctx, func(context.Context) error { return eris.New("down") }))
	require.NoError(t, cb.Execute(ctx, func(context.Context) error { return nil }))
	require.Error(t, cb.Execute(ctx, func(context.Context) error { return eris.New("down") }))

	assert.Equal(t, CircuitClosed, cb.State())
}
