// Package dedup maps fingerprints to their last-known processing state so
// concurrent and repeated sightings of the same business collapse to a
// single enrichment per window.
package dedup

import (
	"context"
	"time"

	"github.com/sells-group/prospector/internal/model"
)

// Decision is the outcome of an atomic check-and-reserve.
type Decision struct {
	// Fresh means the caller won the reservation and must enrich, then call
	// Complete (or Release on abort).
	Fresh bool
	// Reservation is the owner token for the slot; only set when Fresh.
	Reservation string
	// LastOutcome carries the prior terminal outcome when the fingerprint is
	// a duplicate of a completed entry. Nil while another worker still holds
	// the reservation.
	LastOutcome *model.Outcome
}

// Cache is the shared deduplication store. Implementations must make
// CheckAndReserve atomic: of N concurrent callers for one fingerprint,
// exactly one observes Fresh.
type Cache interface {
	// CheckAndReserve reserves fp for the caller if no live entry exists.
	// A reservation expires on its own after the configured reservation
	// timeout, so a crashed worker cannot block a fingerprint forever.
	CheckAndReserve(ctx context.Context, fp model.Fingerprint) (Decision, error)

	// Complete replaces the reservation with the task's terminal outcome,
	// which suppresses re-enrichment until window elapses.
	Complete(ctx context.Context, fp model.Fingerprint, outcome model.Outcome, window time.Duration) error

	// Release frees a reservation early. Only the holder's token releases;
	// a stale token (reservation already expired and re-taken) is a no-op.
	Release(ctx context.Context, fp model.Fingerprint, reservation string) error
}
