package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/prospector/internal/model"
)

// MemoryCache is an in-process Cache with the same semantics as RedisCache.
// Suitable for tests and single-box runs.
type MemoryCache struct {
	mu                 sync.Mutex
	entries            map[model.Fingerprint]*memEntry
	reservationTimeout time.Duration
	nowFunc            func() time.Time
}

type memEntry struct {
	state      string
	token      string
	outcome    *model.Outcome
	lastSeenAt time.Time
	expiresAt  time.Time
}

// NewMemory creates a MemoryCache.
func NewMemory(reservationTimeout time.Duration) *MemoryCache {
	return &MemoryCache{
		entries:            make(map[model.Fingerprint]*memEntry),
		reservationTimeout: reservationTimeout,
		nowFunc:            time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (c *MemoryCache) WithNow(now func() time.Time) *MemoryCache {
	c.nowFunc = now
	return c
}

func (c *MemoryCache) CheckAndReserve(_ context.Context, fp model.Fingerprint) (Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	if e, ok := c.entries[fp]; ok && now.Before(e.expiresAt) {
		// Each sighting refreshes the entry's timestamp; the expiry is not
		// extended.
		e.lastSeenAt = now
		return Decision{LastOutcome: e.outcome}, nil
	}

	token := uuid.New().String()
	c.entries[fp] = &memEntry{
		state:      "reserved",
		token:      token,
		lastSeenAt: now,
		expiresAt:  now.Add(c.reservationTimeout),
	}
	return Decision{Fresh: true, Reservation: token}, nil
}

func (c *MemoryCache) Complete(_ context.Context, fp model.Fingerprint, outcome model.Outcome, window time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	c.entries[fp] = &memEntry{
		state:      "completed",
		outcome:    &outcome,
		lastSeenAt: now,
		expiresAt:  now.Add(window),
	}
	return nil
}

func (c *MemoryCache) Release(_ context.Context, fp model.Fingerprint, reservation string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[fp]; ok && e.state == "reserved" && e.token == reservation {
		delete(c.entries, fp)
	}
	return nil
}
