package dedup

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/model"
)

const dedupKeyPrefix = "dedup:fp:"

// entry is the JSON value stored per fingerprint.
type entry struct {
	State      string         `json:"state"` // "reserved" or "completed"
	Token      string         `json:"token,omitempty"`
	Outcome    *model.Outcome `json:"outcome,omitempty"`
	LastSeenAt time.Time      `json:"last_seen_at"`
}

// releaseScript deletes the key only when it still holds the caller's
// reservation, so an expired-and-retaken slot is left alone.
var releaseScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if not v then return 0 end
local e = cjson.decode(v)
if e.state == "reserved" and e.token == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// touchScript refreshes last_seen_at in place, leaving state, token, and the
// TTL alone.
var touchScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if not v then return 0 end
local e = cjson.decode(v)
e.last_seen_at = ARGV[1]
redis.call("SET", KEYS[1], cjson.encode(e), "KEEPTTL")
return 1
`)

// RedisCache is the production Cache for distributed deployments where all
// workers must agree on who enriches a fingerprint.
type RedisCache struct {
	client             *redis.Client
	reservationTimeout time.Duration
}

// NewRedis creates a RedisCache. reservationTimeout bounds how long a
// crashed worker can hold a slot.
func NewRedis(client *redis.Client, reservationTimeout time.Duration) *RedisCache {
	return &RedisCache{client: client, reservationTimeout: reservationTimeout}
}

func (c *RedisCache) CheckAndReserve(ctx context.Context, fp model.Fingerprint) (Decision, error) {
	key := dedupKeyPrefix + string(fp)
	token := uuid.New().String()

	val, err := json.Marshal(entry{State: "reserved", Token: token, LastSeenAt: time.Now().UTC()})
	if err != nil {
		return Decision{}, eris.Wrap(err, "dedup: marshal reservation")
	}

	// SET NX is the atomic "who gets to enrich" decision.
	ok, err := c.client.SetNX(ctx, key, val, c.reservationTimeout).Result()
	if err != nil {
		return Decision{}, eris.Wrap(err, "dedup: reserve")
	}
	if ok {
		return Decision{Fresh: true, Reservation: token}, nil
	}

	raw, err := c.client.Get(ctx, key).Result()
	if eris.Is(err, redis.Nil) {
		// Entry expired between SETNX and GET; the next sighting re-races.
		return Decision{}, nil
	}
	if err != nil {
		return Decision{}, eris.Wrap(err, "dedup: read entry")
	}

	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Decision{}, eris.Wrap(err, "dedup: unmarshal entry")
	}

	// Each sighting refreshes the entry's timestamp; the TTL stays where
	// reservation or completion set it.
	seenAt := time.Now().UTC().Format(time.RFC3339Nano)
	if err := touchScript.Run(ctx, c.client, []string{key}, seenAt).Err(); err != nil && !eris.Is(err, redis.Nil) {
		return Decision{}, eris.Wrap(err, "dedup: refresh sighting")
	}
	return Decision{LastOutcome: e.Outcome}, nil
}

func (c *RedisCache) Complete(ctx context.Context, fp model.Fingerprint, outcome model.Outcome, window time.Duration) error {
	key := dedupKeyPrefix + string(fp)
	val, err := json.Marshal(entry{State: "completed", Outcome: &outcome, LastSeenAt: time.Now().UTC()})
	if err != nil {
		return eris.Wrap(err, "dedup: marshal outcome")
	}
	if err := c.client.Set(ctx, key, val, window).Err(); err != nil {
		return eris.Wrap(err, "dedup: complete")
	}
	return nil
}

func (c *RedisCache) Release(ctx context.Context, fp model.Fingerprint, reservation string) error {
	key := dedupKeyPrefix + string(fp)
	if err := releaseScript.Run(ctx, c.client, []string{key}, reservation).Err(); err != nil && !eris.Is(err, redis.Nil) {
		return eris.Wrap(err, "dedup: release")
	}
	return nil
}
