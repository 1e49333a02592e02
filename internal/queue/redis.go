package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/model"
)

const (
	pendingKey    = "queue:candidates"
	processingKey = "queue:candidates:processing"
)

// RedisQueue is a Redis-list-backed Queue. Dequeue atomically moves the
// payload to a processing list (BLMOVE), so a worker crash leaves the
// payload visible for recovery instead of losing it; Ack removes it.
type RedisQueue struct {
	client *redis.Client
}

// NewRedis creates a RedisQueue.
func NewRedis(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Enqueue(ctx context.Context, rec model.CandidateRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "queue: marshal candidate")
	}
	if err := q.client.LPush(ctx, pendingKey, payload).Err(); err != nil {
		return eris.Wrap(err, "queue: enqueue")
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Short blocking pops keep shutdown responsive.
		payload, err := q.client.BLMove(ctx, pendingKey, processingKey, "RIGHT", "LEFT", time.Second).Result()
		if eris.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, eris.Wrap(err, "queue: dequeue")
		}

		var rec model.CandidateRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			// Poison payload: drop it from processing and keep consuming.
			_ = q.client.LRem(ctx, processingKey, 1, payload).Err()
			return nil, eris.Wrap(err, "queue: unmarshal candidate")
		}

		return &Delivery{
			Record: rec,
			Ack: func(ctx context.Context) error {
				return eris.Wrap(q.client.LRem(ctx, processingKey, 1, payload).Err(), "queue: ack")
			},
			Nack: func(ctx context.Context) error {
				pipe := q.client.TxPipeline()
				pipe.LPush(ctx, pendingKey, payload)
				pipe.LRem(ctx, processingKey, 1, payload)
				_, err := pipe.Exec(ctx)
				return eris.Wrap(err, "queue: nack")
			},
		}, nil
	}
}

// Requeue moves every payload stranded on the processing list back to the
// pending list. Run at worker startup to recover work lost to a crash.
func (q *RedisQueue) Requeue(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := q.client.LMove(ctx, processingKey, pendingKey, "RIGHT", "LEFT").Result()
		if eris.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, eris.Wrap(err, "queue: requeue")
		}
		moved++
	}
}
