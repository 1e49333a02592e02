package queue

import (
	"context"

	"github.com/sells-group/prospector/internal/model"
)

// MemoryQueue is a channel-backed Queue for tests and single-box runs.
type MemoryQueue struct {
	ch chan model.CandidateRecord
}

// NewMemory creates a MemoryQueue with the given buffer size.
func NewMemory(size int) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{ch: make(chan model.CandidateRecord, size)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, rec model.CandidateRecord) error {
	select {
	case q.ch <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	select {
	case rec := <-q.ch:
		return &Delivery{
			Record: rec,
			Ack:    func(context.Context) error { return nil },
			Nack: func(ctx context.Context) error {
				return q.Enqueue(ctx, rec)
			},
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports how many candidates are waiting. Test helper.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}
