// Package queue is the work-queue input of the pipeline. Delivery is
// at-least-once: the dedup cache and idempotent persistence downstream are
// the defense against redelivered candidates.
package queue

import (
	"context"

	"github.com/sells-group/prospector/internal/model"
)

// Delivery is one dequeued candidate. The consumer must Ack after the task
// reaches a terminal state, or Nack to return it for redelivery.
type Delivery struct {
	Record model.CandidateRecord
	Ack    func(ctx context.Context) error
	Nack   func(ctx context.Context) error
}

// Queue accepts candidate records and hands them to workers.
type Queue interface {
	Enqueue(ctx context.Context, rec model.CandidateRecord) error
	// Dequeue blocks until a candidate is available or ctx ends. A nil
	// delivery with ctx.Err() set means shutdown.
	Dequeue(ctx context.Context) (*Delivery, error)
}
