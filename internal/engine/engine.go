// Package engine orchestrates the enrichment pipeline: a bounded worker pool
// pulls candidates from the queue and drives each one through fingerprint,
// dedup, compliance, resolve, fetch, and persist.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospector/internal/audit"
	"github.com/sells-group/prospector/internal/dedup"
	"github.com/sells-group/prospector/internal/fingerprint"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/optout"
	"github.com/sells-group/prospector/internal/queue"
	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/internal/resolve"
	"github.com/sells-group/prospector/internal/store"
)

// Fetcher scrapes a resolved official site. Satisfied by fetch.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, target model.ResolvedTarget) (*model.EnrichmentResult, error)
}

// Config tunes the orchestration engine.
type Config struct {
	// Workers bounds how many tasks run concurrently.
	Workers int
	// TaskDeadline bounds the wall clock of one task end to end.
	TaskDeadline time.Duration
	// DedupWindow suppresses re-enrichment of a completed fingerprint.
	DedupWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.TaskDeadline <= 0 {
		c.TaskDeadline = 2 * time.Minute
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 24 * time.Hour
	}
	return c
}

// Engine runs the enrichment pipeline.
type Engine struct {
	cfg     Config
	queue   queue.Queue
	cache   dedup.Cache
	gate    *optout.Gate
	fetcher Fetcher
	store   store.Store
	audit   *audit.Emitter
	metrics *Metrics
}

// New creates an Engine. metrics may be nil.
func New(cfg Config, q queue.Queue, cache dedup.Cache, gate *optout.Gate, fetcher Fetcher, st store.Store, emitter *audit.Emitter, metrics *Metrics) *Engine {
	return &Engine{
		cfg:     cfg.withDefaults(),
		queue:   q,
		cache:   cache,
		gate:    gate,
		fetcher: fetcher,
		store:   st,
		audit:   emitter,
		metrics: metrics,
	}
}

// Run consumes the queue with the configured worker pool until ctx is
// cancelled, then drains: no new dequeues, in-flight tasks finish under
// their own deadlines.
func (e *Engine) Run(ctx context.Context) error {
	log := zap.L().With(zap.Int("workers", e.cfg.Workers))
	log.Info("engine: starting worker pool")

	var g errgroup.Group
	for i := 0; i < e.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			e.runWorker(ctx, worker)
			return nil
		})
	}
	err := g.Wait()
	log.Info("engine: worker pool drained")
	return err
}

// Dequeue failure backoff bounds. A dead queue backs the worker off instead
// of spinning it hot.
const (
	dequeueBackoffMin = 100 * time.Millisecond
	dequeueBackoffMax = 5 * time.Second
)

func (e *Engine) runWorker(ctx context.Context, worker int) {
	log := zap.L().With(zap.Int("worker", worker))
	backoff := dequeueBackoffMin
	for {
		delivery, err := e.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.metrics.IncQueueError()
			log.Warn("engine: dequeue failed", zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > dequeueBackoffMax {
				backoff = dequeueBackoffMax
			}
			continue
		}
		backoff = dequeueBackoffMin
		e.handle(ctx, delivery)
	}
}

// handle runs one delivery to a terminal state. The task context detaches
// from the pool context so shutdown drains in-flight work instead of
// aborting it mid-stage.
func (e *Engine) handle(ctx context.Context, delivery *queue.Delivery) {
	done := e.metrics.TrackInFlight()
	defer done()

	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.TaskDeadline)
	defer cancel()

	task, err := e.Process(taskCtx, delivery.Record)

	// Acknowledgement gets its own short deadline: a task that died by the
	// task deadline still has to hand its delivery back.
	ackCtx, ackCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer ackCancel()

	if err != nil {
		// Infrastructure failure before a terminal state: hand the candidate
		// back for redelivery.
		zap.L().Error("engine: task aborted, returning candidate to queue",
			zap.String("place_id", delivery.Record.PlaceID), zap.Error(err))
		if nackErr := delivery.Nack(ackCtx); nackErr != nil {
			e.metrics.IncQueueError()
			zap.L().Error("engine: nack failed", zap.Error(nackErr))
		}
		return
	}

	// Ack failure just means a redelivery; CommitTask is idempotent by ID
	// and the dedup entry suppresses a second fetch.
	if ackErr := delivery.Ack(ackCtx); ackErr != nil {
		e.metrics.IncQueueError()
		zap.L().Warn("engine: ack failed", zap.String("task_id", task.ID), zap.Error(ackErr))
	}
	e.metrics.ObserveOutcome(string(task.Status))
}

// Process drives one candidate through the full pipeline and returns the
// committed terminal task. A returned error means no terminal state was
// reached and the candidate should be redelivered.
func (e *Engine) Process(ctx context.Context, rec model.CandidateRecord) (*model.Task, error) {
	now := time.Now().UTC()
	task := &model.Task{
		ID:        uuid.New().String(),
		Candidate: rec,
		Status:    model.TaskStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	log := zap.L().With(zap.String("task_id", task.ID), zap.String("name", rec.Name))

	// Stage 1: fingerprint.
	start := time.Now()
	fp, err := fingerprint.Compute(rec)
	e.metrics.ObserveStage(string(model.StageFingerprint), time.Since(start))
	if err != nil {
		if !eris.Is(err, fingerprint.ErrInvalidRecord) {
			return nil, eris.Wrap(err, "engine: fingerprint")
		}
		e.recordAudit(ctx, task.ID, model.StageFingerprint, model.DecisionFailure, "record lacks identity fields")
		return e.commitTerminal(ctx, task, model.Outcome{
			Status: model.TaskStatusInvalid,
			Reason: "record lacks identity fields",
		})
	}
	task.Fingerprint = fp

	// Stage 2: dedup reserve. Exactly one concurrent sighting of a
	// fingerprint wins the reservation.
	task.Status = model.TaskStatusDeduplicating
	start = time.Now()
	decision, err := e.cache.CheckAndReserve(ctx, fp)
	e.metrics.ObserveStage(string(model.StageDedup), time.Since(start))
	if err != nil {
		return nil, eris.Wrap(err, "engine: dedup check")
	}
	if !decision.Fresh {
		reason := "enrichment in progress for this fingerprint"
		if decision.LastOutcome != nil {
			reason = "duplicate of prior outcome: " + string(decision.LastOutcome.Status)
		}
		e.recordAudit(ctx, task.ID, model.StageDedup, model.DecisionDuplicate, reason)

		// The gate still runs on duplicates: an opt-out recorded after the
		// prior enrichment must block every later sighting of the identity.
		verdict, err := e.checkCompliance(ctx, task)
		if err != nil {
			return nil, err
		}
		if !verdict.Allowed {
			log.Info("engine: compliance blocked", zap.String("reason", verdict.Reason))
			return e.commitTerminal(ctx, task, model.Outcome{
				Status: model.TaskStatusComplianceBlocked,
				Reason: verdict.Reason,
			})
		}

		log.Info("engine: duplicate skipped", zap.String("fingerprint", string(fp)))
		return e.commitTerminal(ctx, task, model.Outcome{
			Status: model.TaskStatusDuplicateSkipped,
			Reason: reason,
		})
	}
	e.recordAudit(ctx, task.ID, model.StageDedup, model.DecisionFresh, "")

	// The reservation is held from here on: every early return below must
	// either Complete it with a terminal outcome or Release it.
	outcome, err := e.enrich(ctx, task, log)
	if err != nil {
		e.releaseReservation(ctx, fp, decision.Reservation)
		return nil, err
	}

	committed, err := e.commitTerminal(ctx, task, *outcome)
	if err != nil {
		e.releaseReservation(ctx, fp, decision.Reservation)
		return nil, err
	}

	if cacheErr := e.cache.Complete(ctx, fp, *outcome, e.cfg.DedupWindow); cacheErr != nil {
		// The outcome is already committed; a lost dedup entry only risks a
		// redundant enrichment later.
		log.Warn("engine: dedup complete failed", zap.Error(cacheErr))
		e.releaseReservation(ctx, fp, decision.Reservation)
	}
	return committed, nil
}

// enrich runs compliance, resolve, and fetch for a task that won its dedup
// reservation, returning the terminal outcome. An error means an
// infrastructure failure, not a terminal.
func (e *Engine) enrich(ctx context.Context, task *model.Task, log *zap.Logger) (*model.Outcome, error) {
	rec := task.Candidate

	// Stage 3: compliance. Always before any fetch; a registry error blocks
	// rather than silently allowing.
	verdict, err := e.checkCompliance(ctx, task)
	if err != nil {
		return nil, err
	}
	if !verdict.Allowed {
		log.Info("engine: compliance blocked", zap.String("reason", verdict.Reason))
		return &model.Outcome{Status: model.TaskStatusComplianceBlocked, Reason: verdict.Reason}, nil
	}

	// Stage 4: official-source resolution.
	task.Status = model.TaskStatusResolving
	start := time.Now()
	resolution := resolve.Resolve(rec)
	e.metrics.ObserveStage(string(model.StageResolve), time.Since(start))
	if !resolution.Verified {
		e.recordAudit(ctx, task.ID, model.StageResolve, model.DecisionNoSource, resolution.Reason)
		log.Info("engine: no official source", zap.String("reason", resolution.Reason))
		return &model.Outcome{Status: model.TaskStatusNoSourceSkipped, Reason: resolution.Reason}, nil
	}
	e.recordAudit(ctx, task.ID, model.StageResolve, model.DecisionVerified, resolution.Target.Domain)

	// Stage 5: fetch.
	task.Status = model.TaskStatusFetching
	start = time.Now()
	result, err := e.fetcher.Fetch(ctx, resolution.Target)
	e.metrics.ObserveStage(string(model.StageFetch), time.Since(start))
	if err != nil {
		e.recordAudit(ctx, task.ID, model.StageFetch, model.DecisionFailure, err.Error())
		log.Warn("engine: fetch failed", zap.String("domain", resolution.Target.Domain), zap.Error(err))
		return &model.Outcome{Status: model.TaskStatusFetchFailed, Reason: err.Error()}, nil
	}
	e.recordAudit(ctx, task.ID, model.StageFetch, model.DecisionSuccess, resolution.Target.Domain)

	return &model.Outcome{Status: model.TaskStatusDone, Result: result}, nil
}

// checkCompliance runs the opt-out gate for the task's identity and records
// the stage decision. It runs on every task, duplicates included, so a newly
// recorded opt-out binds even while a dedup entry exists.
func (e *Engine) checkCompliance(ctx context.Context, task *model.Task) (optout.Verdict, error) {
	task.Status = model.TaskStatusComplianceChecking
	claimedDomain, _ := resolve.CanonicalDomain(task.Candidate.ClaimedWebsite)

	start := time.Now()
	verdict, err := e.gate.Check(ctx, optout.Identity{
		Domain:      claimedDomain,
		Fingerprint: task.Fingerprint,
	})
	e.metrics.ObserveStage(string(model.StageCompliance), time.Since(start))
	if err != nil {
		return optout.Verdict{}, eris.Wrap(err, "engine: compliance check")
	}

	if !verdict.Allowed {
		e.recordAudit(ctx, task.ID, model.StageCompliance, model.DecisionBlocked, verdict.Reason)
	} else {
		e.recordAudit(ctx, task.ID, model.StageCompliance, model.DecisionAllowed, "")
	}
	return verdict, nil
}

// commitTerminal persists the task under its terminal status. It is the
// single persist per task; CommitTask's ON CONFLICT keeps redeliveries from
// duplicating it.
func (e *Engine) commitTerminal(ctx context.Context, task *model.Task, outcome model.Outcome) (*model.Task, error) {
	task.Status = outcome.Status
	task.Outcome = &outcome
	task.UpdatedAt = time.Now().UTC()

	retryCfg := resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		ShouldRetry:    func(err error) bool { return !resilience.IsFatal(err) },
		OnRetry:        resilience.RetryLogger("engine", "commit task"),
	}

	start := time.Now()
	err := resilience.Do(ctx, retryCfg, func(ctx context.Context) error {
		_, commitErr := e.store.CommitTask(ctx, *task)
		return commitErr
	})
	e.metrics.ObserveStage(string(model.StagePersist), time.Since(start))
	if err != nil {
		e.recordAudit(ctx, task.ID, model.StagePersist, model.DecisionFailure, err.Error())
		return nil, eris.Wrapf(err, "engine: commit task %s", task.ID)
	}

	e.recordAudit(ctx, task.ID, model.StagePersist, model.DecisionSuccess, string(outcome.Status))
	return task, nil
}

// recordAudit appends an audit entry. The trail is best-effort relative to
// the pipeline: a failed append logs a warning but does not abort the task,
// since the committed task row is the authoritative record.
func (e *Engine) recordAudit(ctx context.Context, taskID string, stage model.Stage, decision, outcome string) {
	if err := e.audit.Record(ctx, taskID, stage, decision, outcome); err != nil {
		zap.L().Warn("engine: audit append failed",
			zap.String("task_id", taskID),
			zap.String("stage", string(stage)),
			zap.Error(err),
		)
	}
}

func (e *Engine) releaseReservation(ctx context.Context, fp model.Fingerprint, reservation string) {
	// Release with a fresh short deadline; the task context may already be
	// expired, and an unreleased slot stalls the fingerprint until the
	// reservation timeout.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.cache.Release(releaseCtx, fp, reservation); err != nil {
		zap.L().Warn("engine: reservation release failed", zap.String("fingerprint", string(fp)), zap.Error(err))
	}
}
