// Package jobs runs background ingestion work on a bounded worker pool
// with a FIFO overflow queue backed by the jobs table.
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oap-labs/oapd/internal/apperr"
	"github.com/oap-labs/oapd/internal/auth"
	"github.com/oap-labs/oapd/internal/store"
)

// Handler executes one job. It receives the persisted row, the
// runtime payload supplied at submission, and a progress callback.
// The returned result is stored as the job's result_data.
type Handler func(ctx context.Context, job *store.Job, payload interface{}, progress func(step string, percent int)) (result json.RawMessage, docs, chunks int, err error)

type queued struct {
	job     *store.Job
	payload interface{}
}

// Scheduler owns the worker pool. Jobs start in enqueue order;
// completion may interleave freely. Cancellation is cooperative:
// running handlers observe context cancellation at their next yield.
type Scheduler struct {
	jobs    store.JobStore
	handler Handler
	maxConc int
	log     *slog.Logger

	mu      sync.Mutex
	queue   []queued
	cancels map[uuid.UUID]context.CancelFunc
	active  int
	baseCtx context.Context
	wg      sync.WaitGroup
}

func NewScheduler(jobs store.JobStore, handler Handler, maxConcurrent int, log *slog.Logger) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	return &Scheduler{
		jobs:    jobs,
		handler: handler,
		maxConc: maxConcurrent,
		log:     log,
		cancels: map[uuid.UUID]context.CancelFunc{},
		baseCtx: context.Background(),
	}
}

// Start binds workers to ctx; cancelling it cancels all running jobs.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
}

// Wait blocks until all running workers finish.
func (s *Scheduler) Wait() { s.wg.Wait() }

// Submit persists a pending job and either starts it immediately or
// enqueues it. The estimate is a UI hint only.
func (s *Scheduler) Submit(ctx context.Context, actor auth.Actor, collectionID uuid.UUID, jobType store.JobType, input, options json.RawMessage, estimateSeconds *int, payload interface{}) (*store.Job, error) {
	now := time.Now().UTC()
	j := &store.Job{
		ID:                store.GenNewID(),
		UserID:            actor.UserID,
		CollectionID:      collectionID,
		Type:              jobType,
		Status:            store.JobPending,
		InputData:         input,
		ProcessingOptions: options,
		EstimatedSeconds:  estimateSeconds,
		CreatedAt:         now,
	}
	if err := s.jobs.Create(ctx, j); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.active < s.maxConc {
		s.active++
		s.startWorker(j, payload)
		s.mu.Unlock()
		s.log.Info("job started", "id", j.ID, "type", jobType)
		return j, nil
	}
	s.queue = append(s.queue, queued{job: j, payload: payload})
	pos := len(s.queue)
	s.mu.Unlock()

	step := fmt.Sprintf("queued (position %d)", pos)
	if err := s.jobs.UpdateProgress(ctx, j.ID, step, 0); err != nil {
		s.log.Warn("update queue position failed", "id", j.ID, "error", err)
	}
	j.CurrentStep = step
	s.log.Info("job queued", "id", j.ID, "type", jobType, "position", pos)
	return j, nil
}

// startWorker must be called with mu held and active already counted.
func (s *Scheduler) startWorker(j *store.Job, payload interface{}) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.cancels[j.ID] = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runJob(ctx, j, payload)

		s.mu.Lock()
		delete(s.cancels, j.ID)
		cancel()
		next, ok := s.dequeue()
		if ok {
			s.startWorker(next.job, next.payload)
		} else {
			s.active--
		}
		s.mu.Unlock()
	}()
}

// dequeue pops the queue head and refreshes the queue positions of the
// remaining entries. Must be called with mu held.
func (s *Scheduler) dequeue() (queued, bool) {
	if len(s.queue) == 0 {
		return queued{}, false
	}
	head := s.queue[0]
	s.queue = s.queue[1:]
	s.renumberQueue()
	return head, true
}

// renumberQueue refreshes the queue-position step text of every entry
// still waiting. Must be called with mu held.
func (s *Scheduler) renumberQueue() {
	for i, q := range s.queue {
		step := fmt.Sprintf("queued (position %d)", i+1)
		if err := s.jobs.UpdateProgress(context.Background(), q.job.ID, step, 0); err != nil {
			s.log.Warn("update queue position failed", "id", q.job.ID, "error", err)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, j *store.Job, payload interface{}) {
	started := time.Now().UTC()
	if err := s.jobs.MarkProcessing(context.Background(), j.ID, started); err != nil {
		// Raced with a cancel while pending.
		if apperr.Is(err, apperr.Conflict) {
			s.log.Info("job no longer pending, skipping", "id", j.ID)
			return
		}
		s.log.Error("mark processing failed", "id", j.ID, "error", err)
		return
	}

	progress := func(step string, percent int) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		if err := s.jobs.UpdateProgress(context.Background(), j.ID, step, percent); err != nil {
			s.log.Warn("update progress failed", "id", j.ID, "error", err)
		}
	}

	result, docs, chunks, err := s.handler(ctx, j, payload, progress)
	done := time.Now().UTC()

	switch {
	case err == nil:
		if err := s.jobs.Complete(context.Background(), j.ID, result, docs, chunks, done); err != nil {
			s.log.Error("complete job failed", "id", j.ID, "error", err)
		}
		s.log.Info("job completed", "id", j.ID, "documents", docs, "chunks", chunks,
			"duration", done.Sub(started))
	case errors.Is(err, context.Canceled):
		if _, err := s.jobs.Cancel(context.Background(), j.ID, done); err != nil {
			s.log.Error("cancel job failed", "id", j.ID, "error", err)
		}
		s.log.Info("job cancelled", "id", j.ID)
	default:
		if err2 := s.jobs.Fail(context.Background(), j.ID, err.Error(), done); err2 != nil {
			s.log.Error("fail job failed", "id", j.ID, "error", err2)
		}
		s.log.Warn("job failed", "id", j.ID, "error", err)
	}
}

// Get returns a job. Users see only their own; service principals see
// all.
func (s *Scheduler) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*store.Job, error) {
	j, err := s.jobs.Get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "job %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if !actor.IsService() && j.UserID != actor.UserID {
		return nil, apperr.New(apperr.Forbidden, "job %s belongs to another user", id)
	}
	return j, nil
}

// List pages jobs. Regular users are pinned to their own jobs.
func (s *Scheduler) List(ctx context.Context, actor auth.Actor, opts store.JobListOpts) ([]store.Job, int, error) {
	if !actor.IsService() {
		opts.UserID = actor.UserID
	}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	return s.jobs.List(ctx, opts)
}

// Cancel requests cancellation. Pending jobs flip to cancelled
// immediately (and leave the queue); processing jobs get their context
// cancelled and finish cooperatively.
func (s *Scheduler) Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID) (*store.Job, error) {
	j, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if j.Status.Terminal() {
		return nil, apperr.New(apperr.Conflict, "job %s is already %s", id, j.Status)
	}

	s.mu.Lock()
	for i, q := range s.queue {
		if q.job.ID == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			s.renumberQueue()
			break
		}
	}
	cancel, running := s.cancels[id]
	s.mu.Unlock()

	if running {
		// The worker observes the cancelled context and persists the
		// terminal state itself.
		cancel()
		s.log.Info("job cancellation requested", "id", id)
		return s.jobs.Get(ctx, id)
	}

	ok, err := s.jobs.Cancel(ctx, id, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.Conflict, "job %s is already terminal", id)
	}
	s.log.Info("pending job cancelled", "id", id)
	return s.jobs.Get(ctx, id)
}
