// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianKG/services/knowledge/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

var (
	tracer = otel.Tracer("knowledge.jobs")
	meter  = otel.Meter("knowledge.jobs")

	jobsTotal   metric.Int64Counter
	jobDuration metric.Float64Histogram
	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the job metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		jobsTotal, err = meter.Int64Counter(
			"kg_jobs_total",
			metric.WithDescription("Finished jobs by kind and final state"),
		)
		if err != nil {
			metricsErr = err
			return
		}
		jobDuration, err = meter.Float64Histogram(
			"kg_job_duration_seconds",
			metric.WithDescription("Wall time from job start to finish"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

// Func is the work a job performs. The context is cancelled on timeout or
// when the Runner is forcibly shut down.
type Func func(ctx context.Context) (any, error)

type record struct {
	job  Job
	done chan struct{}
}

// Runner executes jobs asynchronously.
//
// Thread Safety: Safe for concurrent use.
type Runner struct {
	cfg     Config
	logger  *slog.Logger
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	flight  singleflight.Group

	// baseCtx parents every execution; cancel aborts them all.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	records  map[string]*record
	finished []string
	closed   bool
}

// NewRunner creates a Runner. Zero config fields take defaults, except
// Timeout and SubmitRate where 0 means unbounded.
//
// Example:
//
//	runner := jobs.NewRunner(cfg.Jobs, logger)
//	defer runner.Shutdown(ctx)
func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	cfg = cfg.normalize()
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.SubmitRate > 0 {
		limit = rate.Limit(cfg.SubmitRate)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "jobs")),
		limiter: rate.NewLimiter(limit, cfg.SubmitBurst),
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		baseCtx: ctx,
		cancel:  cancel,
		records: make(map[string]*record),
	}
}

// Submit schedules fn and returns immediately.
//
// Description:
//
//	The job starts in StatePending and moves to StateRunning once its
//	goroutine starts. If a job of the same kind is already executing,
//	this job waits for and shares that execution's outcome instead of
//	running fn, and is marked Shared. A shared outcome describes the state
//	the execution observed, not the state at the time this job finishes.
//
// Inputs:
//
//	kind - Coalescing key, e.g. "centrality".
//	fn - The work.
//
// Outputs:
//
//	Job - Snapshot with the assigned id.
//	error - ErrRateLimited or ErrClosed.
func (r *Runner) Submit(kind string, fn Func) (Job, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Job{}, ErrClosed
	}
	if !r.limiter.Allow() {
		r.mu.Unlock()
		return Job{}, fmt.Errorf("%w: kind %s", ErrRateLimited, kind)
	}

	rec := &record{
		job: Job{
			ID:          uuid.NewString(),
			Kind:        kind,
			State:       StatePending,
			SubmittedAt: time.Now(),
		},
		done: make(chan struct{}),
	}
	r.records[rec.job.ID] = rec
	r.wg.Add(1)
	job := rec.job
	r.mu.Unlock()

	go r.execute(rec, fn)
	return job, nil
}

// Run submits fn and waits for it to finish.
//
// Outputs:
//
//	Job - Final snapshot. Check State and Error for the outcome of fn.
//	error - Submission errors, or ctx.Err() if ctx ends first (the job
//	keeps running and can be polled with Get).
func (r *Runner) Run(ctx context.Context, kind string, fn Func) (Job, error) {
	job, err := r.Submit(kind, fn)
	if err != nil {
		return Job{}, err
	}
	return r.Wait(ctx, job.ID)
}

// Wait blocks until the job finishes or ctx ends.
func (r *Runner) Wait(ctx context.Context, id string) (Job, error) {
	r.mu.Lock()
	rec, ok := r.records[id]
	r.mu.Unlock()
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	select {
	case <-rec.done:
	case <-ctx.Done():
		snap, _ := r.Get(id)
		return snap, ctx.Err()
	}
	return r.Get(id)
}

// Get returns a snapshot of the job.
func (r *Runner) Get(id string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return rec.job, nil
}

// Shutdown stops accepting jobs and waits for running ones.
//
// If ctx ends first, running jobs are cancelled and ctx.Err() is returned.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

func (r *Runner) execute(rec *record, fn Func) {
	defer r.wg.Done()

	r.mu.Lock()
	rec.job.State = StateRunning
	rec.job.StartedAt = time.Now()
	id, kind := rec.job.ID, rec.job.Kind
	r.mu.Unlock()

	ctx, span := tracer.Start(r.baseCtx, "jobs.Runner.execute",
		trace.WithAttributes(
			attribute.String("job.id", id),
			attribute.String("job.kind", kind),
		),
	)
	defer span.End()

	result, err, shared := r.flight.Do(kind, func() (any, error) {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer r.sem.Release(1)

		runCtx := ctx
		if r.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
			defer cancel()
		}
		return fn(runCtx)
	})

	span.SetAttributes(attribute.Bool("job.shared", shared))
	telemetry.RecordError(span, err)
	r.finish(ctx, rec, result, err, shared)
}

func (r *Runner) finish(ctx context.Context, rec *record, result any, err error, shared bool) {
	r.mu.Lock()
	rec.job.FinishedAt = time.Now()
	rec.job.Shared = shared
	if err != nil {
		rec.job.State = StateFailed
		rec.job.Error = err.Error()
	} else {
		rec.job.State = StateSucceeded
		rec.job.Result = result
	}
	job := rec.job
	close(rec.done)

	r.finished = append(r.finished, job.ID)
	for len(r.finished) > r.cfg.MaxRetained {
		delete(r.records, r.finished[0])
		r.finished = r.finished[1:]
	}
	r.mu.Unlock()

	elapsed := job.FinishedAt.Sub(job.StartedAt)
	logger := telemetry.LoggerWithTrace(ctx, r.logger)
	attrs := []any{
		slog.String("job_id", job.ID),
		slog.String("kind", job.Kind),
		slog.String("state", string(job.State)),
		slog.Bool("shared", shared),
		slog.Duration("duration", elapsed),
	}
	if err != nil {
		logger.Warn("job failed", append(attrs, slog.String("error", job.Error))...)
	} else {
		logger.Info("job finished", attrs...)
	}

	if initMetrics() == nil {
		set := metric.WithAttributes(
			attribute.String("kind", job.Kind),
			attribute.String("state", string(job.State)),
		)
		jobsTotal.Add(ctx, 1, set)
		jobDuration.Record(ctx, elapsed.Seconds(), set)
	}
}
