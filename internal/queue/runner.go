// Package queue hosts the worker's named job queues and recurring triggers.
// Durability comes from the database: every unit of work is a row (a queue
// entry or an unclassified message) before a job is ever enqueued in memory,
// so a crash between enqueue and run loses nothing - the next trigger firing
// re-finds the row.
package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"dealflow/pkg/logger"

	"go.uber.org/zap"
)

// Job is one unit of work bound for a named queue. Run owns its own state
// transitions; Fail, when set, records the failure when Run errors or panics.
type Job struct {
	Queue string
	Name  string
	Run   func(ctx context.Context) error
	Fail  func(ctx context.Context, err error)
}

// Trigger fires Fn on a fixed cadence. Fn should only find work and enqueue
// jobs, never do slow work inline, so one slow external call cannot block the
// cadence that scheduled it.
type Trigger struct {
	Name     string
	Interval time.Duration
	Fn       func(ctx context.Context)
}

type workQueue struct {
	name        string
	concurrency int
	jobs        chan Job
}

// Runner drives the queues and triggers for a single scheduler instance.
type Runner struct {
	mu       sync.Mutex
	queues   map[string]*workQueue
	triggers []Trigger
	paused   func() bool

	processed atomic.Int64
	failed    atomic.Int64

	observer Observer
}

// Observer receives job outcomes; the prometheus implementation lives in
// internal/metrics.
type Observer interface {
	JobProcessed(queue string, elapsed time.Duration)
	JobFailed(queue string)
}

func NewRunner(paused func() bool, observer Observer) *Runner {
	return &Runner{
		queues:   make(map[string]*workQueue),
		paused:   paused,
		observer: observer,
	}
}

// AddQueue registers a named queue. Concurrency is pinned per queue: the
// send and costar queues run at 1 because their externals are rate- or
// stealth-sensitive.
func (r *Runner) AddQueue(name string, concurrency, buffer int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[name] = &workQueue{
		name:        name,
		concurrency: concurrency,
		jobs:        make(chan Job, buffer),
	}
}

func (r *Runner) AddTrigger(t Trigger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers = append(r.triggers, t)
}

// Enqueue hands a job to its queue. Blocks when the queue buffer is full,
// which backpressures the trigger that found the work.
func (r *Runner) Enqueue(ctx context.Context, job Job) error {
	r.mu.Lock()
	q, ok := r.queues[job.Queue]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown queue %q", job.Queue)
	}
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts every queue worker and trigger loop and blocks until ctx is
// cancelled and in-flight jobs have finished.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup

	r.mu.Lock()
	for _, q := range r.queues {
		for i := 0; i < q.concurrency; i++ {
			wg.Add(1)
			go func(q *workQueue) {
				defer wg.Done()
				r.consume(ctx, q)
			}(q)
		}
		logger.Info("queue started",
			zap.String("queue", q.name),
			zap.Int("concurrency", q.concurrency))
	}
	for _, t := range r.triggers {
		wg.Add(1)
		go func(t Trigger) {
			defer wg.Done()
			r.tick(ctx, t)
		}(t)
	}
	r.mu.Unlock()

	wg.Wait()
	logger.Info("queue runner stopped")
}

// Stats returns jobs processed and failed since start, for the heartbeat.
func (r *Runner) Stats() (processed, failed int64) {
	return r.processed.Load(), r.failed.Load()
}

func (r *Runner) consume(ctx context.Context, q *workQueue) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			r.execute(ctx, job)
		}
	}
}

func (r *Runner) tick(ctx context.Context, t Trigger) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	logger.Info("trigger started",
		zap.String("trigger", t.Name),
		zap.Duration("interval", t.Interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.paused() {
				logger.Debug("trigger skipped, worker paused", zap.String("trigger", t.Name))
				continue
			}
			t.Fn(ctx)
		}
	}
}

// execute wraps every handler: panics are caught and logged with elapsed
// time, a paused worker no-ops without error, and failures flow to the job's
// own Fail hook so its row-level retry state takes over.
func (r *Runner) execute(ctx context.Context, job Job) {
	if r.paused() {
		logger.Debug("job skipped, worker paused",
			zap.String("queue", job.Queue),
			zap.String("job", job.Name))
		return
	}

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic in job handler: %v", rec)
			}
		}()
		return job.Run(ctx)
	}()
	elapsed := time.Since(start)

	if err != nil {
		r.failed.Add(1)
		if r.observer != nil {
			r.observer.JobFailed(job.Queue)
		}
		logger.Error("job failed",
			zap.String("queue", job.Queue),
			zap.String("job", job.Name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		if job.Fail != nil {
			job.Fail(ctx, err)
		}
		return
	}

	r.processed.Add(1)
	if r.observer != nil {
		r.observer.JobProcessed(job.Queue, elapsed)
	}
	logger.Debug("job done",
		zap.String("queue", job.Queue),
		zap.String("job", job.Name),
		zap.Duration("elapsed", elapsed))
}
