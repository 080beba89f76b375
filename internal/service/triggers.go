package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dealflow/internal/config"
	"dealflow/internal/extractor"
	"dealflow/internal/metrics"
	"dealflow/internal/model"
	"dealflow/internal/queue"
	"dealflow/internal/ratelimit"
	"dealflow/internal/repository"
	"dealflow/internal/sendwindow"
	"dealflow/pkg/logger"

	"go.uber.org/zap"
)

// Extractor is the opaque browser-automation data service.
type Extractor interface {
	Status(ctx context.Context) (*extractor.StatusResponse, error)
	Count(ctx context.Context) (int, error)
}

// Scheduler declares the recurring triggers and binds them to the runner's
// named queues. Triggers only find work and enqueue jobs; the queues do the
// slow parts.
type Scheduler struct {
	runner      *queue.Runner
	queueRepo   repository.QueueInterface
	messageRepo repository.MessageInterface
	dispatcher  *Dispatcher
	pipeline    *Pipeline
	extractor   Extractor
	limiter     RateLimiter
	settings    *SettingsStore
	observer    metrics.Observer

	batchSize int
	now       func() time.Time

	// Classification messages enqueued but not yet finished. The classify
	// queue runs at concurrency 2, so without this a slow job lets the next
	// check-replies tick enqueue the same message again.
	inflightMu sync.Mutex
	inflight   map[int64]struct{}
}

// staleProcessingAge bounds how long a row may sit in processing before it is
// treated as abandoned by a crashed worker. Longer than any humanized pause
// plus delivery, so a live dispatch is never reclaimed out from under itself.
const staleProcessingAge = 10 * time.Minute

func NewScheduler(
	runner *queue.Runner,
	queueRepo repository.QueueInterface,
	messageRepo repository.MessageInterface,
	dispatcher *Dispatcher,
	pipeline *Pipeline,
	ext Extractor,
	limiter RateLimiter,
	settings *SettingsStore,
	observer metrics.Observer,
	batchSize int,
) *Scheduler {
	return &Scheduler{
		runner:      runner,
		queueRepo:   queueRepo,
		messageRepo: messageRepo,
		dispatcher:  dispatcher,
		pipeline:    pipeline,
		extractor:   ext,
		limiter:     limiter,
		settings:    settings,
		observer:    observer,
		batchSize:   batchSize,
		now:         time.Now,
		inflight:    make(map[int64]struct{}),
	}
}

// Register declares the queues (send and costar pinned to concurrency 1,
// classification at 2) and the recurring triggers.
func (s *Scheduler) Register(cfg config.WorkerConfig) {
	s.runner.AddQueue(model.QueueSend, 1, 64)
	s.runner.AddQueue(model.QueueCoStar, 1, 8)
	s.runner.AddQueue(model.QueueClassify, 2, 64)

	s.runner.AddTrigger(queue.Trigger{
		Name:     "queue-process",
		Interval: cfg.QueueInterval,
		Fn:       s.processQueue,
	})
	s.runner.AddTrigger(queue.Trigger{
		Name:     "check-replies",
		Interval: cfg.ReplyInterval,
		Fn:       s.checkReplies,
	})
	s.runner.AddTrigger(queue.Trigger{
		Name:     "costar-poll",
		Interval: cfg.QueueInterval,
		Fn:       s.pollExtractor,
	})
}

// processQueue pulls ready rows and enqueues one dispatch job per row. The
// rate budget is checked here as a cheap gate; the dispatch handler
// re-checks it authoritatively before sending.
func (s *Scheduler) processQueue(ctx context.Context) {
	snap := s.settings.Snapshot()
	s.publishDepth(ctx)
	s.reclaimStale(ctx)

	status := s.limiter.Check(ctx, snap.RateGroup, ratelimit.Limits{
		Hourly: snap.HourlySendLimit,
		Daily:  snap.DailySendLimit,
	})
	if !status.CanSend {
		logger.Debug("queue-process skipped, rate budget exhausted",
			zap.String("reason", status.Reason))
		return
	}

	entries, err := s.queueRepo.FetchReady(ctx, model.QueueSend, s.now(), s.batchSize)
	if err != nil {
		logger.Error("failed to fetch ready queue entries", zap.Error(err))
		return
	}

	for _, entry := range entries {
		id := entry.ID
		job := queue.Job{
			Queue: model.QueueSend,
			Name:  fmt.Sprintf("dispatch-%d", id),
			Run: func(ctx context.Context) error {
				return s.dispatcher.Handle(ctx, id)
			},
			Fail: func(ctx context.Context, err error) {
				s.dispatcher.FailEntry(ctx, id, err)
			},
		}
		if err := s.runner.Enqueue(ctx, job); err != nil {
			logger.Warn("dispatch enqueue failed", zap.Int64("id", id), zap.Error(err))
			return
		}
	}

	if len(entries) > 0 {
		logger.Info("queue entries enqueued for dispatch", zap.Int("count", len(entries)))
	}
}

// reclaimStale returns processing rows a crashed worker left behind. Runs
// before the rate gate: orphans must come back even when the budget is spent.
func (s *Scheduler) reclaimStale(ctx context.Context) {
	n, err := s.queueRepo.ReclaimStale(ctx, s.now().Add(-staleProcessingAge))
	if err != nil {
		logger.Error("stale processing reclaim failed", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Warn("reclaimed stale processing entries", zap.Int64("count", n))
	}
}

// checkReplies enqueues one classify job per unclassified inbound message.
func (s *Scheduler) checkReplies(ctx context.Context) {
	snap := s.settings.Snapshot()
	if !snap.ClassifyEnabled {
		return
	}

	batch := snap.ClassifyBatchSize
	if batch <= 0 {
		batch = s.batchSize
	}
	msgs, err := s.messageRepo.FetchUnclassified(ctx, batch)
	if err != nil {
		logger.Error("failed to fetch unclassified messages", zap.Error(err))
		return
	}

	for _, msg := range msgs {
		id := msg.ID
		if !s.markInflight(id) {
			continue
		}
		job := queue.Job{
			Queue: model.QueueClassify,
			Name:  fmt.Sprintf("classify-%d", id),
			Run: func(ctx context.Context) error {
				defer s.clearInflight(id)
				return s.pipeline.Handle(ctx, id)
			},
		}
		if err := s.runner.Enqueue(ctx, job); err != nil {
			s.clearInflight(id)
			logger.Warn("classify enqueue failed", zap.Int64("id", id), zap.Error(err))
			return
		}
	}
}

// markInflight claims a classify slot for the message; false means a prior
// tick already has it queued or running.
func (s *Scheduler) markInflight(id int64) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) clearInflight(id int64) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// pollExtractor checks the data-extraction service, but only inside business
// hours in the default timezone: the service is stealth-sensitive and
// off-hours traffic is a detectable signature, same as for sends.
func (s *Scheduler) pollExtractor(ctx context.Context) {
	snap := s.settings.Snapshot()
	if !snap.ExtractorEnabled {
		return
	}

	policy := sendwindow.Policy{
		Start:        "09:00",
		End:          "17:00",
		Timezone:     snap.DefaultTimezone,
		WeekdaysOnly: true,
	}
	within, err := sendwindow.Within(policy, s.now())
	if err != nil {
		logger.Warn("extractor window check failed", zap.Error(err))
		return
	}
	if !within {
		logger.Debug("extractor poll skipped, outside business hours")
		return
	}

	job := queue.Job{
		Queue: model.QueueCoStar,
		Name:  "extractor-poll",
		Run: func(ctx context.Context) error {
			status, err := s.extractor.Status(ctx)
			if err != nil {
				return err
			}
			if !status.Ready {
				logger.Info("extractor not ready", zap.String("message", status.Message))
				return nil
			}
			n, err := s.extractor.Count(ctx)
			if err != nil {
				return err
			}
			logger.Info("extractor rows available", zap.Int("count", n))
			return nil
		},
	}
	if err := s.runner.Enqueue(ctx, job); err != nil {
		logger.Warn("extractor poll enqueue failed", zap.Error(err))
	}
}

func (s *Scheduler) publishDepth(ctx context.Context) {
	counts, err := s.queueRepo.CountByStatus(ctx, model.QueueSend)
	if err != nil {
		logger.Debug("queue depth count failed", zap.Error(err))
		return
	}
	for _, st := range []string{model.StatusPending, model.StatusScheduled, model.StatusProcessing, model.StatusFailed} {
		s.observer.SetQueueDepth(st, float64(counts[st]))
	}
}
