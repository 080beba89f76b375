package service

import (
	"context"
	"os"
	"time"

	"dealflow/internal/model"
	"dealflow/internal/queue"
	"dealflow/internal/repository"
	"dealflow/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Heartbeat maintains the singleton worker-status row so external monitors
// can tell whether the scheduler is alive. Single writer; the row is
// overwritten wholesale each tick.
type Heartbeat struct {
	repo       repository.StatusInterface
	runner     *queue.Runner
	settings   *SettingsStore
	instanceID string
	hostname   string
	startedAt  time.Time
}

func NewHeartbeat(repo repository.StatusInterface, runner *queue.Runner, settings *SettingsStore) *Heartbeat {
	hostname, _ := os.Hostname()
	return &Heartbeat{
		repo:       repo,
		runner:     runner,
		settings:   settings,
		instanceID: uuid.New().String(),
		hostname:   hostname,
		startedAt:  time.Now(),
	}
}

func (h *Heartbeat) InstanceID() string {
	return h.instanceID
}

// Run beats until ctx is cancelled, then marks the worker not-running. A
// failed write is logged and retried on the next tick, never fatal.
func (h *Heartbeat) Run(ctx context.Context, interval time.Duration) {
	h.beat(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// The parent context is gone; give the final write its own
			// short deadline.
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.repo.MarkStopped(stopCtx, h.instanceID); err != nil {
				logger.Warn("failed to mark worker stopped", zap.Error(err))
			}
			return
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context) {
	processed, failed := h.runner.Stats()
	status := &model.WorkerStatus{
		InstanceID:    h.instanceID,
		Hostname:      h.hostname,
		PID:           os.Getpid(),
		Running:       true,
		Paused:        h.settings.Paused(),
		JobsProcessed: processed,
		JobsFailed:    failed,
		LastHeartbeat: time.Now(),
		StartedAt:     h.startedAt,
	}
	if err := h.repo.Upsert(ctx, status); err != nil {
		logger.Warn("heartbeat write failed", zap.Error(err))
	}
}
