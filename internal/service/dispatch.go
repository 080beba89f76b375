package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dealflow/internal/humanize"
	"dealflow/internal/metrics"
	"dealflow/internal/model"
	"dealflow/internal/ratelimit"
	"dealflow/internal/repository"
	"dealflow/internal/sendwindow"
	"dealflow/pkg/logger"

	"go.uber.org/zap"
)

// ErrRateLimited is returned when the send budget blocks a dispatch. The
// entry is released with a short retry timestamp first, so the queue's retry
// takes over without consuming a delivery attempt.
var ErrRateLimited = errors.New("send blocked by rate limit")

const (
	// rateRetryDelay keeps a budget-blocked entry cycling on minutes, not
	// hours: the hourly counter may roll over at any time.
	rateRetryDelay = 3 * time.Minute

	// disabledRetryDelay re-checks a channel an operator has turned off.
	disabledRetryDelay = 5 * time.Minute

	retryBackoffUnit = time.Minute
)

// Deliverer is the opaque mail-transport capability.
type Deliverer interface {
	Deliver(ctx context.Context, to, toName, subject, htmlBody, textBody string) error
}

// RateLimiter is the send-budget gate; satisfied by ratelimit.Limiter.
type RateLimiter interface {
	Check(ctx context.Context, group string, limits ratelimit.Limits) ratelimit.Status
	Reserve(ctx context.Context, group string, limits ratelimit.Limits) (ratelimit.Status, error)
	Unreserve(ctx context.Context, group string)
	Record(ctx context.Context, group string) (hourly, daily int64, err error)
}

// Dispatcher consumes one queued outbound email at a time: re-checks window
// and rate conditions, applies humanized pacing, invokes delivery, and
// records the terminal outcome.
type Dispatcher struct {
	queueRepo    repository.QueueInterface
	campaignRepo repository.CampaignInterface
	limiter      RateLimiter
	humanizer    *humanize.Humanizer
	deliverer    Deliverer
	settings     *SettingsStore
	observer     metrics.Observer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(
	queueRepo repository.QueueInterface,
	campaignRepo repository.CampaignInterface,
	limiter RateLimiter,
	humanizer *humanize.Humanizer,
	deliverer Deliverer,
	settings *SettingsStore,
	observer metrics.Observer,
) *Dispatcher {
	return &Dispatcher{
		queueRepo:    queueRepo,
		campaignRepo: campaignRepo,
		limiter:      limiter,
		humanizer:    humanizer,
		deliverer:    deliverer,
		settings:     settings,
		observer:     observer,
		now:          time.Now,
		sleep:        sleepCtx,
	}
}

// Handle processes one queue entry end to end.
func (d *Dispatcher) Handle(ctx context.Context, id int64) error {
	entry, err := d.queueRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load queue entry %d: %w", id, err)
	}

	// Re-running on a terminal or in-flight entry must not re-deliver or
	// touch the rate counter.
	if entry.Terminal() || entry.Status == model.StatusProcessing {
		logger.Debug("dispatch skipped, entry not eligible",
			zap.Int64("id", entry.ID),
			zap.String("status", entry.Status))
		return nil
	}

	snap := d.settings.Snapshot()

	if !channelEnabled(entry, snap) {
		d.observer.DispatchDeferred("channel_disabled")
		return d.queueRepo.Release(ctx, entry.ID, "sending disabled for channel", d.now().Add(disabledRetryDelay))
	}

	var policy *sendwindow.Policy
	if entry.IsCampaign() {
		policy = d.resolvePolicy(ctx, entry, snap)
	}

	// Outside the send window is a reschedule, never a failure.
	if policy != nil {
		within, err := sendwindow.Within(*policy, d.now())
		if err != nil {
			logger.Warn("send window check failed, treating as open",
				zap.Int64("id", entry.ID), zap.Error(err))
		} else if !within {
			next, err := sendwindow.NextStart(*policy, d.now())
			if err != nil {
				return fmt.Errorf("compute next window start: %w", err)
			}
			d.observer.DispatchDeferred("window_closed")
			logger.Info("outside send window, rescheduling",
				zap.Int64("id", entry.ID),
				zap.Time("next_window", next))
			return d.queueRepo.Reschedule(ctx, entry.ID, next)
		}
	}

	// Reserve a slot before pacing: the check and the increment are one
	// atomic step, so two workers cannot both squeeze through the last slot.
	// Redis trouble fails open with no reservation held.
	limits := ratelimit.Limits{Hourly: snap.HourlySendLimit, Daily: snap.DailySendLimit}
	status, rerr := d.limiter.Reserve(ctx, snap.RateGroup, limits)
	reserved := rerr == nil
	if !status.CanSend {
		d.observer.DispatchDeferred("rate_limited")
		logger.Info("rate limit blocked dispatch",
			zap.Int64("id", entry.ID),
			zap.String("reason", status.Reason),
			zap.Int64("hourly", status.HourlyCount),
			zap.Int64("daily", status.DailyCount))
		if err := d.queueRepo.Release(ctx, entry.ID, status.Reason, d.now().Add(rateRetryDelay)); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrRateLimited, status.Reason)
	}

	// Humanized pacing happens before the entry is claimed, so a shutdown
	// during the pause leaves the row untouched for redelivery.
	if policy != nil && policy.Humanize {
		delay := d.humanizer.Delay(policy.MinDelay, policy.MaxDelay, policy.SimulateBreaks)
		logger.Debug("humanized delay before send",
			zap.Int64("id", entry.ID),
			zap.Duration("delay", delay))
		if err := d.sleep(ctx, delay); err != nil {
			if reserved {
				d.giveBack(snap.RateGroup)
			}
			return err
		}
	}

	if err := d.queueRepo.Claim(ctx, entry.ID); err != nil {
		if reserved {
			d.giveBack(snap.RateGroup)
		}
		if errors.Is(err, repository.ErrNotClaimable) {
			return nil
		}
		return err
	}

	if err := d.deliverer.Deliver(ctx, entry.RecipientEmail, entry.RecipientName,
		entry.Subject, entry.BodyHTML, entry.BodyText); err != nil {
		if reserved {
			d.giveBack(snap.RateGroup)
		}
		return d.failAttempt(ctx, entry, err)
	}

	if err := d.queueRepo.MarkSent(ctx, entry.ID, d.now()); err != nil {
		return fmt.Errorf("mark sent %d: %w", entry.ID, err)
	}
	d.observer.EmailSent()

	// Increment strictly after confirmed delivery. A failed increment is
	// loud but does not undo the send.
	hourly, daily, err := d.limiter.Record(ctx, snap.RateGroup)
	if err != nil {
		logger.Error("send delivered but rate counter not incremented",
			zap.Int64("id", entry.ID), zap.Error(err))
		return err
	}

	logger.Info("email sent",
		zap.Int64("id", entry.ID),
		zap.String("job_type", entry.JobType),
		zap.Int64("hourly_count", hourly),
		zap.Int64("daily_count", daily))
	return nil
}

// giveBack returns an unused reservation on its own short deadline, so a
// cancelled dispatch context cannot strand the slot until bucket expiry.
func (d *Dispatcher) giveBack(group string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.limiter.Unreserve(ctx, group)
}

// FailEntry applies the retry ladder from outside the normal flow, used by
// the queue wrapper when a handler panics after claiming the entry.
func (d *Dispatcher) FailEntry(ctx context.Context, id int64, cause error) {
	entry, err := d.queueRepo.GetByID(ctx, id)
	if err != nil || entry.Status != model.StatusProcessing {
		return
	}
	if err := d.failAttempt(ctx, entry, cause); err != nil && !errors.Is(err, cause) {
		logger.Error("failed to record dispatch failure", zap.Int64("id", id), zap.Error(err))
	}
}

// failAttempt counts one delivery failure: backoff grows with the attempt
// number until the ceiling makes the entry permanently failed.
func (d *Dispatcher) failAttempt(ctx context.Context, entry *model.QueueEntry, cause error) error {
	attempts := entry.Attempts + 1

	if entry.Attempts >= entry.MaxAttempts {
		logger.Warn("delivery attempts exhausted, marking failed",
			zap.Int64("id", entry.ID),
			zap.Int("attempts", attempts),
			zap.Error(cause))
		if err := d.queueRepo.MarkFailed(ctx, entry.ID, attempts, cause.Error()); err != nil {
			return err
		}
		return cause
	}

	retryAt := d.now().Add(time.Duration(attempts) * retryBackoffUnit)
	logger.Warn("delivery failed, scheduling retry",
		zap.Int64("id", entry.ID),
		zap.Int("attempts", attempts),
		zap.Time("next_retry_at", retryAt),
		zap.Error(cause))
	if err := d.queueRepo.RetryLater(ctx, entry.ID, attempts, cause.Error(), retryAt); err != nil {
		return err
	}
	return cause
}

func (d *Dispatcher) resolvePolicy(ctx context.Context, entry *model.QueueEntry, snap Snapshot) *sendwindow.Policy {
	campaign, err := d.campaignRepo.GetByID(ctx, *entry.CampaignID)
	if err != nil {
		logger.Warn("campaign lookup failed, dispatching without window policy",
			zap.Int64("id", entry.ID),
			zap.Int64p("campaign_id", entry.CampaignID),
			zap.Error(err))
		return nil
	}
	return PolicyFromCampaign(campaign, snap.DefaultTimezone)
}

// PolicyFromCampaign converts a campaign row into the calculator's policy,
// falling back to the worker's default timezone.
func PolicyFromCampaign(c *model.Campaign, defaultTZ string) *sendwindow.Policy {
	tz := c.Timezone
	if tz == "" {
		tz = defaultTZ
	}
	return &sendwindow.Policy{
		Start:          c.WindowStart,
		End:            c.WindowEnd,
		Timezone:       tz,
		WeekdaysOnly:   c.WeekdaysOnly,
		MinDelay:       time.Duration(c.MinDelaySecs) * time.Second,
		MaxDelay:       time.Duration(c.MaxDelaySecs) * time.Second,
		Humanize:       c.Humanize,
		SimulateBreaks: c.SimulateBreaks,
	}
}

func channelEnabled(entry *model.QueueEntry, snap Snapshot) bool {
	switch entry.JobType {
	case model.JobColdOutreach, model.JobFollowUp:
		return snap.CampaignSendEnabled
	case model.JobManualReply:
		return snap.ManualSendEnabled
	default:
		return snap.SystemSendEnabled
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
