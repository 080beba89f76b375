package repository

import (
	"context"
	"errors"
	"time"

	"dealflow/internal/model"

	"gorm.io/gorm"
)

var (
	// ErrNotClaimable is returned when a claim or operator action races with
	// another transition and the row is no longer in an eligible state.
	ErrNotClaimable = errors.New("queue entry not in a claimable state")
)

type QueueInterface interface {
	Create(ctx context.Context, entry *model.QueueEntry) error
	GetByID(ctx context.Context, id int64) (*model.QueueEntry, error)
	FetchReady(ctx context.Context, queue string, now time.Time, limit int) ([]model.QueueEntry, error)
	Claim(ctx context.Context, id int64) error
	MarkSent(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64, attempts int, lastError string) error
	Reschedule(ctx context.Context, id int64, at time.Time) error
	RetryLater(ctx context.Context, id int64, attempts int, lastError string, at time.Time) error
	Release(ctx context.Context, id int64, lastError string, at time.Time) error
	ReclaimStale(ctx context.Context, before time.Time) (int64, error)
	Retry(ctx context.Context, id int64) error
	Cancel(ctx context.Context, id int64) error
	List(ctx context.Context, status string, limit int) ([]model.QueueEntry, error)
	CountByStatus(ctx context.Context, queue string) (map[string]int64, error)
	WithTx(tx *gorm.DB) QueueInterface
}

type QueueRepository struct {
	db *gorm.DB
}

func NewQueueRepository(db *gorm.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

func (r *QueueRepository) Create(ctx context.Context, entry *model.QueueEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *QueueRepository) GetByID(ctx context.Context, id int64) (*model.QueueEntry, error) {
	var entry model.QueueEntry
	if err := r.db.WithContext(ctx).First(&entry, id).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// FetchReady returns dispatchable rows: pending or scheduled, due by both
// scheduled_for and next_retry_at, highest priority first.
func (r *QueueRepository) FetchReady(ctx context.Context, queue string, now time.Time, limit int) ([]model.QueueEntry, error) {
	var entries []model.QueueEntry
	err := r.db.WithContext(ctx).
		Where("queue = ?", queue).
		Where("status IN ?", []string{model.StatusPending, model.StatusScheduled}).
		Where("scheduled_for IS NULL OR scheduled_for <= ?", now).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Order("priority DESC, id ASC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Claim moves a row into processing. The guarded WHERE makes the transition
// a no-op if another consumer got there first.
func (r *QueueRepository) Claim(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Model(&model.QueueEntry{}).
		Where("id = ? AND status IN ?", id, []string{model.StatusPending, model.StatusScheduled}).
		Update("status", model.StatusProcessing)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotClaimable
	}
	return nil
}

func (r *QueueRepository) MarkSent(ctx context.Context, id int64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.QueueEntry{}).Where("id = ?", id).Updates(map[string]any{
		"status":        model.StatusSent,
		"sent_at":       at,
		"last_error":    nil,
		"next_retry_at": nil,
	}).Error
}

func (r *QueueRepository) MarkFailed(ctx context.Context, id int64, attempts int, lastError string) error {
	return r.db.WithContext(ctx).Model(&model.QueueEntry{}).Where("id = ?", id).Updates(map[string]any{
		"status":        model.StatusFailed,
		"attempts":      attempts,
		"last_error":    lastError,
		"next_retry_at": nil,
	}).Error
}

// Reschedule parks an entry until the next send window opens. Not a failure:
// attempts and last_error are untouched.
func (r *QueueRepository) Reschedule(ctx context.Context, id int64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.QueueEntry{}).Where("id = ?", id).Updates(map[string]any{
		"status":        model.StatusScheduled,
		"scheduled_for": at,
	}).Error
}

// RetryLater records a counted delivery failure and re-queues the entry.
func (r *QueueRepository) RetryLater(ctx context.Context, id int64, attempts int, lastError string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.QueueEntry{}).Where("id = ?", id).Updates(map[string]any{
		"status":        model.StatusPending,
		"attempts":      attempts,
		"last_error":    lastError,
		"next_retry_at": at,
	}).Error
}

// Release re-queues an entry without consuming an attempt, used when an
// external condition (rate ceiling) blocked the send.
func (r *QueueRepository) Release(ctx context.Context, id int64, lastError string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.QueueEntry{}).Where("id = ?", id).Updates(map[string]any{
		"status":        model.StatusPending,
		"last_error":    lastError,
		"next_retry_at": at,
	}).Error
}

// ReclaimStale returns processing rows abandoned by a crashed worker to
// pending. Rows younger than the horizon stay put; a live worker may still
// be mid-delivery on them.
func (r *QueueRepository) ReclaimStale(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.QueueEntry{}).
		Where("status = ? AND updated_at < ?", model.StatusProcessing, before).
		Updates(map[string]any{
			"status":     model.StatusPending,
			"last_error": "reclaimed from stale processing",
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// Retry is the operator action on a failed entry: back to pending with a
// clean slate.
func (r *QueueRepository) Retry(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Model(&model.QueueEntry{}).
		Where("id = ? AND status = ?", id, model.StatusFailed).
		Updates(map[string]any{
			"status":        model.StatusPending,
			"attempts":      0,
			"last_error":    nil,
			"next_retry_at": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotClaimable
	}
	return nil
}

// Cancel is the operator action on a pending or scheduled entry.
func (r *QueueRepository) Cancel(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Model(&model.QueueEntry{}).
		Where("id = ? AND status IN ?", id, []string{model.StatusPending, model.StatusScheduled}).
		Update("status", model.StatusCancelled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotClaimable
	}
	return nil
}

func (r *QueueRepository) List(ctx context.Context, status string, limit int) ([]model.QueueEntry, error) {
	q := r.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var entries []model.QueueEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *QueueRepository) CountByStatus(ctx context.Context, queue string) (map[string]int64, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	q := r.db.WithContext(ctx).Model(&model.QueueEntry{}).
		Select("status, count(*) as n").
		Group("status")
	if queue != "" {
		q = q.Where("queue = ?", queue)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

func (r *QueueRepository) WithTx(tx *gorm.DB) QueueInterface {
	return &QueueRepository{db: tx}
}
