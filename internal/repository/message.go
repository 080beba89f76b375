package repository

import (
	"context"
	"time"

	"dealflow/internal/model"

	"gorm.io/gorm"
)

type MessageInterface interface {
	Create(ctx context.Context, msg *model.InboundMessage) error
	GetByID(ctx context.Context, id int64) (*model.InboundMessage, error)
	FetchUnclassified(ctx context.Context, limit int) ([]model.InboundMessage, error)
	SetClassification(ctx context.Context, id int64, c Classification) error
	MarkSkipped(ctx context.Context, id int64, reason string) error
	FlagForReview(ctx context.Context, id int64, reason string) error
	List(ctx context.Context, needsReview bool, limit int) ([]model.InboundMessage, error)
	WithTx(tx *gorm.DB) MessageInterface
}

// Classification is the full write applied in one update so category and
// confidence can never be observed apart.
type Classification struct {
	Category         string
	Confidence       float64
	NeedsHumanReview bool
	ReviewReason     string
	By               string
	Price            *float64
	NOI              *float64
	CapRate          *float64
	At               time.Time
}

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, msg *model.InboundMessage) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*model.InboundMessage, error) {
	var msg model.InboundMessage
	if err := r.db.WithContext(ctx).First(&msg, id).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// FetchUnclassified returns messages the pipeline has not touched yet, oldest
// first. Skipped and review-flagged rows carry classified_at and are excluded.
func (r *MessageRepository) FetchUnclassified(ctx context.Context, limit int) ([]model.InboundMessage, error) {
	var msgs []model.InboundMessage
	err := r.db.WithContext(ctx).
		Where("classified_at IS NULL").
		Order("received_at ASC, id ASC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *MessageRepository) SetClassification(ctx context.Context, id int64, c Classification) error {
	return r.db.WithContext(ctx).Model(&model.InboundMessage{}).Where("id = ?", id).Updates(map[string]any{
		"classification":     c.Category,
		"confidence":         c.Confidence,
		"needs_human_review": c.NeedsHumanReview,
		"review_reason":      c.ReviewReason,
		"extracted_price":    c.Price,
		"extracted_noi":      c.NOI,
		"extracted_cap_rate": c.CapRate,
		"classified_at":      c.At,
		"classified_by":      c.By,
	}).Error
}

// MarkSkipped closes out a message the pipeline will not classify (no matched
// contact). Classification stays null and no review is required.
func (r *MessageRepository) MarkSkipped(ctx context.Context, id int64, reason string) error {
	return r.db.WithContext(ctx).Model(&model.InboundMessage{}).Where("id = ?", id).Updates(map[string]any{
		"needs_human_review": false,
		"review_reason":      reason,
		"classified_at":      time.Now(),
		"classified_by":      "system",
	}).Error
}

// FlagForReview routes a message to a human without guessing a category.
func (r *MessageRepository) FlagForReview(ctx context.Context, id int64, reason string) error {
	return r.db.WithContext(ctx).Model(&model.InboundMessage{}).Where("id = ?", id).Updates(map[string]any{
		"needs_human_review": true,
		"review_reason":      reason,
		"classified_at":      time.Now(),
		"classified_by":      "system",
	}).Error
}

func (r *MessageRepository) List(ctx context.Context, needsReview bool, limit int) ([]model.InboundMessage, error) {
	q := r.db.WithContext(ctx).Order("received_at DESC").Limit(limit)
	if needsReview {
		q = q.Where("needs_human_review = ?", true)
	}
	var msgs []model.InboundMessage
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *MessageRepository) WithTx(tx *gorm.DB) MessageInterface {
	return &MessageRepository{db: tx}
}
