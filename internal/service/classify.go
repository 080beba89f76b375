package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dealflow/internal/classifier"
	"dealflow/internal/metrics"
	"dealflow/internal/model"
	"dealflow/internal/repository"
	"dealflow/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Classifier is the opaque reply-classification capability.
type Classifier interface {
	Classify(ctx context.Context, sender, subject, body string) (*classifier.Result, error)
}

// Pipeline classifies inbound replies. It never sends anything: every
// outbound response to a reply goes through human approval.
type Pipeline struct {
	messageRepo repository.MessageInterface
	contactRepo repository.ContactInterface
	companyRepo repository.CompanyInterface
	classifier  Classifier
	settings    *SettingsStore
	observer    metrics.Observer

	now func() time.Time
}

func NewPipeline(
	messageRepo repository.MessageInterface,
	contactRepo repository.ContactInterface,
	companyRepo repository.CompanyInterface,
	cls Classifier,
	settings *SettingsStore,
	observer metrics.Observer,
) *Pipeline {
	return &Pipeline{
		messageRepo: messageRepo,
		contactRepo: contactRepo,
		companyRepo: companyRepo,
		classifier:  cls,
		settings:    settings,
		observer:    observer,
		now:         time.Now,
	}
}

// Intake stores a raw inbound reply and matches it to a known contact by
// sender address. No match is not an error; the message lands unmatched and
// Handle later skips it rather than guessing.
func (p *Pipeline) Intake(ctx context.Context, sender, subject, body string, receivedAt time.Time) (*model.InboundMessage, error) {
	msg := &model.InboundMessage{
		Sender:     sender,
		Subject:    subject,
		Body:       body,
		ReceivedAt: receivedAt,
	}

	contact, err := p.contactRepo.FindByEmail(ctx, sender)
	switch {
	case err == nil:
		msg.ContactID = &contact.ID
	case errors.Is(err, gorm.ErrRecordNotFound):
		logger.Info("inbound sender matches no contact",
			zap.String("sender", sender))
	default:
		return nil, fmt.Errorf("match inbound sender: %w", err)
	}

	if err := p.messageRepo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("store inbound message: %w", err)
	}
	return msg, nil
}

// Handle classifies one inbound message. Classifier failures flag the
// message for human review and return nil: retrying a parse failure in a
// tight loop wastes budget without changing the outcome.
func (p *Pipeline) Handle(ctx context.Context, id int64) error {
	msg, err := p.messageRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load inbound message %d: %w", id, err)
	}
	if msg.ClassifiedAt != nil {
		return nil
	}

	// A message with no matched contact is explicitly skipped, never
	// guessed at.
	if msg.ContactID == nil {
		p.observer.ClassificationResult("skipped_no_contact")
		logger.Info("inbound message has no matched contact, skipping",
			zap.Int64("id", msg.ID),
			zap.String("sender", msg.Sender))
		return p.messageRepo.MarkSkipped(ctx, msg.ID, "no matched contact")
	}

	result, err := p.classifier.Classify(ctx, msg.Sender, msg.Subject, msg.Body)
	if err != nil {
		reason := "classifier unavailable"
		outcome := "service_error"
		if errors.Is(err, classifier.ErrBadResponse) {
			reason = "unparseable classifier response"
			outcome = "bad_response"
		}
		p.observer.ClassificationResult(outcome)
		logger.Warn("classification failed, flagging for human review",
			zap.Int64("id", msg.ID),
			zap.Error(err))
		return p.messageRepo.FlagForReview(ctx, msg.ID, reason)
	}

	// A category outside the fixed set is as good as unparseable.
	if !model.ValidCategory(result.Category) {
		p.observer.ClassificationResult("bad_response")
		logger.Warn("classifier returned unknown category, flagging for human review",
			zap.Int64("id", msg.ID),
			zap.String("category", result.Category))
		return p.messageRepo.FlagForReview(ctx, msg.ID, fmt.Sprintf("unknown category %q", result.Category))
	}

	snap := p.settings.Snapshot()
	needsReview := result.Confidence < snap.ConfidenceThreshold
	reviewReason := ""
	if needsReview {
		reviewReason = fmt.Sprintf("confidence %.2f below threshold %.2f", result.Confidence, snap.ConfidenceThreshold)
	}

	err = p.messageRepo.SetClassification(ctx, msg.ID, repository.Classification{
		Category:         result.Category,
		Confidence:       result.Confidence,
		NeedsHumanReview: needsReview,
		ReviewReason:     reviewReason,
		By:               "classifier",
		Price:            result.Price,
		NOI:              result.NOI,
		CapRate:          result.CapRate,
		At:               p.now(),
	})
	if err != nil {
		return fmt.Errorf("persist classification for %d: %w", msg.ID, err)
	}

	p.observer.ClassificationResult(result.Category)
	logger.Info("inbound message classified",
		zap.Int64("id", msg.ID),
		zap.String("category", result.Category),
		zap.Float64("confidence", result.Confidence),
		zap.Bool("needs_review", needsReview))

	p.updateCompanyStatus(ctx, msg.ID, *msg.ContactID, result.Category)
	return nil
}

// updateCompanyStatus reflects qualifying reply categories onto the related
// company. Best effort: a failed status update never fails the
// classification itself.
func (p *Pipeline) updateCompanyStatus(ctx context.Context, msgID, contactID int64, category string) {
	status := companyStatusFor(category)
	if status == "" {
		return
	}
	contact, err := p.contactRepo.GetByID(ctx, contactID)
	if err != nil || contact.CompanyID == nil {
		return
	}
	if err := p.companyRepo.UpdateStatus(ctx, *contact.CompanyID, status); err != nil {
		logger.Warn("company status update failed",
			zap.Int64("message_id", msgID),
			zap.Int64("company_id", *contact.CompanyID),
			zap.Error(err))
	}
}

func companyStatusFor(category string) string {
	switch category {
	case model.CategoryInterested, model.CategoryQuestion:
		return "engaged"
	case model.CategoryNotInterested, model.CategoryUnsubscribe:
		return "passed"
	default:
		return ""
	}
}
