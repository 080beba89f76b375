package model

import "time"

// Reply categories the classifier may return. Anything else is treated as a
// malformed response and routed to human review.
const (
	CategoryInterested    = "interested"
	CategoryNotInterested = "not_interested"
	CategoryQuestion      = "question"
	CategoryUnsubscribe   = "unsubscribe"
	CategoryOutOfOffice   = "out_of_office"
	CategoryBounce        = "bounce"
	CategoryOther         = "other"
)

type InboundMessage struct {
	ID               int64      `json:"id" gorm:"primaryKey"`
	Sender           string     `json:"sender" gorm:"size:255;index"`
	Subject          string     `json:"subject" gorm:"size:512"`
	Body             string     `json:"body" gorm:"type:text"`
	ContactID        *int64     `json:"contact_id" gorm:"index"`
	Classification   *string    `json:"classification" gorm:"size:32;index"`
	Confidence       *float64   `json:"confidence"`
	NeedsHumanReview bool       `json:"needs_human_review" gorm:"index;default:false"`
	ReviewReason     string     `json:"review_reason" gorm:"size:255"`
	ExtractedPrice   *float64   `json:"extracted_price"`
	ExtractedNOI     *float64   `json:"extracted_noi"`
	ExtractedCapRate *float64   `json:"extracted_cap_rate"`
	ClassifiedAt     *time.Time `json:"classified_at"`
	ClassifiedBy     string     `json:"classified_by" gorm:"size:64"`
	ReceivedAt       time.Time  `json:"received_at" gorm:"index"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func ValidCategory(c string) bool {
	switch c {
	case CategoryInterested, CategoryNotInterested, CategoryQuestion,
		CategoryUnsubscribe, CategoryOutOfOffice, CategoryBounce, CategoryOther:
		return true
	}
	return false
}
