package model

import "time"

// Queue entry statuses. Only pending and scheduled rows are eligible for
// dispatch; sent, failed and cancelled are terminal.
const (
	StatusPending    = "pending"
	StatusScheduled  = "scheduled"
	StatusProcessing = "processing"
	StatusSent       = "sent"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Job types carried by queue entries. Campaign types are subject to the
// campaign's send window and humanized pacing; manual and system types are not.
const (
	JobColdOutreach  = "cold_outreach"
	JobFollowUp      = "follow_up"
	JobManualReply   = "manual_reply"
	JobQualification = "qualification"
	JobScheduling    = "scheduling"
)

// Queue names with their pinned concurrency. Send and costar talk to rate- or
// stealth-sensitive externals, so they must never run in parallel.
const (
	QueueSend     = "send"
	QueueCoStar   = "costar"
	QueueClassify = "classify"
)

type QueueEntry struct {
	ID             int64      `json:"id" gorm:"primaryKey"`
	Queue          string     `json:"queue" gorm:"size:32;index;default:send"`
	JobType        string     `json:"job_type" gorm:"size:32;index"`
	Source         string     `json:"source" gorm:"size:64"`
	Priority       int        `json:"priority" gorm:"default:0;index"`
	RecipientEmail string     `json:"recipient_email" gorm:"size:255"`
	RecipientName  string     `json:"recipient_name" gorm:"size:255"`
	Subject        string     `json:"subject" gorm:"size:512"`
	BodyText       string     `json:"body_text" gorm:"type:text"`
	BodyHTML       string     `json:"body_html" gorm:"type:text"`
	CampaignID     *int64     `json:"campaign_id" gorm:"index"`
	EnrollmentID   *int64     `json:"enrollment_id"`
	InReplyToID    *int64     `json:"in_reply_to_id"`
	Status         string     `json:"status" gorm:"size:16;index;default:pending"`
	Attempts       int        `json:"attempts" gorm:"default:0"`
	MaxAttempts    int        `json:"max_attempts" gorm:"default:3"`
	LastError      *string    `json:"last_error" gorm:"type:text"`
	NextRetryAt    *time.Time `json:"next_retry_at" gorm:"index"`
	ScheduledFor   *time.Time `json:"scheduled_for" gorm:"index"`
	SentAt         *time.Time `json:"sent_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsCampaign reports whether the entry belongs to an automated campaign
// sequence and therefore honors the campaign send window.
func (e *QueueEntry) IsCampaign() bool {
	return e.CampaignID != nil && (e.JobType == JobColdOutreach || e.JobType == JobFollowUp)
}

// Terminal reports whether no further automatic transition applies.
func (e *QueueEntry) Terminal() bool {
	return e.Status == StatusSent || e.Status == StatusFailed || e.Status == StatusCancelled
}
