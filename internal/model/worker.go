package model

import "time"

// WorkerStatus is a singleton row overwritten wholesale on each heartbeat
// tick. External monitors treat the worker as stale when last_heartbeat is
// more than 60s old.
type WorkerStatus struct {
	ID            int64     `json:"id" gorm:"primaryKey"`
	InstanceID    string    `json:"instance_id" gorm:"size:64"`
	Hostname      string    `json:"hostname" gorm:"size:255"`
	PID           int       `json:"pid"`
	Running       bool      `json:"running"`
	Paused        bool      `json:"paused"`
	JobsProcessed int64     `json:"jobs_processed"`
	JobsFailed    int64     `json:"jobs_failed"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	StartedAt     time.Time `json:"started_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Setting is one JSON-encoded key/value pair under the worker.* namespace.
type Setting struct {
	Key       string    `json:"key" gorm:"primaryKey;size:128"`
	Value     string    `json:"value" gorm:"type:text"`
	UpdatedAt time.Time `json:"updated_at"`
}
