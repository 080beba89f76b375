package model

import "time"

type Campaign struct {
	ID             int64     `json:"id" gorm:"primaryKey"`
	Name           string    `json:"name" gorm:"size:255"`
	Status         string    `json:"status" gorm:"size:32;default:draft"`
	WindowStart    string    `json:"window_start" gorm:"size:5;default:09:00"`
	WindowEnd      string    `json:"window_end" gorm:"size:5;default:17:00"`
	Timezone       string    `json:"timezone" gorm:"size:64;default:America/Los_Angeles"`
	WeekdaysOnly   bool      `json:"weekdays_only" gorm:"default:true"`
	MinDelaySecs   int       `json:"min_delay_secs" gorm:"default:60"`
	MaxDelaySecs   int       `json:"max_delay_secs" gorm:"default:300"`
	Humanize       bool      `json:"humanize" gorm:"default:true"`
	SimulateBreaks bool      `json:"simulate_breaks" gorm:"default:true"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Contact struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	Email     string    `json:"email" gorm:"size:255;uniqueIndex"`
	Name      string    `json:"name" gorm:"size:255"`
	CompanyID *int64    `json:"company_id" gorm:"index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Company struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"size:255"`
	Status    string    `json:"status" gorm:"size:32;default:sourced"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
