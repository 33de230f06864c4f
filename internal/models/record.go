package models

import (
	"time"

	"gorm.io/datatypes"
)

// DistributionJobRecord is the SQL row backing a DistributionJob.
type DistributionJobRecord struct {
	ID           string                      `gorm:"primaryKey;size:64" json:"id"`
	PostID       string                      `gorm:"not null;size:255;index" json:"post_id"`
	Platforms    datatypes.JSONSlice[string] `gorm:"not null" json:"platforms"`
	Status       string                      `gorm:"size:32;not null;index:idx_job_status_scheduled" json:"status"`
	ScheduledFor *time.Time                  `gorm:"index:idx_job_status_scheduled" json:"scheduled_for"`
	RetryOf      string                      `gorm:"size:64;index" json:"retry_of"`
	RequestedBy  string                      `gorm:"size:255;index" json:"requested_by"`
	CreatedAt    time.Time                   `gorm:"not null;index" json:"created_at"`
	UpdatedAt    time.Time                   `gorm:"not null" json:"updated_at"`

	Results []DistributionResultRecord `gorm:"foreignKey:JobID;references:ID" json:"results"`
}

func (DistributionJobRecord) TableName() string { return "distribution_jobs" }

// DistributionResultRecord is one append-only per-platform outcome.
type DistributionResultRecord struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	JobID        string     `gorm:"size:64;not null;uniqueIndex:idx_result_job_platform" json:"job_id"`
	Platform     string     `gorm:"size:64;not null;uniqueIndex:idx_result_job_platform" json:"platform"`
	Success      bool       `gorm:"not null" json:"success"`
	Error        string     `gorm:"type:text" json:"error"`
	PublishedURL string     `gorm:"size:1024" json:"published_url"`
	PublishID    string     `gorm:"size:255" json:"publish_id"`
	CompletedAt  *time.Time `json:"completed_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (DistributionResultRecord) TableName() string { return "distribution_results" }
