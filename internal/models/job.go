package models

import (
	"time"
)

// JobStatus is the lifecycle state of a distribution job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusScheduled  JobStatus = "scheduled"
	JobStatusProcessing JobStatus = "processing"
	JobStatusPartial    JobStatus = "partial"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

var validJobStatuses = map[JobStatus]bool{
	JobStatusPending:    true,
	JobStatusScheduled:  true,
	JobStatusProcessing: true,
	JobStatusPartial:    true,
	JobStatusCompleted:  true,
	JobStatusFailed:     true,
	JobStatusCancelled:  true,
}

// JobStatuses lists every status in lifecycle order.
var JobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusScheduled,
	JobStatusProcessing,
	JobStatusPartial,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusCancelled,
}

// FinishedStatuses are the statuses old jobs may be pruned from.
var FinishedStatuses = []JobStatus{
	JobStatusPartial,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusCancelled,
}

// ParseJobStatus validates a status coming from outside the process.
func ParseJobStatus(s string) (JobStatus, bool) {
	status := JobStatus(s)
	return status, validJobStatuses[status]
}

// IsTerminal reports whether the job can no longer change.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusPartial, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsCancellable reports whether dispatch has not started yet.
func (s JobStatus) IsCancellable() bool {
	return s == JobStatusPending || s == JobStatusScheduled
}

// PlatformResult is the outcome of publishing a job's post to one platform.
type PlatformResult struct {
	Success      bool       `json:"success"`
	Error        string     `json:"error,omitempty"`
	PublishedURL string     `json:"published_url,omitempty"`
	PublishID    string     `json:"publish_id,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// DistributionJob is one attempt to distribute a post to a set of platforms.
type DistributionJob struct {
	ID           string                    `json:"id"`
	PostID       string                    `json:"post_id"`
	Platforms    []string                  `json:"platforms"`
	Status       JobStatus                 `json:"status"`
	Results      map[string]PlatformResult `json:"results"`
	ScheduledFor *time.Time                `json:"scheduled_for,omitempty"`
	RetryOf      string                    `json:"retry_of,omitempty"`
	RequestedBy  string                    `json:"requested_by,omitempty"`
	CreatedAt    time.Time                 `json:"created_at"`
	UpdatedAt    time.Time                 `json:"updated_at"`
}

// Clone returns a deep copy so callers never share maps or slices with a store.
func (j *DistributionJob) Clone() *DistributionJob {
	if j == nil {
		return nil
	}

	c := *j
	c.Platforms = append([]string(nil), j.Platforms...)
	c.Results = make(map[string]PlatformResult, len(j.Results))
	for platform, result := range j.Results {
		if result.CompletedAt != nil {
			completedAt := *result.CompletedAt
			result.CompletedAt = &completedAt
		}
		c.Results[platform] = result
	}
	if j.ScheduledFor != nil {
		scheduledFor := *j.ScheduledFor
		c.ScheduledFor = &scheduledFor
	}
	return &c
}

// HasPlatform reports whether platform is one of the job's targets.
func (j *DistributionJob) HasPlatform(platform string) bool {
	for _, p := range j.Platforms {
		if p == platform {
			return true
		}
	}
	return false
}

// FailedPlatforms lists targets without a successful result, in target order.
// A target with no recorded result counts as failed.
func (j *DistributionJob) FailedPlatforms() []string {
	var failed []string
	for _, p := range j.Platforms {
		if !j.Results[p].Success {
			failed = append(failed, p)
		}
	}
	return failed
}

// UnresolvedPlatforms lists targets that have no recorded result yet.
func (j *DistributionJob) UnresolvedPlatforms() []string {
	var missing []string
	for _, p := range j.Platforms {
		if _, ok := j.Results[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

// AggregateStatus derives the terminal status from the recorded results.
// It is only meaningful once every platform has a result.
func (j *DistributionJob) AggregateStatus() JobStatus {
	succeeded := 0
	for _, p := range j.Platforms {
		if j.Results[p].Success {
			succeeded++
		}
	}

	switch succeeded {
	case len(j.Platforms):
		return JobStatusCompleted
	case 0:
		return JobStatusFailed
	default:
		return JobStatusPartial
	}
}
