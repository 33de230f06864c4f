package distribution

import (
	"context"
	"time"

	"github.com/ifuryst/syndicate/internal/models"
	"github.com/ifuryst/syndicate/internal/service/publisher"
)

// JobFilter narrows ListJobs. Zero values match everything.
type JobFilter struct {
	PostID      string
	RequestedBy string
	Status      models.JobStatus
	Limit       int
}

// Store persists distribution jobs. Every method returns snapshots the caller
// may mutate freely; mutations must go through TransitionStatus and RecordResult.
type Store interface {
	Create(ctx context.Context, job *models.DistributionJob) error
	Get(ctx context.Context, id string) (*models.DistributionJob, error)

	// List returns matching jobs, newest first.
	List(ctx context.Context, filter JobFilter) ([]*models.DistributionJob, error)

	// ListDue returns pending jobs and scheduled jobs whose time is at or before now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.DistributionJob, error)

	// TransitionStatus moves the job to `to` only if its current status is one of `from`.
	// It reports false when the status did not match.
	TransitionStatus(ctx context.Context, id string, from []models.JobStatus, to models.JobStatus) (bool, error)

	// RecordResult stores the outcome for one platform of a processing job. Results are
	// append-only: unknown platforms, duplicates and non-processing jobs fail with ErrResultRejected.
	RecordResult(ctx context.Context, id, platform string, result models.PlatformResult) error

	// CountByStatus returns the number of stored jobs per status. Statuses with no jobs may be absent.
	CountByStatus(ctx context.Context) (map[models.JobStatus]int, error)

	// DeleteFinishedBefore removes finished jobs, and their results, whose last update
	// is before the cutoff. It returns the number of jobs removed.
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int, error)
}

// PostSource loads the post content at dispatch time.
type PostSource interface {
	GetPost(ctx context.Context, id string) (*publisher.Content, error)
}

// JobObserver is told about every job that reaches a terminal status.
type JobObserver interface {
	JobFinished(ctx context.Context, job *models.DistributionJob)
}

// StatusIn reports whether status is one of candidates.
func StatusIn(status models.JobStatus, candidates []models.JobStatus) bool {
	for _, c := range candidates {
		if status == c {
			return true
		}
	}
	return false
}

// Matches reports whether job passes the filter, ignoring Limit.
func (f JobFilter) Matches(job *models.DistributionJob) bool {
	if f.PostID != "" && job.PostID != f.PostID {
		return false
	}
	if f.RequestedBy != "" && job.RequestedBy != f.RequestedBy {
		return false
	}
	if f.Status != "" && job.Status != f.Status {
		return false
	}
	return true
}
