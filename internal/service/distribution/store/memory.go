package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ifuryst/syndicate/internal/models"
	"github.com/ifuryst/syndicate/internal/service/distribution"
)

var _ distribution.Store = (*MemoryStore)(nil)

// MemoryStore keeps jobs in process memory. Jobs are lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.DistributionJob
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*models.DistributionJob),
		now:  time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, job *models.DistributionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.DistributionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, distribution.ErrNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, filter distribution.JobFilter) ([]*models.DistributionJob, error) {
	s.mu.RLock()
	var jobs []*models.DistributionJob
	for _, job := range s.jobs {
		if filter.Matches(job) {
			jobs = append(jobs, job.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID > jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	if filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}

func (s *MemoryStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.DistributionJob, error) {
	s.mu.RLock()
	var due []*models.DistributionJob
	for _, job := range s.jobs {
		if isDue(job, now) {
			due = append(due, job.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool {
		return dueAt(due[i]).Before(dueAt(due[j]))
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) TransitionStatus(ctx context.Context, id string, from []models.JobStatus, to models.JobStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, distribution.ErrNotFound
	}
	if !distribution.StatusIn(job.Status, from) {
		return false, nil
	}

	job.Status = to
	job.UpdatedAt = s.now().UTC()
	return true, nil
}

func (s *MemoryStore) RecordResult(ctx context.Context, id, platform string, result models.PlatformResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return distribution.ErrNotFound
	}
	if err := checkResult(job, platform); err != nil {
		return err
	}

	if result.CompletedAt != nil {
		completedAt := *result.CompletedAt
		result.CompletedAt = &completedAt
	}
	job.Results[platform] = result
	job.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.JobStatus]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) DeleteFinishedBefore(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, job := range s.jobs {
		if isPrunable(job, before) {
			delete(s.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

// checkResult enforces the append-only result rules shared by every driver.
func checkResult(job *models.DistributionJob, platform string) error {
	if job.Status != models.JobStatusProcessing {
		return fmt.Errorf("%w: job %s is %s", distribution.ErrResultRejected, job.ID, job.Status)
	}
	if !job.HasPlatform(platform) {
		return fmt.Errorf("%w: %s is not a target of job %s", distribution.ErrResultRejected, platform, job.ID)
	}
	if _, exists := job.Results[platform]; exists {
		return fmt.Errorf("%w: %s already has a result for job %s", distribution.ErrResultRejected, platform, job.ID)
	}
	return nil
}

func isDue(job *models.DistributionJob, now time.Time) bool {
	switch job.Status {
	case models.JobStatusPending:
		return true
	case models.JobStatusScheduled:
		return job.ScheduledFor == nil || !job.ScheduledFor.After(now)
	}
	return false
}

func isPrunable(job *models.DistributionJob, before time.Time) bool {
	return distribution.StatusIn(job.Status, models.FinishedStatuses) && job.UpdatedAt.Before(before)
}

func dueAt(job *models.DistributionJob) time.Time {
	if job.ScheduledFor != nil {
		return *job.ScheduledFor
	}
	return job.CreatedAt
}
