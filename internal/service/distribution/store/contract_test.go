package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifuryst/syndicate/internal/models"
	"github.com/ifuryst/syndicate/internal/service/distribution"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newJob(id, postID string, status models.JobStatus, created time.Time, platforms ...string) *models.DistributionJob {
	return &models.DistributionJob{
		ID:          id,
		PostID:      postID,
		Platforms:   platforms,
		Status:      status,
		Results:     map[string]models.PlatformResult{},
		RequestedBy: "alice",
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func ids(jobs []*models.DistributionJob) []string {
	out := make([]string, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, job.ID)
	}
	return out
}

// runStoreContract checks the behavior every Store driver must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) distribution.Store) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		scheduled := base.Add(time.Hour)
		job := newJob("job-1", "post-1", models.JobStatusScheduled, base, "twitter", "medium")
		job.ScheduledFor = &scheduled
		job.RetryOf = "job-0"
		require.NoError(t, s.Create(ctx, job))

		got, err := s.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, "post-1", got.PostID)
		assert.Equal(t, []string{"twitter", "medium"}, got.Platforms)
		assert.Equal(t, models.JobStatusScheduled, got.Status)
		assert.Equal(t, "job-0", got.RetryOf)
		assert.Equal(t, "alice", got.RequestedBy)
		require.NotNil(t, got.ScheduledFor)
		assert.True(t, got.ScheduledFor.Equal(scheduled))
		assert.True(t, got.CreatedAt.Equal(base))
		assert.Empty(t, got.Results)

		assert.Error(t, s.Create(ctx, job))

		_, err = s.Get(ctx, "missing")
		assert.ErrorIs(t, err, distribution.ErrNotFound)
	})

	t.Run("snapshots are independent", func(t *testing.T) {
		s := newStore(t)
		job := newJob("job-1", "post-1", models.JobStatusPending, base, "twitter")
		require.NoError(t, s.Create(ctx, job))
		job.Platforms[0] = "changed"

		got, err := s.Get(ctx, "job-1")
		require.NoError(t, err)
		got.Results["twitter"] = models.PlatformResult{Success: true}

		again, err := s.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"twitter"}, again.Platforms)
		assert.Empty(t, again.Results)
	})

	t.Run("transition is compare and set", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newJob("job-1", "post-1", models.JobStatusPending, base, "twitter")))

		ok, err := s.TransitionStatus(ctx, "job-1", []models.JobStatus{models.JobStatusScheduled}, models.JobStatusProcessing)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.TransitionStatus(ctx, "job-1", []models.JobStatus{models.JobStatusPending, models.JobStatusScheduled}, models.JobStatusProcessing)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := s.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusProcessing, got.Status)

		_, err = s.TransitionStatus(ctx, "missing", []models.JobStatus{models.JobStatusPending}, models.JobStatusCancelled)
		assert.ErrorIs(t, err, distribution.ErrNotFound)
	})

	t.Run("only one concurrent transition wins", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newJob("job-1", "post-1", models.JobStatusPending, base, "twitter")))

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.TransitionStatus(ctx, "job-1", []models.JobStatus{models.JobStatusPending}, models.JobStatusProcessing)
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("results are append only", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newJob("job-1", "post-1", models.JobStatusPending, base, "twitter", "medium")))

		err := s.RecordResult(ctx, "job-1", "twitter", models.PlatformResult{Success: true})
		assert.ErrorIs(t, err, distribution.ErrResultRejected, "pending job")

		_, err = s.TransitionStatus(ctx, "job-1", []models.JobStatus{models.JobStatusPending}, models.JobStatusProcessing)
		require.NoError(t, err)

		completedAt := base.Add(time.Minute)
		require.NoError(t, s.RecordResult(ctx, "job-1", "twitter", models.PlatformResult{
			Success:      true,
			PublishedURL: "https://twitter.com/i/web/status/1",
			PublishID:    "1",
			CompletedAt:  &completedAt,
		}))
		require.NoError(t, s.RecordResult(ctx, "job-1", "medium", models.PlatformResult{Success: false, Error: "medium rate limit exceeded"}))

		err = s.RecordResult(ctx, "job-1", "twitter", models.PlatformResult{Success: false})
		assert.ErrorIs(t, err, distribution.ErrResultRejected, "duplicate")

		err = s.RecordResult(ctx, "job-1", "devto", models.PlatformResult{Success: true})
		assert.ErrorIs(t, err, distribution.ErrResultRejected, "not a target")

		err = s.RecordResult(ctx, "missing", "twitter", models.PlatformResult{Success: true})
		assert.ErrorIs(t, err, distribution.ErrNotFound)

		got, err := s.Get(ctx, "job-1")
		require.NoError(t, err)
		require.Len(t, got.Results, 2)
		assert.Equal(t, "https://twitter.com/i/web/status/1", got.Results["twitter"].PublishedURL)
		require.NotNil(t, got.Results["twitter"].CompletedAt)
		assert.True(t, got.Results["twitter"].CompletedAt.Equal(completedAt))
		assert.Equal(t, "medium rate limit exceeded", got.Results["medium"].Error)
		assert.Equal(t, models.JobStatusPartial, got.AggregateStatus())

		_, err = s.TransitionStatus(ctx, "job-1", []models.JobStatus{models.JobStatusProcessing}, models.JobStatusPartial)
		require.NoError(t, err)
		err = s.RecordResult(ctx, "job-1", "medium", models.PlatformResult{Success: true})
		assert.ErrorIs(t, err, distribution.ErrResultRejected, "terminal job")
	})

	t.Run("concurrent results for one job are all kept", func(t *testing.T) {
		s := newStore(t)
		platforms := []string{"twitter", "linkedin", "medium", "facebook", "devto", "hashnode", "substack", "mastodon"}
		require.NoError(t, s.Create(ctx, newJob("job-1", "post-1", models.JobStatusPending, base, platforms...)))
		_, err := s.TransitionStatus(ctx, "job-1", []models.JobStatus{models.JobStatusPending}, models.JobStatusProcessing)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i, platform := range platforms {
			wg.Add(1)
			go func(i int, platform string) {
				defer wg.Done()
				err := s.RecordResult(ctx, "job-1", platform, models.PlatformResult{
					Success:   i%2 == 0,
					PublishID: platform + "-1",
				})
				assert.NoError(t, err, platform)
			}(i, platform)
		}
		wg.Wait()

		got, err := s.Get(ctx, "job-1")
		require.NoError(t, err)
		require.Len(t, got.Results, len(platforms))
		for i, platform := range platforms {
			assert.Equal(t, platform+"-1", got.Results[platform].PublishID)
			assert.Equal(t, i%2 == 0, got.Results[platform].Success, platform)
		}
		assert.Empty(t, got.UnresolvedPlatforms())
	})

	t.Run("count by status", func(t *testing.T) {
		s := newStore(t)
		statuses := []models.JobStatus{
			models.JobStatusPending,
			models.JobStatusPending,
			models.JobStatusScheduled,
			models.JobStatusCompleted,
			models.JobStatusFailed,
			models.JobStatusFailed,
			models.JobStatusFailed,
		}
		for i, status := range statuses {
			require.NoError(t, s.Create(ctx, newJob(fmt.Sprintf("job-%d", i), "post-1", status, base.Add(time.Duration(i)*time.Minute), "twitter")))
		}

		counts, err := s.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, counts[models.JobStatusPending])
		assert.Equal(t, 1, counts[models.JobStatusScheduled])
		assert.Equal(t, 1, counts[models.JobStatusCompleted])
		assert.Equal(t, 3, counts[models.JobStatusFailed])
		assert.Zero(t, counts[models.JobStatusProcessing])

		empty, err := newStore(t).CountByStatus(ctx)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("delete finished before cutoff", func(t *testing.T) {
		s := newStore(t)
		old := []struct {
			id     string
			status models.JobStatus
		}{
			{"old-completed", models.JobStatusCompleted},
			{"old-partial", models.JobStatusPartial},
			{"old-cancelled", models.JobStatusCancelled},
			{"old-pending", models.JobStatusPending},
			{"old-scheduled", models.JobStatusScheduled},
		}
		for _, job := range old {
			require.NoError(t, s.Create(ctx, newJob(job.id, "post-1", job.status, base, "twitter")))
		}
		recent := newJob("recent-failed", "post-1", models.JobStatusFailed, base, "twitter")
		recent.UpdatedAt = base.Add(2 * time.Hour)
		require.NoError(t, s.Create(ctx, recent))

		deleted, err := s.DeleteFinishedBefore(ctx, base.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 3, deleted)

		for _, id := range []string{"old-completed", "old-partial", "old-cancelled"} {
			_, err := s.Get(ctx, id)
			assert.ErrorIs(t, err, distribution.ErrNotFound, id)
		}
		remaining, err := s.List(ctx, distribution.JobFilter{})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"old-pending", "old-scheduled", "recent-failed"}, ids(remaining))

		counts, err := s.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Zero(t, counts[models.JobStatusCompleted])
		assert.Equal(t, 1, counts[models.JobStatusFailed])

		deleted, err = s.DeleteFinishedBefore(ctx, base.Add(time.Hour))
		require.NoError(t, err)
		assert.Zero(t, deleted)
	})

	t.Run("delete finished removes results", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newJob("job-1", "post-1", models.JobStatusPending, base, "twitter")))
		_, err := s.TransitionStatus(ctx, "job-1", []models.JobStatus{models.JobStatusPending}, models.JobStatusProcessing)
		require.NoError(t, err)
		require.NoError(t, s.RecordResult(ctx, "job-1", "twitter", models.PlatformResult{Success: true}))
		_, err = s.TransitionStatus(ctx, "job-1", []models.JobStatus{models.JobStatusProcessing}, models.JobStatusCompleted)
		require.NoError(t, err)

		deleted, err := s.DeleteFinishedBefore(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, deleted)

		// Reusing the id must start from a clean result set
		require.NoError(t, s.Create(ctx, newJob("job-1", "post-1", models.JobStatusPending, base, "twitter")))
		_, err = s.TransitionStatus(ctx, "job-1", []models.JobStatus{models.JobStatusPending}, models.JobStatusProcessing)
		require.NoError(t, err)
		require.NoError(t, s.RecordResult(ctx, "job-1", "twitter", models.PlatformResult{Success: false, Error: "again"}))

		got, err := s.Get(ctx, "job-1")
		require.NoError(t, err)
		require.Len(t, got.Results, 1)
		assert.Equal(t, "again", got.Results["twitter"].Error)
	})

	t.Run("list filters newest first", func(t *testing.T) {
		s := newStore(t)
		for i, post := range []string{"post-1", "post-2", "post-1", "post-3"} {
			job := newJob(fmt.Sprintf("job-%d", i), post, models.JobStatusPending, base.Add(time.Duration(i)*time.Minute), "twitter")
			if i == 3 {
				job.RequestedBy = "bob"
				job.Status = models.JobStatusCancelled
			}
			require.NoError(t, s.Create(ctx, job))
		}

		all, err := s.List(ctx, distribution.JobFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"job-3", "job-2", "job-1", "job-0"}, ids(all))

		byPost, err := s.List(ctx, distribution.JobFilter{PostID: "post-1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"job-2", "job-0"}, ids(byPost))

		byUser, err := s.List(ctx, distribution.JobFilter{RequestedBy: "bob"})
		require.NoError(t, err)
		assert.Equal(t, []string{"job-3"}, ids(byUser))

		byStatus, err := s.List(ctx, distribution.JobFilter{Status: models.JobStatusPending, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"job-2", "job-1"}, ids(byStatus))

		none, err := s.List(ctx, distribution.JobFilter{PostID: "post-9"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("list due", func(t *testing.T) {
		s := newStore(t)
		now := base.Add(2 * time.Hour)
		earlier, later := base.Add(30*time.Minute), base.Add(3*time.Hour)

		pending := newJob("pending", "post-1", models.JobStatusPending, base.Add(time.Hour), "twitter")
		dueSoon := newJob("due", "post-1", models.JobStatusScheduled, base, "twitter")
		dueSoon.ScheduledFor = &earlier
		notYet := newJob("not-yet", "post-1", models.JobStatusScheduled, base, "twitter")
		notYet.ScheduledFor = &later
		exact := newJob("exact", "post-1", models.JobStatusScheduled, base, "twitter")
		exact.ScheduledFor = &now
		cancelled := newJob("cancelled", "post-1", models.JobStatusScheduled, base, "twitter")
		cancelled.ScheduledFor = &earlier

		for _, job := range []*models.DistributionJob{pending, dueSoon, notYet, exact, cancelled} {
			require.NoError(t, s.Create(ctx, job))
		}
		_, err := s.TransitionStatus(ctx, "cancelled", []models.JobStatus{models.JobStatusScheduled}, models.JobStatusCancelled)
		require.NoError(t, err)

		due, err := s.ListDue(ctx, now, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"due", "pending", "exact"}, ids(due))

		limited, err := s.ListDue(ctx, now, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"due"}, ids(limited))

		_, err = s.TransitionStatus(ctx, "due", []models.JobStatus{models.JobStatusScheduled}, models.JobStatusProcessing)
		require.NoError(t, err)
		due, err = s.ListDue(ctx, now, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"pending", "exact"}, ids(due))
	})
}
