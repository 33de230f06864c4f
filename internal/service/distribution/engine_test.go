package distribution_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/syndicate/internal/config"
	"github.com/ifuryst/syndicate/internal/models"
	"github.com/ifuryst/syndicate/internal/service/distribution"
	"github.com/ifuryst/syndicate/internal/service/distribution/store"
	"github.com/ifuryst/syndicate/internal/service/publisher"
	"github.com/ifuryst/syndicate/internal/service/publisher/publishertest"
)

type stubPosts map[string]*publisher.Content

func (s stubPosts) GetPost(ctx context.Context, id string) (*publisher.Content, error) {
	post, ok := s[id]
	if !ok {
		return nil, errors.New("post does not exist")
	}
	return post, nil
}

type recordingObserver struct {
	mu   sync.Mutex
	jobs []*models.DistributionJob
}

func (o *recordingObserver) JobFinished(ctx context.Context, job *models.DistributionJob) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.jobs = append(o.jobs, job)
}

func (o *recordingObserver) finished() []*models.DistributionJob {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*models.DistributionJob(nil), o.jobs...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	engine   *distribution.Engine
	store    *store.MemoryStore
	observer *recordingObserver
	clock    *fakeClock
}

func newHarness(t *testing.T, cfg config.DispatchConfig, adapters ...publisher.Adapter) *harness {
	t.Helper()

	registry, err := publisher.NewRegistry(zap.NewNop(), time.Second, adapters...)
	require.NoError(t, err)

	h := &harness{
		store:    store.NewMemoryStore(),
		observer: &recordingObserver{},
		clock:    &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	posts := stubPosts{
		"post-1": {ID: "post-1", Title: "Hello", Content: "Body", Tags: []string{"go"}},
	}
	h.engine = distribution.NewEngine(cfg, h.store, registry, posts, zap.NewNop(),
		distribution.WithClock(h.clock.Now),
		distribution.WithObservers(h.observer))
	t.Cleanup(h.engine.Close)
	return h
}

func (h *harness) distribute(t *testing.T, req distribution.DistributeRequest) *models.DistributionJob {
	t.Helper()
	job, err := h.engine.Distribute(context.Background(), req)
	require.NoError(t, err)
	h.engine.Wait()

	final, err := h.engine.JobStatus(context.Background(), job.ID)
	require.NoError(t, err)
	return final
}

func TestDistributeCompletes(t *testing.T) {
	twitter := publishertest.Succeeding("twitter")
	medium := publishertest.Succeeding("medium")
	h := newHarness(t, config.DispatchConfig{}, twitter, medium)

	job := h.distribute(t, distribution.DistributeRequest{
		PostID:      "post-1",
		Platforms:   []string{"medium", " twitter ", "medium"},
		RequestedBy: "alice",
	})

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, []string{"medium", "twitter"}, job.Platforms)
	assert.Equal(t, "alice", job.RequestedBy)
	require.Len(t, job.Results, 2)
	assert.Equal(t, "https://medium.example/post-1", job.Results["medium"].PublishedURL)
	assert.NotNil(t, job.Results["twitter"].CompletedAt)

	assert.Equal(t, []string{job.ID}, twitter.JobIDs())
	require.Len(t, twitter.Calls(), 1)
	assert.Equal(t, "Hello", twitter.Calls()[0].Title)

	finished := h.observer.finished()
	require.Len(t, finished, 1)
	assert.Equal(t, models.JobStatusCompleted, finished[0].Status)
}

func TestDistributeReturnsSnapshotBeforeDispatch(t *testing.T) {
	release := make(chan struct{})
	slow := publishertest.New("slow")
	slow.PublishFunc = func(ctx context.Context, c publisher.Content, o publisher.PublishOptions) (*publisher.PublishResult, error) {
		<-release
		return &publisher.PublishResult{Success: true}, nil
	}
	h := newHarness(t, config.DispatchConfig{}, slow)

	job, err := h.engine.Distribute(context.Background(), distribution.DistributeRequest{PostID: "post-1", Platforms: []string{"slow"}})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Empty(t, job.Results)

	close(release)
	h.engine.Wait()
}

func TestDistributePartialAndFailed(t *testing.T) {
	h := newHarness(t, config.DispatchConfig{},
		publishertest.Succeeding("twitter"),
		publishertest.Failing("medium", "medium rejected the content"),
		publishertest.Failing("devto", "devto rate limit exceeded"))

	partial := h.distribute(t, distribution.DistributeRequest{PostID: "post-1", Platforms: []string{"twitter", "medium"}})
	assert.Equal(t, models.JobStatusPartial, partial.Status)
	assert.True(t, partial.Results["twitter"].Success)
	assert.Equal(t, "medium rejected the content", partial.Results["medium"].Error)

	failed := h.distribute(t, distribution.DistributeRequest{PostID: "post-1", Platforms: []string{"medium", "devto"}})
	assert.Equal(t, models.JobStatusFailed, failed.Status)
	assert.Equal(t, []string{"medium", "devto"}, failed.FailedPlatforms())
}

func TestDistributeValidation(t *testing.T) {
	h := newHarness(t, config.DispatchConfig{}, publishertest.Succeeding("twitter"))

	tests := []struct {
		name  string
		req   distribution.DistributeRequest
		field string
	}{
		{"empty post", distribution.DistributeRequest{PostID: "  ", Platforms: []string{"twitter"}}, "post_id"},
		{"no platforms", distribution.DistributeRequest{PostID: "post-1"}, "platforms"},
		{"blank platforms", distribution.DistributeRequest{PostID: "post-1", Platforms: []string{"", " "}}, "platforms"},
		{"unknown platform", distribution.DistributeRequest{PostID: "post-1", Platforms: []string{"twitter", "myspace"}}, "platforms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.Distribute(context.Background(), tt.req)
			var validationErr *distribution.ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.field, validationErr.Field)
		})
	}

	_, err := h.engine.Distribute(context.Background(), distribution.DistributeRequest{PostID: "post-1", Platforms: []string{"myspace", "friendster"}})
	assert.EqualError(t, err, "invalid platforms: unknown platform(s): myspace, friendster")

	jobs, err := h.engine.ListJobs(context.Background(), distribution.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestDispatchFailureModes(t *testing.T) {
	panics := publishertest.New("panics")
	panics.PublishFunc = func(context.Context, publisher.Content, publisher.PublishOptions) (*publisher.PublishResult, error) {
		panic("boom")
	}
	errs := publishertest.New("errs")
	errs.PublishFunc = func(context.Context, publisher.Content, publisher.PublishOptions) (*publisher.PublishResult, error) {
		return nil, errors.New("socket closed")
	}
	empty := publishertest.New("empty")
	empty.PublishFunc = func(context.Context, publisher.Content, publisher.PublishOptions) (*publisher.PublishResult, error) {
		return nil, nil
	}
	silent := publishertest.New("silent")
	silent.PublishFunc = func(context.Context, publisher.Content, publisher.PublishOptions) (*publisher.PublishResult, error) {
		return &publisher.PublishResult{Success: false}, nil
	}
	h := newHarness(t, config.DispatchConfig{}, panics, errs, empty, silent, publishertest.Succeeding("ok"))

	job := h.distribute(t, distribution.DistributeRequest{
		PostID:    "post-1",
		Platforms: []string{"panics", "errs", "empty", "silent", "ok"},
	})

	assert.Equal(t, models.JobStatusPartial, job.Status)
	assert.Equal(t, "unexpected error publishing to panics", job.Results["panics"].Error)
	assert.Equal(t, "unexpected error publishing to errs", job.Results["errs"].Error)
	assert.Equal(t, "empty returned no result", job.Results["empty"].Error)
	assert.Equal(t, "publishing to silent failed", job.Results["silent"].Error)
	assert.True(t, job.Results["ok"].Success)
}

func TestDispatchPostLoadFailure(t *testing.T) {
	twitter := publishertest.Succeeding("twitter")
	h := newHarness(t, config.DispatchConfig{}, twitter, publishertest.Succeeding("medium"))

	job := h.distribute(t, distribution.DistributeRequest{PostID: "missing", Platforms: []string{"twitter", "medium"}})

	assert.Equal(t, models.JobStatusFailed, job.Status)
	for _, platform := range []string{"twitter", "medium"} {
		assert.Equal(t, "failed to load post missing: post does not exist", job.Results[platform].Error)
	}
	assert.Empty(t, twitter.Calls())
}

func TestDispatchRespectsConcurrencyLimit(t *testing.T) {
	var running, peak int32
	track := func(context.Context, publisher.Content, publisher.PublishOptions) (*publisher.PublishResult, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return &publisher.PublishResult{Success: true}, nil
	}

	var adapters []publisher.Adapter
	var names []string
	for _, name := range []string{"a", "b", "c", "d"} {
		a := publishertest.New(name)
		a.PublishFunc = track
		adapters = append(adapters, a)
		names = append(names, name)
	}
	h := newHarness(t, config.DispatchConfig{MaxConcurrency: 2}, adapters...)

	job := h.distribute(t, distribution.DistributeRequest{PostID: "post-1", Platforms: names})
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestDispatchPublishTimeout(t *testing.T) {
	hangs := publishertest.New("hangs")
	hangs.PublishFunc = func(ctx context.Context, c publisher.Content, o publisher.PublishOptions) (*publisher.PublishResult, error) {
		<-ctx.Done()
		return publisher.Failed("hangs request timed out"), nil
	}
	h := newHarness(t, config.DispatchConfig{PublishTimeout: "20ms"}, hangs)

	job := h.distribute(t, distribution.DistributeRequest{PostID: "post-1", Platforms: []string{"hangs"}})
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "hangs request timed out", job.Results["hangs"].Error)
}

func TestScheduledDistribution(t *testing.T) {
	twitter := publishertest.Succeeding("twitter")
	h := newHarness(t, config.DispatchConfig{}, twitter)
	ctx := context.Background()

	future := h.clock.Now().Add(time.Hour)
	job, err := h.engine.Distribute(ctx, distribution.DistributeRequest{
		PostID:       "post-1",
		Platforms:    []string{"twitter"},
		ScheduledFor: &future,
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusScheduled, job.Status)
	h.engine.Wait()
	assert.Empty(t, twitter.Calls())

	started, err := h.engine.DispatchDue(ctx, h.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, started)

	started, err = h.engine.DispatchDue(ctx, future)
	require.NoError(t, err)
	assert.Equal(t, 1, started)
	h.engine.Wait()

	final, err := h.engine.JobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Len(t, twitter.Calls(), 1)

	// Already finished, so a second sweep must not publish again
	started, err = h.engine.DispatchDue(ctx, future.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, started)
	h.engine.Wait()
	assert.Len(t, twitter.Calls(), 1)
}

func TestPastScheduleDispatchesImmediately(t *testing.T) {
	h := newHarness(t, config.DispatchConfig{}, publishertest.Succeeding("twitter"))

	past := h.clock.Now().Add(-time.Minute)
	job := h.distribute(t, distribution.DistributeRequest{PostID: "post-1", Platforms: []string{"twitter"}, ScheduledFor: &past})

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	require.NotNil(t, job.ScheduledFor)
	assert.True(t, job.ScheduledFor.Equal(past))
}

func TestCancel(t *testing.T) {
	twitter := publishertest.Succeeding("twitter")
	h := newHarness(t, config.DispatchConfig{}, twitter)
	ctx := context.Background()

	future := h.clock.Now().Add(time.Hour)
	job, err := h.engine.Distribute(ctx, distribution.DistributeRequest{PostID: "post-1", Platforms: []string{"twitter"}, ScheduledFor: &future})
	require.NoError(t, err)

	cancelled, err := h.engine.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	cancelled, err = h.engine.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)

	started, err := h.engine.DispatchDue(ctx, future.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, started)
	h.engine.Wait()
	assert.Empty(t, twitter.Calls())

	final, err := h.engine.JobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, final.Status)
	assert.Empty(t, final.Results)

	finished := h.observer.finished()
	require.Len(t, finished, 1)
	assert.Equal(t, models.JobStatusCancelled, finished[0].Status)

	_, err = h.engine.Cancel(ctx, "nope")
	assert.ErrorIs(t, err, distribution.ErrNotFound)
}

func TestCancelProcessingJobIsRefused(t *testing.T) {
	release := make(chan struct{})
	slow := publishertest.New("slow")
	slow.PublishFunc = func(ctx context.Context, c publisher.Content, o publisher.PublishOptions) (*publisher.PublishResult, error) {
		<-release
		return &publisher.PublishResult{Success: true}, nil
	}
	h := newHarness(t, config.DispatchConfig{}, slow)
	ctx := context.Background()

	job, err := h.engine.Distribute(ctx, distribution.DistributeRequest{PostID: "post-1", Platforms: []string{"slow"}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, err := h.engine.JobStatus(ctx, job.ID)
		return err == nil && current.Status == models.JobStatusProcessing
	}, time.Second, 5*time.Millisecond)

	cancelled, err := h.engine.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)

	close(release)
	h.engine.Wait()

	final, err := h.engine.JobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
}

func TestRetryFailed(t *testing.T) {
	var devtoAttempts int32
	devto := publishertest.New("devto")
	devto.PublishFunc = func(context.Context, publisher.Content, publisher.PublishOptions) (*publisher.PublishResult, error) {
		if atomic.AddInt32(&devtoAttempts, 1) == 1 {
			return publisher.Failed("devto rate limit exceeded"), nil
		}
		return &publisher.PublishResult{Success: true, URL: "https://dev.to/x"}, nil
	}
	twitter := publishertest.Succeeding("twitter")
	h := newHarness(t, config.DispatchConfig{},
		twitter, devto, publishertest.Failing("medium", "medium authentication failed (status 401)"))
	ctx := context.Background()

	original := h.distribute(t, distribution.DistributeRequest{
		PostID:      "post-1",
		Platforms:   []string{"medium", "twitter", "devto"},
		RequestedBy: "bob",
	})
	require.Equal(t, models.JobStatusPartial, original.Status)

	retry, err := h.engine.RetryFailed(ctx, original.ID)
	require.NoError(t, err)
	assert.NotEqual(t, original.ID, retry.ID)
	assert.Equal(t, original.ID, retry.RetryOf)
	assert.Equal(t, []string{"medium", "devto"}, retry.Platforms)
	assert.Equal(t, "bob", retry.RequestedBy)
	h.engine.Wait()

	retried, err := h.engine.JobStatus(ctx, retry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPartial, retried.Status)
	assert.True(t, retried.Results["devto"].Success)
	assert.Len(t, twitter.Calls(), 1)

	// The original job is untouched
	again, err := h.engine.JobStatus(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, original.Results, again.Results)
	assert.Equal(t, models.JobStatusPartial, again.Status)
}

func TestRetryFailedRejectsInvalidStates(t *testing.T) {
	h := newHarness(t, config.DispatchConfig{}, publishertest.Succeeding("twitter"))
	ctx := context.Background()

	completed := h.distribute(t, distribution.DistributeRequest{PostID: "post-1", Platforms: []string{"twitter"}})
	_, err := h.engine.RetryFailed(ctx, completed.ID)
	assert.ErrorIs(t, err, distribution.ErrInvalidState)

	future := h.clock.Now().Add(time.Hour)
	scheduled, err := h.engine.Distribute(ctx, distribution.DistributeRequest{PostID: "post-1", Platforms: []string{"twitter"}, ScheduledFor: &future})
	require.NoError(t, err)
	_, err = h.engine.RetryFailed(ctx, scheduled.ID)
	assert.ErrorIs(t, err, distribution.ErrInvalidState)

	_, err = h.engine.Cancel(ctx, scheduled.ID)
	require.NoError(t, err)
	_, err = h.engine.RetryFailed(ctx, scheduled.ID)
	assert.ErrorIs(t, err, distribution.ErrInvalidState)

	_, err = h.engine.RetryFailed(ctx, "nope")
	assert.ErrorIs(t, err, distribution.ErrNotFound)
}

func TestFinishedJobRejectsResults(t *testing.T) {
	h := newHarness(t, config.DispatchConfig{}, publishertest.Failing("twitter", "nope"))

	job := h.distribute(t, distribution.DistributeRequest{PostID: "post-1", Platforms: []string{"twitter"}})
	require.Equal(t, models.JobStatusFailed, job.Status)

	err := h.store.RecordResult(context.Background(), job.ID, "twitter", models.PlatformResult{Success: true})
	assert.ErrorIs(t, err, distribution.ErrResultRejected)

	ok, err := h.store.TransitionStatus(context.Background(), job.ID,
		[]models.JobStatus{models.JobStatusPending, models.JobStatusScheduled, models.JobStatusProcessing}, models.JobStatusCompleted)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListJobs(t *testing.T) {
	h := newHarness(t, config.DispatchConfig{}, publishertest.Succeeding("twitter"), publishertest.Failing("medium", "x"))
	ctx := context.Background()

	first := h.distribute(t, distribution.DistributeRequest{PostID: "post-1", Platforms: []string{"twitter"}, RequestedBy: "alice"})
	h.clock.Advance(time.Second)
	second := h.distribute(t, distribution.DistributeRequest{PostID: "post-2", Platforms: []string{"medium"}, RequestedBy: "bob"})
	h.clock.Advance(time.Second)
	third := h.distribute(t, distribution.DistributeRequest{PostID: "post-1", Platforms: []string{"medium"}, RequestedBy: "alice"})

	all, err := h.engine.ListJobs(ctx, distribution.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{third.ID, second.ID, first.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	byPost, err := h.engine.ListJobs(ctx, distribution.JobFilter{PostID: "post-1"})
	require.NoError(t, err)
	assert.Len(t, byPost, 2)

	failedByAlice, err := h.engine.ListJobs(ctx, distribution.JobFilter{RequestedBy: "alice", Status: models.JobStatusFailed})
	require.NoError(t, err)
	require.Len(t, failedByAlice, 1)
	assert.Equal(t, third.ID, failedByAlice[0].ID)

	limited, err := h.engine.ListJobs(ctx, distribution.JobFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestJobStatusUnknown(t *testing.T) {
	h := newHarness(t, config.DispatchConfig{}, publishertest.Succeeding("twitter"))
	_, err := h.engine.JobStatus(context.Background(), "nope")
	assert.ErrorIs(t, err, distribution.ErrNotFound)
}

func TestClosedEngineRejectsWork(t *testing.T) {
	h := newHarness(t, config.DispatchConfig{}, publishertest.Succeeding("twitter"))
	ctx := context.Background()

	future := h.clock.Now().Add(time.Hour)
	scheduled, err := h.engine.Distribute(ctx, distribution.DistributeRequest{PostID: "post-1", Platforms: []string{"twitter"}, ScheduledFor: &future})
	require.NoError(t, err)

	h.engine.Close()

	_, err = h.engine.Distribute(ctx, distribution.DistributeRequest{PostID: "post-1", Platforms: []string{"twitter"}})
	assert.ErrorIs(t, err, distribution.ErrClosed)

	started, err := h.engine.DispatchDue(ctx, future)
	require.NoError(t, err)
	assert.Zero(t, started)

	current, err := h.engine.JobStatus(ctx, scheduled.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusScheduled, current.Status)
}

func TestObserverPanicDoesNotBreakDispatch(t *testing.T) {
	registry, err := publisher.NewRegistry(zap.NewNop(), time.Second, publishertest.Succeeding("twitter"))
	require.NoError(t, err)

	recorder := &recordingObserver{}
	engine := distribution.NewEngine(config.DispatchConfig{}, store.NewMemoryStore(), registry,
		stubPosts{"post-1": {ID: "post-1"}}, zap.NewNop(),
		distribution.WithObservers(panickingObserver{}, recorder))
	defer engine.Close()

	job, err := engine.Distribute(context.Background(), distribution.DistributeRequest{PostID: "post-1", Platforms: []string{"twitter"}})
	require.NoError(t, err)
	engine.Wait()

	require.Len(t, recorder.finished(), 1)
	assert.Equal(t, job.ID, recorder.finished()[0].ID)
}

type panickingObserver struct{}

func (panickingObserver) JobFinished(context.Context, *models.DistributionJob) {
	panic("observer exploded")
}
