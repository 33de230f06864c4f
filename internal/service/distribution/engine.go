package distribution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ifuryst/syndicate/internal/config"
	"github.com/ifuryst/syndicate/internal/models"
	"github.com/ifuryst/syndicate/internal/service/publisher"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	defaultDueBatch  = 100
	maxBulkJobs      = 100

	defaultRecordAttempts = 3
	defaultRecordBackoff  = 100 * time.Millisecond
)

// DistributeRequest asks for a post to be published to a set of platforms.
type DistributeRequest struct {
	PostID       string
	Platforms    []string
	ScheduledFor *time.Time
	RequestedBy  string
}

// JobStatistics counts stored jobs per status.
type JobStatistics struct {
	Total    int                      `json:"total"`
	ByStatus map[models.JobStatus]int `json:"by_status"`
}

// Engine owns the job lifecycle: it validates requests, persists jobs and
// fans each dispatch out to the registered adapters.
type Engine struct {
	store     Store
	registry  *publisher.Registry
	posts     PostSource
	logger    *zap.Logger
	observers []JobObserver

	maxConcurrency int
	publishTimeout time.Duration
	dueBatchSize   int
	recordAttempts int
	recordBackoff  time.Duration
	now            func() time.Time
	newID          func() string

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

type Option func(*Engine)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithResultRetry sets how often a failed result write is retried and the base backoff between attempts.
func WithResultRetry(attempts int, backoff time.Duration) Option {
	return func(e *Engine) {
		e.recordAttempts = attempts
		e.recordBackoff = backoff
	}
}

func WithObservers(observers ...JobObserver) Option {
	return func(e *Engine) { e.observers = append(e.observers, observers...) }
}

func NewEngine(cfg config.DispatchConfig, store Store, registry *publisher.Registry, posts PostSource, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:          store,
		registry:       registry,
		posts:          posts,
		logger:         logger,
		maxConcurrency: cfg.MaxConcurrency,
		publishTimeout: config.Duration(cfg.PublishTimeout),
		dueBatchSize:   cfg.DueBatchSize,
		recordAttempts: defaultRecordAttempts,
		recordBackoff:  defaultRecordBackoff,
		now:            time.Now,
		newID:          uuid.NewString,
	}
	if e.dueBatchSize <= 0 {
		e.dueBatchSize = defaultDueBatch
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.recordAttempts <= 0 {
		e.recordAttempts = 1
	}
	return e
}

// Distribute validates the request and creates a job. Jobs without a future
// schedule start dispatching in the background before this returns.
func (e *Engine) Distribute(ctx context.Context, req DistributeRequest) (*models.DistributionJob, error) {
	postID := strings.TrimSpace(req.PostID)
	if postID == "" {
		return nil, &ValidationError{Field: "post_id", Reason: "must not be empty"}
	}

	platforms, err := e.normalizePlatforms(req.Platforms)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	job := &models.DistributionJob{
		ID:          e.newID(),
		PostID:      postID,
		Platforms:   platforms,
		Status:      models.JobStatusPending,
		Results:     map[string]models.PlatformResult{},
		RequestedBy: strings.TrimSpace(req.RequestedBy),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.ScheduledFor != nil {
		scheduledFor := req.ScheduledFor.UTC()
		job.ScheduledFor = &scheduledFor
		if scheduledFor.After(now) {
			job.Status = models.JobStatusScheduled
		}
	}

	return e.createAndStart(ctx, job)
}

// JobStatus returns the current snapshot of a job.
func (e *Engine) JobStatus(ctx context.Context, id string) (*models.DistributionJob, error) {
	return e.store.Get(ctx, id)
}

// BulkJobStatus returns the jobs in the order asked for. Any unknown id fails the whole call.
func (e *Engine) BulkJobStatus(ctx context.Context, ids []string) ([]*models.DistributionJob, error) {
	if len(ids) == 0 {
		return nil, &ValidationError{Field: "ids", Reason: "at least one job id is required"}
	}
	if len(ids) > maxBulkJobs {
		return nil, &ValidationError{Field: "ids", Reason: fmt.Sprintf("at most %d job ids per request", maxBulkJobs)}
	}

	jobs := make([]*models.DistributionJob, 0, len(ids))
	for _, id := range ids {
		job, err := e.store.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Statistics counts jobs per status. Every status is present, zero or not.
func (e *Engine) Statistics(ctx context.Context) (JobStatistics, error) {
	counts, err := e.store.CountByStatus(ctx)
	if err != nil {
		return JobStatistics{}, fmt.Errorf("failed to count jobs: %w", err)
	}

	stats := JobStatistics{ByStatus: make(map[models.JobStatus]int, len(models.JobStatuses))}
	for _, status := range models.JobStatuses {
		stats.ByStatus[status] = counts[status]
		stats.Total += counts[status]
	}
	return stats, nil
}

// PruneFinished deletes finished jobs last updated more than olderThan ago.
func (e *Engine) PruneFinished(ctx context.Context, olderThan time.Duration) (int, error) {
	before := e.now().UTC().Add(-olderThan)
	deleted, err := e.store.DeleteFinishedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune finished jobs: %w", err)
	}
	if deleted > 0 {
		e.logger.Info("Pruned finished distribution jobs",
			zap.Int("deleted", deleted),
			zap.Time("before", before))
	}
	return deleted, nil
}

// ListJobs returns jobs matching the filter, newest first.
func (e *Engine) ListJobs(ctx context.Context, filter JobFilter) ([]*models.DistributionJob, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return e.store.List(ctx, filter)
}

// RetryFailed creates a new job for the failed platforms of a finished job.
func (e *Engine) RetryFailed(ctx context.Context, id string) (*models.DistributionJob, error) {
	source, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !source.Status.IsTerminal() || source.Status == models.JobStatusCancelled {
		return nil, fmt.Errorf("%w: job %s is %s", ErrInvalidState, id, source.Status)
	}

	failed := source.FailedPlatforms()
	if len(failed) == 0 {
		return nil, fmt.Errorf("%w: job %s has no failed platforms", ErrInvalidState, id)
	}

	now := e.now().UTC()
	job := &models.DistributionJob{
		ID:          e.newID(),
		PostID:      source.PostID,
		Platforms:   failed,
		Status:      models.JobStatusPending,
		Results:     map[string]models.PlatformResult{},
		RetryOf:     source.ID,
		RequestedBy: source.RequestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	return e.createAndStart(ctx, job)
}

// Cancel stops a job that has not started dispatching. It reports false when
// the job is already processing or finished.
func (e *Engine) Cancel(ctx context.Context, id string) (bool, error) {
	ok, err := e.store.TransitionStatus(ctx, id, []models.JobStatus{models.JobStatusPending, models.JobStatusScheduled}, models.JobStatusCancelled)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	e.logger.Info("Distribution job cancelled", zap.String("job_id", id))

	if job, err := e.store.Get(ctx, id); err == nil {
		e.notify(ctx, job)
	}
	return true, nil
}

// DispatchDue starts every job that is ready to run. Only jobs this call moved
// to processing are counted, not ones another dispatcher already took.
func (e *Engine) DispatchDue(ctx context.Context, now time.Time) (int, error) {
	jobs, err := e.store.ListDue(ctx, now, e.dueBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list due jobs: %w", err)
	}

	started := 0
	for _, job := range jobs {
		if !e.begin() {
			break
		}

		claimed, err := e.claim(ctx, job.ID)
		if err != nil || !claimed {
			if err != nil {
				e.logger.Error("Failed to start due job", zap.String("job_id", job.ID), zap.Error(err))
			}
			e.inflight.Done()
			continue
		}

		started++
		runCtx := context.WithoutCancel(ctx)
		go func(id string) {
			defer e.inflight.Done()
			e.run(runCtx, id)
		}(job.ID)
	}
	return started, nil
}

// Wait blocks until every in-flight dispatch has finished.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

// Close stops accepting new jobs and waits for in-flight dispatches.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.inflight.Wait()
}

func (e *Engine) normalizePlatforms(requested []string) ([]string, error) {
	seen := make(map[string]bool, len(requested))
	platforms := make([]string, 0, len(requested))
	var unknown []string

	for _, platform := range requested {
		platform = strings.TrimSpace(platform)
		if platform == "" || seen[platform] {
			continue
		}
		seen[platform] = true
		if !e.registry.Has(platform) {
			unknown = append(unknown, platform)
			continue
		}
		platforms = append(platforms, platform)
	}

	if len(unknown) > 0 {
		return nil, &ValidationError{Field: "platforms", Reason: "unknown platform(s): " + strings.Join(unknown, ", ")}
	}
	if len(platforms) == 0 {
		return nil, &ValidationError{Field: "platforms", Reason: "at least one platform is required"}
	}
	return platforms, nil
}

func (e *Engine) createAndStart(ctx context.Context, job *models.DistributionJob) (*models.DistributionJob, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	if err := e.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create distribution job: %w", err)
	}

	snapshot := job.Clone()

	e.logger.Info("Distribution job created",
		zap.String("job_id", job.ID),
		zap.String("post_id", job.PostID),
		zap.Strings("platforms", job.Platforms),
		zap.String("status", string(job.Status)),
		zap.String("retry_of", job.RetryOf))

	if job.Status == models.JobStatusPending {
		e.startDispatch(ctx, job.ID)
	}

	return snapshot, nil
}

// begin registers an in-flight dispatch unless the engine is closed.
// The caller must call e.inflight.Done when it returns true.
func (e *Engine) begin() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return false
	}
	e.inflight.Add(1)
	return true
}

// claim moves a pending or scheduled job to processing. False means the job was
// cancelled or another dispatcher got there first.
func (e *Engine) claim(ctx context.Context, id string) (bool, error) {
	return e.store.TransitionStatus(ctx, id, []models.JobStatus{models.JobStatusPending, models.JobStatusScheduled}, models.JobStatusProcessing)
}

func (e *Engine) startDispatch(ctx context.Context, id string) {
	if !e.begin() {
		return
	}

	dispatchCtx := context.WithoutCancel(ctx)
	go func() {
		defer e.inflight.Done()

		claimed, err := e.claim(dispatchCtx, id)
		if err != nil {
			e.logger.Error("Failed to start dispatch", zap.String("job_id", id), zap.Error(err))
			return
		}
		if !claimed {
			e.logger.Debug("Job no longer dispatchable", zap.String("job_id", id))
			return
		}
		e.run(dispatchCtx, id)
	}()
}

// run publishes a claimed job and writes its final status.
func (e *Engine) run(ctx context.Context, id string) {
	logger := e.logger.With(zap.String("job_id", id))

	job, err := e.store.Get(ctx, id)
	if err != nil {
		logger.Error("Failed to load job for dispatch", zap.Error(err))
		return
	}

	start := time.Now()
	content, err := e.posts.GetPost(ctx, job.PostID)
	if err != nil {
		logger.Warn("Failed to load post, failing every platform",
			zap.String("post_id", job.PostID),
			zap.Error(err))
		for _, platform := range job.Platforms {
			e.record(ctx, logger, id, platform, models.PlatformResult{
				Success: false,
				Error:   fmt.Sprintf("failed to load post %s: %v", job.PostID, err),
			})
		}
	} else {
		e.fanOut(ctx, logger, job, content)
	}

	e.finish(ctx, logger, id, time.Since(start))
}

func (e *Engine) fanOut(ctx context.Context, logger *zap.Logger, job *models.DistributionJob, content *publisher.Content) {
	g := new(errgroup.Group)
	if e.maxConcurrency > 0 {
		g.SetLimit(e.maxConcurrency)
	}

	for _, platform := range job.Platforms {
		g.Go(func() error {
			result := e.publishOne(ctx, logger, job, platform, content)
			e.record(ctx, logger, job.ID, platform, result)
			return nil
		})
	}

	// Publish failures are recorded results, never group errors.
	_ = g.Wait()
}

func (e *Engine) publishOne(ctx context.Context, logger *zap.Logger, job *models.DistributionJob, platform string, content *publisher.Content) models.PlatformResult {
	adapter, ok := e.registry.Get(platform)
	if !ok {
		return models.PlatformResult{Success: false, Error: fmt.Sprintf("platform %s is not registered", platform)}
	}

	if e.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.publishTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := invoke(ctx, adapter, cloneContent(content), publisher.PublishOptions{JobID: job.ID})
	duration := time.Since(start)

	if err != nil {
		logger.Error("Adapter returned an unexpected error",
			zap.String("platform", platform),
			zap.Duration("duration", duration),
			zap.Error(err))
		return models.PlatformResult{Success: false, Error: fmt.Sprintf("unexpected error publishing to %s", platform)}
	}
	if res == nil {
		return models.PlatformResult{Success: false, Error: fmt.Sprintf("%s returned no result", platform)}
	}

	result := models.PlatformResult{
		Success:      res.Success,
		Error:        res.Error,
		PublishedURL: res.URL,
		PublishID:    res.PublishID,
	}
	if !result.Success && result.Error == "" {
		result.Error = fmt.Sprintf("publishing to %s failed", platform)
	}

	logger.Info("Platform publish finished",
		zap.String("platform", platform),
		zap.Bool("success", result.Success),
		zap.String("url", result.PublishedURL),
		zap.Duration("duration", duration))

	return result
}

func invoke(ctx context.Context, adapter publisher.Adapter, content publisher.Content, opts publisher.PublishOptions) (res *publisher.PublishResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("adapter %s panicked: %v", adapter.Platform(), r)
		}
	}()
	return adapter.Publish(ctx, content, opts)
}

// record writes one platform result, retrying store errors with a linear backoff.
// Rejections and unknown jobs are not retried.
func (e *Engine) record(ctx context.Context, logger *zap.Logger, id, platform string, result models.PlatformResult) bool {
	completedAt := e.now().UTC()
	result.CompletedAt = &completedAt

	err := e.store.RecordResult(ctx, id, platform, result)
	for attempt := 1; err != nil && attempt < e.recordAttempts; attempt++ {
		if errors.Is(err, ErrResultRejected) || errors.Is(err, ErrNotFound) {
			break
		}

		logger.Warn("Retrying platform result write",
			zap.String("platform", platform),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-time.After(time.Duration(attempt) * e.recordBackoff):
		case <-ctx.Done():
			return false
		}
		err = e.store.RecordResult(ctx, id, platform, result)
	}
	if err == nil {
		return true
	}

	logger.Error("Failed to record platform result",
		zap.String("platform", platform),
		zap.Error(err))
	return false
}

func (e *Engine) finish(ctx context.Context, logger *zap.Logger, id string, elapsed time.Duration) {
	job, err := e.store.Get(ctx, id)
	if err != nil {
		logger.Error("Failed to load job to finish dispatch", zap.Error(err))
		return
	}

	// A platform whose result never made it to the store counts as failed.
	if missing := job.UnresolvedPlatforms(); len(missing) > 0 {
		for _, platform := range missing {
			e.record(ctx, logger, id, platform, models.PlatformResult{
				Success: false,
				Error:   fmt.Sprintf("result for %s could not be recorded", platform),
			})
		}
		if job, err = e.store.Get(ctx, id); err != nil {
			logger.Error("Failed to load job to finish dispatch", zap.Error(err))
			return
		}
	}

	status := job.AggregateStatus()
	ok, err := e.store.TransitionStatus(ctx, id, []models.JobStatus{models.JobStatusProcessing}, status)
	if err != nil {
		logger.Error("Failed to write final job status", zap.String("status", string(status)), zap.Error(err))
		return
	}
	if !ok {
		logger.Warn("Job left processing before dispatch finished")
		return
	}

	logger.Info("Distribution job finished",
		zap.String("status", string(status)),
		zap.Int("platforms", len(job.Platforms)),
		zap.Strings("failed", job.FailedPlatforms()),
		zap.Duration("duration", elapsed))

	final, err := e.store.Get(ctx, id)
	if err != nil {
		logger.Error("Failed to load finished job", zap.Error(err))
		return
	}
	e.notify(ctx, final)
}

func (e *Engine) notify(ctx context.Context, job *models.DistributionJob) {
	for _, observer := range e.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("Job observer panicked",
						zap.String("job_id", job.ID),
						zap.Any("panic", r))
				}
			}()
			observer.JobFinished(ctx, job.Clone())
		}()
	}
}

func cloneContent(content *publisher.Content) publisher.Content {
	c := *content
	c.Tags = append([]string(nil), content.Tags...)
	if content.Metadata != nil {
		c.Metadata = make(map[string]string, len(content.Metadata))
		for k, v := range content.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}
