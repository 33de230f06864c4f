package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ifuryst/syndicate/internal/models"
	"github.com/ifuryst/syndicate/internal/service/distribution"
)

const (
	maxTxRetries  = 10
	listBatchSize = 100
)

var _ distribution.Store = (*RedisStore)(nil)

// RedisStore keeps each job as a JSON document. Sorted sets index jobs by
// creation time (all, per post, per requester) and by due time.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "syndicate"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, now: time.Now}
}

func (s *RedisStore) jobKey(id string) string { return s.prefix + ":job:" + id }
func (s *RedisStore) allKey() string          { return s.prefix + ":jobs:all" }
func (s *RedisStore) dueKey() string          { return s.prefix + ":jobs:due" }
func (s *RedisStore) postKey(postID string) string {
	return s.prefix + ":jobs:post:" + postID
}
func (s *RedisStore) userKey(user string) string {
	return s.prefix + ":jobs:user:" + user
}

func (s *RedisStore) Create(ctx context.Context, job *models.DistributionJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	key := s.jobKey(job.ID)
	created := float64(job.CreatedAt.UnixMilli())

	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("job %s already exists", job.ID)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, s.allKey(), redis.Z{Score: created, Member: job.ID})
			pipe.ZAdd(ctx, s.postKey(job.PostID), redis.Z{Score: created, Member: job.ID})
			if job.RequestedBy != "" {
				pipe.ZAdd(ctx, s.userKey(job.RequestedBy), redis.Z{Score: created, Member: job.ID})
			}
			if job.Status == models.JobStatusPending || job.Status == models.JobStatusScheduled {
				pipe.ZAdd(ctx, s.dueKey(), redis.Z{Score: float64(dueAt(job).UnixMilli()), Member: job.ID})
			}
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.DistributionJob, error) {
	data, err := s.rdb.Get(ctx, s.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, distribution.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return decodeJob(data)
}

func (s *RedisStore) List(ctx context.Context, filter distribution.JobFilter) ([]*models.DistributionJob, error) {
	index := s.allKey()
	switch {
	case filter.PostID != "":
		index = s.postKey(filter.PostID)
	case filter.RequestedBy != "":
		index = s.userKey(filter.RequestedBy)
	}

	var jobs []*models.DistributionJob
	for start := int64(0); ; start += listBatchSize {
		ids, err := s.rdb.ZRevRange(ctx, index, start, start+listBatchSize-1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read job index: %w", err)
		}
		if len(ids) == 0 {
			return jobs, nil
		}

		batch, err := s.loadMany(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, job := range batch {
			if !filter.Matches(job) {
				continue
			}
			jobs = append(jobs, job)
			if filter.Limit > 0 && len(jobs) == filter.Limit {
				return jobs, nil
			}
		}
	}
}

func (s *RedisStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.DistributionJob, error) {
	rangeBy := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}
	if limit > 0 {
		rangeBy.Count = int64(limit)
	}

	ids, err := s.rdb.ZRangeByScore(ctx, s.dueKey(), rangeBy).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due index: %w", err)
	}

	batch, err := s.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	// The index may briefly lag a transition
	due := make([]*models.DistributionJob, 0, len(batch))
	for _, job := range batch {
		if isDue(job, now) {
			due = append(due, job)
		}
	}
	return due, nil
}

func (s *RedisStore) TransitionStatus(ctx context.Context, id string, from []models.JobStatus, to models.JobStatus) (bool, error) {
	var changed bool
	err := s.mutate(ctx, id, func(job *models.DistributionJob) (bool, error) {
		changed = distribution.StatusIn(job.Status, from)
		if !changed {
			return false, nil
		}
		job.Status = to
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (s *RedisStore) RecordResult(ctx context.Context, id, platform string, result models.PlatformResult) error {
	return s.mutate(ctx, id, func(job *models.DistributionJob) (bool, error) {
		if err := checkResult(job, platform); err != nil {
			return false, err
		}
		job.Results[platform] = result
		return true, nil
	})
}

func (s *RedisStore) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	counts := make(map[models.JobStatus]int)
	err := s.scanAll(ctx, func(batch []*models.DistributionJob) error {
		for _, job := range batch {
			counts[job.Status]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *RedisStore) DeleteFinishedBefore(ctx context.Context, before time.Time) (int, error) {
	var prunable []*models.DistributionJob
	err := s.scanAll(ctx, func(batch []*models.DistributionJob) error {
		for _, job := range batch {
			if isPrunable(job, before) {
				prunable = append(prunable, job)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(prunable) == 0 {
		return 0, nil
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, job := range prunable {
			pipe.Del(ctx, s.jobKey(job.ID))
			pipe.ZRem(ctx, s.allKey(), job.ID)
			pipe.ZRem(ctx, s.dueKey(), job.ID)
			pipe.ZRem(ctx, s.postKey(job.PostID), job.ID)
			if job.RequestedBy != "" {
				pipe.ZRem(ctx, s.userKey(job.RequestedBy), job.ID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete finished jobs: %w", err)
	}
	return len(prunable), nil
}

// scanAll walks every indexed job in batches, oldest first.
func (s *RedisStore) scanAll(ctx context.Context, fn func(batch []*models.DistributionJob) error) error {
	for start := int64(0); ; start += listBatchSize {
		ids, err := s.rdb.ZRange(ctx, s.allKey(), start, start+listBatchSize-1).Result()
		if err != nil {
			return fmt.Errorf("failed to read job index: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		batch, err := s.loadMany(ctx, ids)
		if err != nil {
			return err
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
}

// mutate applies fn under an optimistic WATCH/MULTI transaction, retrying on conflict.
// fn reports whether the job changed.
func (s *RedisStore) mutate(ctx context.Context, id string, fn func(job *models.DistributionJob) (bool, error)) error {
	key := s.jobKey(id)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return distribution.ErrNotFound
		}
		if err != nil {
			return err
		}

		job, err := decodeJob(data)
		if err != nil {
			return err
		}

		changed, err := fn(job)
		if err != nil || !changed {
			return err
		}
		job.UpdatedAt = s.now().UTC()

		updated, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			if job.Status != models.JobStatusPending && job.Status != models.JobStatusScheduled {
				pipe.ZRem(ctx, s.dueKey(), id)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, distribution.ErrNotFound) || errors.Is(err, distribution.ErrResultRejected) {
			return err
		}
		if err != nil {
			return fmt.Errorf("failed to update job: %w", err)
		}
		return nil
	}

	return fmt.Errorf("failed to update job %s: too much contention", id)
}

func (s *RedisStore) loadMany(ctx context.Context, ids []string) ([]*models.DistributionJob, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.jobKey(id)
	}

	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}

	jobs := make([]*models.DistributionJob, 0, len(values))
	for _, value := range values {
		str, ok := value.(string)
		if !ok {
			continue
		}
		job, err := decodeJob([]byte(str))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func decodeJob(data []byte) (*models.DistributionJob, error) {
	var job models.DistributionJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	if job.Results == nil {
		job.Results = map[string]models.PlatformResult{}
	}
	return &job, nil
}
