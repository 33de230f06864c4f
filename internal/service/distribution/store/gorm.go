package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ifuryst/syndicate/internal/models"
	"github.com/ifuryst/syndicate/internal/service/distribution"
)

var _ distribution.Store = (*GormStore)(nil)

// GormStore keeps jobs in distribution_jobs and their results in
// append-only distribution_results rows.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

func (s *GormStore) Create(ctx context.Context, job *models.DistributionJob) error {
	record := toRecord(job)
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(record).Error; err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*models.DistributionJob, error) {
	var record models.DistributionJobRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Preload("Results").First(&record, "id = ?", id).Error
	}, s.readOnly())
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, distribution.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return fromRecord(&record), nil
}

func (s *GormStore) List(ctx context.Context, filter distribution.JobFilter) ([]*models.DistributionJob, error) {
	var records []models.DistributionJobRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Model(&models.DistributionJobRecord{})
		if filter.PostID != "" {
			query = query.Where("post_id = ?", filter.PostID)
		}
		if filter.RequestedBy != "" {
			query = query.Where("requested_by = ?", filter.RequestedBy)
		}
		if filter.Status != "" {
			query = query.Where("status = ?", string(filter.Status))
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
		return query.Order("created_at DESC, id DESC").Preload("Results").Find(&records).Error
	}, s.readOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return fromRecords(records), nil
}

func (s *GormStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.DistributionJob, error) {
	var records []models.DistributionJobRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Model(&models.DistributionJobRecord{}).
			Where("status = ? OR (status = ? AND (scheduled_for IS NULL OR scheduled_for <= ?))",
				string(models.JobStatusPending), string(models.JobStatusScheduled), now.UTC()).
			Order("COALESCE(scheduled_for, created_at) ASC")
		if limit > 0 {
			query = query.Limit(limit)
		}
		return query.Preload("Results").Find(&records).Error
	}, s.readOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to list due jobs: %w", err)
	}
	return fromRecords(records), nil
}

func (s *GormStore) TransitionStatus(ctx context.Context, id string, from []models.JobStatus, to models.JobStatus) (bool, error) {
	statuses := make([]string, 0, len(from))
	for _, status := range from {
		statuses = append(statuses, string(status))
	}

	var changed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.DistributionJobRecord{}).
			Where("id = ? AND status IN ?", id, statuses).
			Updates(map[string]any{
				"status":     string(to),
				"updated_at": s.now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			changed = true
			return nil
		}

		var count int64
		if err := tx.Model(&models.DistributionJobRecord{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return distribution.ErrNotFound
		}
		return nil
	})
	if errors.Is(err, distribution.ErrNotFound) {
		return false, err
	}
	if err != nil {
		return false, fmt.Errorf("failed to update job status: %w", err)
	}
	return changed, nil
}

func (s *GormStore) RecordResult(ctx context.Context, id, platform string, result models.PlatformResult) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.DistributionJobRecord
		query := tx
		if s.db.Dialector.Name() != "sqlite" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := query.Preload("Results").First(&record, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return distribution.ErrNotFound
			}
			return err
		}

		if err := checkResult(fromRecord(&record), platform); err != nil {
			return err
		}

		row := models.DistributionResultRecord{
			JobID:        id,
			Platform:     platform,
			Success:      result.Success,
			Error:        result.Error,
			PublishedURL: result.PublishedURL,
			PublishID:    result.PublishID,
			CompletedAt:  result.CompletedAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %s already has a result for job %s", distribution.ErrResultRejected, platform, id)
			}
			return err
		}

		return tx.Model(&models.DistributionJobRecord{}).
			Where("id = ?", id).
			Update("updated_at", s.now().UTC()).Error
	})
	if errors.Is(err, distribution.ErrNotFound) || errors.Is(err, distribution.ErrResultRejected) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to record result: %w", err)
	}
	return nil
}

func (s *GormStore) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	var rows []struct {
		Status string
		Count  int
	}
	err := s.db.WithContext(ctx).Model(&models.DistributionJobRecord{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	counts := make(map[models.JobStatus]int, len(rows))
	for _, row := range rows {
		counts[models.JobStatus(row.Status)] = row.Count
	}
	return counts, nil
}

func (s *GormStore) DeleteFinishedBefore(ctx context.Context, before time.Time) (int, error) {
	statuses := make([]string, 0, len(models.FinishedStatuses))
	for _, status := range models.FinishedStatuses {
		statuses = append(statuses, string(status))
	}

	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&models.DistributionJobRecord{}).
			Where("status IN ? AND updated_at < ?", statuses, before.UTC()).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Where("job_id IN ?", ids).Delete(&models.DistributionResultRecord{}).Error; err != nil {
			return err
		}
		result := tx.Where("id IN ?", ids).Delete(&models.DistributionJobRecord{})
		deleted = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete finished jobs: %w", err)
	}
	return int(deleted), nil
}

// readOnly returns read-only transaction options where the dialect supports them.
func (s *GormStore) readOnly() *sql.TxOptions {
	if s.db.Dialector.Name() == "sqlite" {
		return nil
	}
	return &sql.TxOptions{ReadOnly: true}
}

func toRecord(job *models.DistributionJob) *models.DistributionJobRecord {
	return &models.DistributionJobRecord{
		ID:           job.ID,
		PostID:       job.PostID,
		Platforms:    append([]string(nil), job.Platforms...),
		Status:       string(job.Status),
		ScheduledFor: job.ScheduledFor,
		RetryOf:      job.RetryOf,
		RequestedBy:  job.RequestedBy,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
}

func fromRecord(record *models.DistributionJobRecord) *models.DistributionJob {
	job := &models.DistributionJob{
		ID:           record.ID,
		PostID:       record.PostID,
		Platforms:    append([]string(nil), record.Platforms...),
		Status:       models.JobStatus(record.Status),
		Results:      make(map[string]models.PlatformResult, len(record.Results)),
		ScheduledFor: record.ScheduledFor,
		RetryOf:      record.RetryOf,
		RequestedBy:  record.RequestedBy,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}
	for _, r := range record.Results {
		job.Results[r.Platform] = models.PlatformResult{
			Success:      r.Success,
			Error:        r.Error,
			PublishedURL: r.PublishedURL,
			PublishID:    r.PublishID,
			CompletedAt:  r.CompletedAt,
		}
	}
	return job
}

func fromRecords(records []models.DistributionJobRecord) []*models.DistributionJob {
	jobs := make([]*models.DistributionJob, 0, len(records))
	for i := range records {
		jobs = append(jobs, fromRecord(&records[i]))
	}
	return jobs
}
