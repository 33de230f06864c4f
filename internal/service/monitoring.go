package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ifuryst/syndicate/internal/models"
	"github.com/ifuryst/syndicate/internal/service/distribution"
)

const (
	MetricPublishSuccess = "publish_success"
	MetricPublishFailure = "publish_failure"
	MetricJobCancelled   = "job_cancelled"
)

var _ distribution.JobObserver = (*MonitoringService)(nil)

type MonitoringService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewMonitoringService(db *gorm.DB, logger *zap.Logger) *MonitoringService {
	return &MonitoringService{
		db:     db,
		logger: logger,
	}
}

// RecordError 记录错误日志
func (m *MonitoringService) RecordError(ctx context.Context, level, source, title, message string, options ...ErrorLogOption) error {
	errorLog := &models.ErrorLog{
		Level:   level,
		Source:  source,
		Title:   title,
		Message: message,
	}

	for _, option := range options {
		option(errorLog)
	}

	return m.db.WithContext(ctx).Create(errorLog).Error
}

// ErrorLogOption 错误日志选项
type ErrorLogOption func(*models.ErrorLog)

func WithPlatform(platformName string) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.PlatformName = platformName
	}
}

func WithPost(postID string) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.PostID = postID
	}
}

func WithJob(jobID string) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.JobID = jobID
	}
}

func WithContext(values map[string]any) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.Context = datatypes.JSONMap(values)
	}
}

// RecordMetric 记录指标数据
func (m *MonitoringService) RecordMetric(ctx context.Context, name, metricType string, value float64, tags map[string]any) error {
	metric := &models.MetricsSample{
		MetricName: name,
		MetricType: metricType,
		Value:      value,
		Tags:       datatypes.JSONMap(tags),
		Timestamp:  time.Now(),
	}

	return m.db.WithContext(ctx).Create(metric).Error
}

// JobFinished records one counter per platform outcome and an error log per failure.
func (m *MonitoringService) JobFinished(ctx context.Context, job *models.DistributionJob) {
	if job.Status == models.JobStatusCancelled {
		if err := m.RecordMetric(ctx, MetricJobCancelled, "counter", 1, map[string]any{"post_id": job.PostID}); err != nil {
			m.logger.Error("Failed to record metric", zap.String("job_id", job.ID), zap.Error(err))
		}
		return
	}

	for _, platform := range job.Platforms {
		result, ok := job.Results[platform]
		if !ok {
			continue
		}

		name := MetricPublishSuccess
		if !result.Success {
			name = MetricPublishFailure
		}
		tags := map[string]any{
			"platform": platform,
			"status":   string(job.Status),
		}
		if err := m.RecordMetric(ctx, name, "counter", 1, tags); err != nil {
			m.logger.Error("Failed to record metric",
				zap.String("job_id", job.ID),
				zap.String("platform", platform),
				zap.Error(err))
		}

		if result.Success {
			continue
		}
		err := m.RecordError(ctx, "ERROR", "engine",
			fmt.Sprintf("Publishing to %s failed", platform),
			result.Error,
			WithPlatform(platform),
			WithPost(job.PostID),
			WithJob(job.ID),
			WithContext(map[string]any{
				"retry_of":     job.RetryOf,
				"requested_by": job.RequestedBy,
			}))
		if err != nil {
			m.logger.Error("Failed to record error log",
				zap.String("job_id", job.ID),
				zap.String("platform", platform),
				zap.Error(err))
		}
	}
}

// GetRecentErrors 获取最近的错误日志
func (m *MonitoringService) GetRecentErrors(ctx context.Context, limit int) ([]models.ErrorLog, error) {
	if limit <= 0 {
		limit = 50
	}

	var errorLogs []models.ErrorLog
	err := m.db.WithContext(ctx).
		Order("created_at desc").
		Limit(limit).
		Find(&errorLogs).Error
	return errorLogs, err
}

// CountMetric sums a counter since the given time.
func (m *MonitoringService) CountMetric(ctx context.Context, name string, since time.Time) (float64, error) {
	var total float64
	err := m.db.WithContext(ctx).Model(&models.MetricsSample{}).
		Where("metric_name = ? AND timestamp >= ?", name, since).
		Select("COALESCE(SUM(value), 0)").
		Scan(&total).Error
	return total, err
}

// CleanupOldData 清理旧数据
func (m *MonitoringService) CleanupOldData(ctx context.Context, daysToKeep int) error {
	cutoffDate := time.Now().AddDate(0, 0, -daysToKeep)
	db := m.db.WithContext(ctx)

	if err := db.Where("timestamp < ?", cutoffDate).Delete(&models.MetricsSample{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup metrics samples: %w", err)
	}

	if err := db.Where("created_at < ?", cutoffDate).Delete(&models.ErrorLog{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup error logs: %w", err)
	}

	return nil
}
