package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// JobPruner deletes finished distribution jobs
type JobPruner interface {
	PruneFinished(ctx context.Context, olderThan time.Duration) (int, error)
}

// RetentionSweeper periodically deletes monitoring rows and finished jobs older than their retention window
type RetentionSweeper struct {
	monitoringService *MonitoringService
	retentionDays     int
	jobs              JobPruner
	jobRetentionDays  int
	logger            *zap.Logger
	ticker            *time.Ticker
	done              chan bool
}

type RetentionOption func(*RetentionSweeper)

func WithMonitoringRetention(monitoringService *MonitoringService, retentionDays int) RetentionOption {
	return func(s *RetentionSweeper) {
		s.monitoringService = monitoringService
		s.retentionDays = retentionDays
	}
}

func WithJobRetention(jobs JobPruner, retentionDays int) RetentionOption {
	return func(s *RetentionSweeper) {
		s.jobs = jobs
		s.jobRetentionDays = retentionDays
	}
}

func NewRetentionSweeper(logger *zap.Logger, interval time.Duration, opts ...RetentionOption) *RetentionSweeper {
	s := &RetentionSweeper{
		logger: logger,
		ticker: time.NewTicker(interval),
		done:   make(chan bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the periodic sweep
func (s *RetentionSweeper) Start(ctx context.Context) {
	go func() {
		s.logger.Info("Starting retention sweeper",
			zap.Bool("monitoring", s.monitoringService != nil),
			zap.Int("retention_days", s.retentionDays),
			zap.Bool("jobs", s.jobs != nil),
			zap.Int("job_retention_days", s.jobRetentionDays))
		for {
			select {
			case <-s.done:
				s.logger.Info("Retention sweeper stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Retention sweeper stopped due to context cancellation")
				return
			case <-s.ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

func (s *RetentionSweeper) Stop() {
	s.ticker.Stop()
	close(s.done)
}

func (s *RetentionSweeper) sweep(ctx context.Context) {
	if s.monitoringService != nil {
		s.logger.Debug("Cleaning up old monitoring data")
		if err := s.monitoringService.CleanupOldData(ctx, s.retentionDays); err != nil {
			s.logger.Error("Failed to cleanup old data", zap.Error(err))
		} else {
			s.logger.Debug("Old monitoring data cleaned up")
		}
	}

	if s.jobs != nil {
		olderThan := time.Duration(s.jobRetentionDays) * 24 * time.Hour
		if _, err := s.jobs.PruneFinished(ctx, olderThan); err != nil {
			s.logger.Error("Failed to prune finished jobs", zap.Error(err))
		}
	}
}
