package distribution

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/syndicate/internal/config"
)

// DueDispatcher is the part of the engine the scheduler drives.
type DueDispatcher interface {
	DispatchDue(ctx context.Context, now time.Time) (int, error)
}

// Scheduler starts scheduled jobs once their time has come.
type Scheduler struct {
	config     config.DispatchConfig
	logger     *zap.Logger
	dispatcher DueDispatcher
	now        func() time.Time
	ticker     *time.Ticker
	stopCh     chan struct{}
	stopOnce   sync.Once
	mu         sync.Mutex
	started    bool
	done       chan struct{}
}

func NewScheduler(cfg config.DispatchConfig, dispatcher DueDispatcher, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		config:     cfg,
		logger:     logger,
		dispatcher: dispatcher,
		now:        time.Now,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the sweep loop in the background. It may only be called once.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	if s.config.SchedulerEnabled != nil && !*s.config.SchedulerEnabled {
		s.logger.Info("Scheduler is disabled")
		close(s.done)
		return nil
	}

	interval, err := time.ParseDuration(s.config.SchedulerInterval)
	if err != nil || interval <= 0 {
		s.logger.Error("Invalid scheduler interval", zap.String("interval", s.config.SchedulerInterval), zap.Error(err))
		close(s.done)
		if err == nil {
			err = errInvalidInterval
		}
		return err
	}

	s.logger.Info("Starting scheduler", zap.String("interval", s.config.SchedulerInterval))

	s.ticker = time.NewTicker(interval)

	go func() {
		defer close(s.done)

		// Pick up anything that became due while the process was down
		s.runDue(ctx, "initial")

		for {
			select {
			case <-s.ticker.C:
				s.runDue(ctx, "scheduled")
			case <-s.stopCh:
				s.logger.Info("Scheduler stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Scheduler context cancelled")
				return
			}
		}
	}()

	return nil
}

// Stop ends the loop and waits for the current sweep to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	s.stopOnce.Do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
	})
	<-s.done
	s.logger.Info("Scheduler shutdown completed")
}

func (s *Scheduler) runDue(ctx context.Context, trigger string) {
	start := time.Now()
	started, err := s.dispatcher.DispatchDue(ctx, s.now())
	if err != nil {
		s.logger.Error("Due job sweep failed",
			zap.String("trigger", trigger),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)))
		return
	}

	if started > 0 {
		s.logger.Info("Started due jobs",
			zap.String("trigger", trigger),
			zap.Int("started", started),
			zap.Duration("duration", time.Since(start)))
	}
}
