package events

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/syndicate/internal/models"
	"github.com/ifuryst/syndicate/internal/service/distribution"
)

const publishTimeout = 5 * time.Second

var _ distribution.JobObserver = (*Notifier)(nil)

// JobEvent is the payload published when a job finishes
type JobEvent struct {
	Type       string                           `json:"type"`
	JobID      string                           `json:"job_id"`
	PostID     string                           `json:"post_id"`
	Status     models.JobStatus                 `json:"status"`
	RetryOf    string                           `json:"retry_of,omitempty"`
	Platforms  []string                         `json:"platforms"`
	Results    map[string]models.PlatformResult `json:"results"`
	OccurredAt time.Time                        `json:"occurred_at"`
}

// Notifier publishes a JobEvent for every finished or cancelled job
type Notifier struct {
	publisher Publisher
	logger    *zap.Logger
}

func NewNotifier(publisher Publisher, logger *zap.Logger) *Notifier {
	return &Notifier{publisher: publisher, logger: logger}
}

func EventType(status models.JobStatus) string {
	return "distribution.job." + string(status)
}

func NewJobEvent(job *models.DistributionJob) JobEvent {
	return JobEvent{
		Type:       EventType(job.Status),
		JobID:      job.ID,
		PostID:     job.PostID,
		Status:     job.Status,
		RetryOf:    job.RetryOf,
		Platforms:  job.Platforms,
		Results:    job.Results,
		OccurredAt: job.UpdatedAt,
	}
}

func (n *Notifier) JobFinished(ctx context.Context, job *models.DistributionJob) {
	payload, err := json.Marshal(NewJobEvent(job))
	if err != nil {
		n.logger.Error("Failed to encode job event", zap.String("job_id", job.ID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := n.publisher.Publish(ctx, job.ID, payload); err != nil {
		n.logger.Warn("Failed to publish job event",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
			zap.Error(err))
	}
}
