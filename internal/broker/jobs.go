package broker

import (
	"context"
	"fmt"

	"checkout-service/internal/jobs"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const headerJobType = "job-type"

// JobPublisher sends outbox jobs to the jobs topic
type JobPublisher struct {
	producer *Producer
}

var _ jobs.Publisher = (*JobPublisher)(nil)

// NewJobPublisher creates a new job publisher
func NewJobPublisher(producer *Producer) *JobPublisher {
	return &JobPublisher{producer: producer}
}

// Publish writes the job envelope keyed by job id
func (jp *JobPublisher) Publish(ctx context.Context, job models.OutboxJob) error {
	value, err := jobs.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return jp.producer.Publish(ctx, job.ID.String(), value,
		kafka.Header{Key: headerJobType, Value: []byte(job.Type)})
}

// JobHandler decodes jobs from Kafka messages and hands them to a runner
type JobHandler struct {
	runner *jobs.Runner
	logger *zap.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(runner *jobs.Runner) *JobHandler {
	return &JobHandler{runner: runner, logger: util.Component("job-handler")}
}

// HandleMessage runs the job carried by msg. Undecodable messages are
// reported and skipped.
func (h *JobHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	job, err := jobs.Unmarshal(msg.Value)
	if err != nil {
		util.JobsProcessedTotal.WithLabelValues(jobType(msg), "undecodable").Inc()
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}

	h.logger.Debug("Handling job", zap.String("type", job.Type), zap.String("job_id", job.ID.String()))
	return h.runner.Run(ctx, job)
}

func jobType(msg kafka.Message) string {
	for _, header := range msg.Headers {
		if header.Key == headerJobType {
			return string(header.Value)
		}
	}
	return "unknown"
}
