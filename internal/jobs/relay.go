package jobs

import (
	"context"
	"fmt"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Relay moves committed outbox jobs to a Publisher
type Relay struct {
	repo      store.Repository
	publisher Publisher
	batchSize int
	kick      chan struct{}
	logger    *zap.Logger
}

// NewRelay creates a relay and subscribes it to job commits
func NewRelay(repo store.Repository, publisher Publisher, batchSize int) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	r := &Relay{
		repo:      repo,
		publisher: publisher,
		batchSize: batchSize,
		kick:      make(chan struct{}, 1),
		logger:    util.Component("relay"),
	}
	repo.OnJobsCommitted(r.Kick)
	return r
}

// Kick asks the relay loop to flush soon. It never blocks.
func (r *Relay) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Kicks delivers a value after each Kick, coalesced
func (r *Relay) Kicks() <-chan struct{} {
	return r.kick
}

// Flush publishes pending jobs until the outbox is drained or a publish
// fails. Jobs that could not be published stay pending for the next flush.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		n, more, err := r.flushBatch(ctx)
		total += n
		if err != nil || !more {
			return total, err
		}
	}
}

// flushBatch claims one batch under row locks, publishes it and marks what
// was published. Publishers must only enqueue; they run inside the claim
// transaction and must not call back into the repository.
func (r *Relay) flushBatch(ctx context.Context) (int, bool, error) {
	var published int
	var full bool
	var publishErr error

	err := r.repo.InTx(ctx, func(tx store.Tx) error {
		pending, err := tx.ClaimPendingJobs(ctx, r.batchSize)
		if err != nil {
			return fmt.Errorf("claim outbox jobs: %w", err)
		}
		full = len(pending) == r.batchSize

		ids := make([]uuid.UUID, 0, len(pending))
		for _, job := range pending {
			if publishErr = r.publish(ctx, job); publishErr != nil {
				full = false
				break
			}
			ids = append(ids, job.ID)
		}

		if err := tx.MarkJobsDispatched(ctx, ids); err != nil {
			return fmt.Errorf("mark outbox jobs dispatched: %w", err)
		}
		published = len(ids)
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return published, full, publishErr
}

func (r *Relay) publish(ctx context.Context, job models.OutboxJob) error {
	if err := r.publisher.Publish(ctx, job); err != nil {
		util.OutboxRelayedTotal.WithLabelValues("error").Inc()
		r.logger.Warn("Failed to publish outbox job",
			zap.String("job_id", job.ID.String()),
			zap.String("type", job.Type),
			zap.Error(err))
		return err
	}
	util.OutboxRelayedTotal.WithLabelValues("ok").Inc()
	return nil
}
