package store

import (
	"context"
	"fmt"

	"checkout-service/internal/models"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// EnqueueJob writes a side-effect job in the current transaction
func (t *pgTx) EnqueueJob(ctx context.Context, job models.OutboxJob) error {
	_, err := t.q.ExecContext(ctx,
		"INSERT INTO outbox_jobs (id, job_type, payload, created_at) VALUES ($1, $2, $3, $4)",
		job.ID, job.Type, job.Payload, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s job: %w", job.Type, err)
	}
	t.JobEnqueued()
	return nil
}

// ClaimPendingJobs locks undispatched jobs, skipping rows held by another relay
func (t *pgTx) ClaimPendingJobs(ctx context.Context, limit int) ([]models.OutboxJob, error) {
	query, args, err := builder.From("outbox_jobs").Prepared(true).
		Select("id", "job_type", "payload", "created_at", "dispatched_at").
		Where(goqu.Ex{"dispatched_at": nil}).
		Order(goqu.C("created_at").Asc()).
		Limit(uint(limit)).
		ForUpdate(exp.SkipLocked).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build outbox claim: %w", err)
	}

	jobs := []models.OutboxJob{}
	if err := t.list(ctx, &jobs, query, args...); err != nil {
		return nil, err
	}
	return jobs, nil
}

// MarkJobsDispatched stamps jobs handed to the publisher
func (t *pgTx) MarkJobsDispatched(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	query, args, err := sqlx.In("UPDATE outbox_jobs SET dispatched_at = NOW() WHERE id IN (?)", keys)
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(ctx, sqlx.Rebind(sqlx.DOLLAR, query), args...)
	return err
}
