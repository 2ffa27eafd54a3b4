package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/jobs"
	"checkout-service/internal/models"
	"checkout-service/internal/notify"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// JobHandlers executes the background jobs written by the services
type JobHandlers struct {
	repo   store.Repository
	sender notify.Sender
	logger *zap.Logger
}

// NewJobHandlers creates the job handlers
func NewJobHandlers(repo store.Repository, sender notify.Sender) *JobHandlers {
	return &JobHandlers{repo: repo, sender: sender, logger: util.Component("jobs")}
}

// Register installs every handler on runner
func (h *JobHandlers) Register(runner *jobs.Runner) {
	runner.Handle(models.JobTypeNotification, h.SendNotification)
	runner.Handle(models.JobTypeTransactionLog, h.LogTransaction)
	runner.Handle(models.JobTypeLowStock, h.AlertLowStock)
}

// SendNotification delivers one message
func (h *JobHandlers) SendNotification(ctx context.Context, job models.OutboxJob) error {
	var payload models.NotificationJob
	if err := jobs.Decode(job, &payload); err != nil {
		return err
	}
	return h.send(ctx, notify.Message(payload))
}

// LogTransaction makes sure the verified payment has its transaction row
// and writes the gateway payload to the audit log.
func (h *JobHandlers) LogTransaction(ctx context.Context, job models.OutboxJob) error {
	var payload models.TransactionLogJob
	if err := jobs.Decode(job, &payload); err != nil {
		return err
	}

	var created bool
	err := h.repo.InTx(ctx, func(tx store.Tx) error {
		var err error
		created, err = tx.InsertTransaction(ctx, &models.Transaction{
			SoftDelete: models.NewSoftDelete(time.Now().UTC()),
			PaymentID:  payload.PaymentID,
			RefID:      payload.RefID,
			RawPayload: payload.Payload,
			Status:     payload.Status,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to log transaction: %w", err)
	}

	h.logger.Info("Payment transaction",
		zap.String("order_id", payload.OrderID.String()),
		zap.String("payment_id", payload.PaymentID.String()),
		zap.String("ref_id", payload.RefID),
		zap.String("status", payload.Status),
		zap.Bool("backfilled", created),
		zap.ByteString("payload", payload.Payload))
	return nil
}

// AlertLowStock tells the owning store's seller that a SKU is running out
func (h *JobHandlers) AlertLowStock(ctx context.Context, job models.OutboxJob) error {
	var payload models.LowStockJob
	if err := jobs.Decode(job, &payload); err != nil {
		return err
	}

	item, err := h.repo.GetStoreItemAny(ctx, payload.StoreItemID)
	if errors.Is(err, store.ErrNotFound) {
		return jobs.Permanent(fmt.Errorf("store item %s not found", payload.StoreItemID))
	}
	if err != nil {
		return err
	}

	email, err := h.repo.StoreOwnerEmail(ctx, item.StoreID)
	if errors.Is(err, store.ErrNotFound) {
		return jobs.Permanent(fmt.Errorf("no owner for store %s", item.StoreID))
	}
	if err != nil {
		return err
	}

	return h.send(ctx, notify.LowStock(email, payload.SKU, payload.Stock, payload.Threshold))
}

func (h *JobHandlers) send(ctx context.Context, msg notify.Message) error {
	err := h.sender.Send(ctx, msg)
	if errors.Is(err, notify.ErrNoRecipient) {
		return jobs.Permanent(err)
	}
	return err
}
