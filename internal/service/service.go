package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/gateway"
	"checkout-service/internal/jobs"
	"checkout-service/internal/models"
	"checkout-service/internal/notify"
	"checkout-service/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Locker serializes a critical section across service instances.
// *redisclient.Client implements it.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// IdempotencyCache remembers the result of a keyed request.
// *redisclient.Client implements it.
type IdempotencyCache interface {
	GetIdempotencyKey(ctx context.Context, key string) (string, bool, error)
	SetIdempotencyKey(ctx context.Context, key, value string, ttl time.Duration) error
}

// PaymentGateway is the external payment provider. *gateway.Client implements it.
type PaymentGateway interface {
	RequestPayment(ctx context.Context, in gateway.RequestInput) (*gateway.RequestResult, error)
	Verify(ctx context.Context, in gateway.VerifyInput) (*gateway.VerifyResult, error)
	StartPayURL(authority string) string
}

// OrderLine is an order item with its snapshot subtotal
type OrderLine struct {
	models.OrderItem
	Subtotal decimal.Decimal `json:"subtotal"`
}

// OrderView is an order with everything needed to render it
type OrderView struct {
	Order   models.Order    `json:"order"`
	Items   []OrderLine     `json:"items"`
	Total   decimal.Decimal `json:"total"`
	Payment *models.Payment `json:"payment,omitempty"`
}

func loadOrderView(ctx context.Context, q store.Queries, order *models.Order) (*OrderView, error) {
	items, err := q.ListOrderItems(ctx, order.ID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to list order items: %w", err))
	}

	view := &OrderView{Order: *order, Items: make([]OrderLine, 0, len(items)), Total: decimal.Zero}
	for _, item := range items {
		subtotal := item.Subtotal()
		view.Items = append(view.Items, OrderLine{OrderItem: item, Subtotal: subtotal})
		view.Total = view.Total.Add(subtotal)
	}

	payment, err := q.GetPaymentByOrder(ctx, order.ID)
	switch {
	case err == nil:
		view.Payment = payment
	case !errors.Is(err, store.ErrNotFound):
		return nil, apperr.Internal(fmt.Errorf("failed to get payment: %w", err))
	}
	return view, nil
}

// storeError maps repository sentinels onto the application taxonomy
func storeError(err error, format string, args ...any) error {
	var appErr *apperr.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound(format+" not found", args...)
	case errors.Is(err, store.ErrConflict):
		return apperr.Conflict(format+" conflicts with existing data", args...)
	default:
		return apperr.Internal(err)
	}
}

func enqueue(ctx context.Context, tx store.Tx, jobType string, payload interface{}) error {
	job, err := jobs.New(jobType, payload)
	if err != nil {
		return err
	}
	if err := tx.EnqueueJob(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue %s job: %w", jobType, err)
	}
	return nil
}

func enqueueNotification(ctx context.Context, tx store.Tx, msg notify.Message) error {
	return enqueue(ctx, tx, models.JobTypeNotification, models.NotificationJob(msg))
}

// lockItems row-locks ids in ascending order and indexes them by id
func lockItems(ctx context.Context, tx store.Tx, ids []uuid.UUID) (map[uuid.UUID]models.StoreItem, error) {
	sortIDs(ids)
	locked, err := tx.LockStoreItems(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to lock store items: %w", err)
	}
	byID := make(map[uuid.UUID]models.StoreItem, len(locked))
	for _, item := range locked {
		byID[item.ID] = item
	}
	return byID, nil
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })
}

func lessID(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

func isGatewayTimeout(err error) bool {
	var gwErr *gateway.Error
	return errors.As(err, &gwErr) && gwErr.Timeout
}
