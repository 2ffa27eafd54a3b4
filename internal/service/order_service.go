package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/notify"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"
)

// Cancellation reasons, used as metric labels
const (
	CancelByBuyer   = "buyer"
	CancelByGateway = "payment_cancelled"
)

var cancelReasonText = map[string]string{
	CancelByBuyer:   "cancelled at your request",
	CancelByGateway: "the payment was cancelled",
}

// OrderService owns the order lifecycle. Every transition is a conditional
// update, so of two concurrent attempts only one applies its side effects.
type OrderService struct {
	repo    store.Repository
	watcher *StockWatcher
	logger  *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(repo store.Repository, watcher *StockWatcher) *OrderService {
	return &OrderService{repo: repo, watcher: watcher, logger: util.GetLogger()}
}

// GetOrder returns one of the user's orders
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.ownedOrder(ctx, s.repo, userID, orderID)
	if err != nil {
		return nil, err
	}
	return loadOrderView(ctx, s.repo, order)
}

// ListOrders returns the user's orders, newest first
func (s *OrderService) ListOrders(ctx context.Context, userID uuid.UUID) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	orders, err := s.repo.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to list orders: %w", err))
	}
	return orders, nil
}

// Cancel cancels one of the user's orders and returns its stock
func (s *OrderService) Cancel(ctx context.Context, userID, orderID uuid.UUID) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel")
	defer span.End()

	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		order, err := s.ownedOrder(ctx, tx, userID, orderID)
		if err != nil {
			return err
		}
		return s.cancel(ctx, tx, order, CancelByBuyer)
	})
	if err != nil {
		util.SpanError(span, err)
		return nil, storeError(err, "order %s", orderID)
	}
	return s.GetOrder(ctx, userID, orderID)
}

func (s *OrderService) ownedOrder(ctx context.Context, q store.Queries, userID, orderID uuid.UUID) (*models.Order, error) {
	order, err := q.GetOrder(ctx, orderID)
	if err != nil {
		return nil, storeError(err, "order %s", orderID)
	}
	if order.UserID != userID {
		return nil, apperr.NotFound("order %s not found", orderID)
	}
	return order, nil
}

// markPaid moves a PENDING order to PAID and records the verified payment
func (s *OrderService) markPaid(ctx context.Context, tx store.Tx, order *models.Order, refID string, raw []byte) error {
	now := time.Now().UTC()
	applied, err := tx.TransitionOrder(ctx, order.ID, models.OrderStatusPending, models.OrderStatusPaid, &now)
	if err != nil {
		return fmt.Errorf("failed to mark order paid: %w", err)
	}
	if !applied {
		return apperr.Conflict("order %s was already processed", order.ID)
	}

	paid, err := tx.GetOrder(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("failed to reload order: %w", err)
	}
	paidAt := now
	if paid.PaidAt != nil {
		paidAt = *paid.PaidAt
	}

	if err := tx.SetOrderRefID(ctx, order.ID, refID); err != nil {
		return fmt.Errorf("failed to store reference id: %w", err)
	}

	payment, err := s.upsertPayment(ctx, tx, paid)
	if err != nil {
		return err
	}
	payment.Status = models.PaymentStatusVerified
	payment.RefID = refID
	payment.PaidAt = &paidAt
	if err := tx.UpdatePayment(ctx, payment); err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}

	payload := types.JSONText(raw)
	if len(raw) == 0 {
		payload = types.JSONText("{}")
	}
	if _, err := tx.InsertTransaction(ctx, &models.Transaction{
		SoftDelete: models.NewSoftDelete(now),
		PaymentID:  payment.ID,
		RefID:      refID,
		RawPayload: payload,
		Status:     models.TransactionStatusVerified,
	}); err != nil {
		return fmt.Errorf("failed to log transaction: %w", err)
	}

	if err := enqueue(ctx, tx, models.JobTypeTransactionLog, models.TransactionLogJob{
		OrderID:   order.ID,
		PaymentID: payment.ID,
		RefID:     refID,
		Status:    models.TransactionStatusVerified,
		Payload:   payload,
	}); err != nil {
		return err
	}

	if err := s.notifyPaid(ctx, tx, paid, refID); err != nil {
		return err
	}

	tx.AfterCommit(func(context.Context) {
		util.OrdersPaidTotal.Inc()
		s.logger.Info("Order paid", zap.String("order_id", order.ID.String()), zap.String("ref_id", refID))
	})
	return nil
}

func (s *OrderService) notifyPaid(ctx context.Context, tx store.Tx, order *models.Order, refID string) error {
	buyer, err := tx.UserEmail(ctx, order.UserID)
	switch {
	case err == nil && buyer != "":
		msg := notify.OrderPaidBuyer(buyer, order.ID.String(), refID, order.TotalAmount)
		if err := enqueueNotification(ctx, tx, msg); err != nil {
			return err
		}
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("failed to look up buyer: %w", err)
	default:
		s.logger.Warn("Buyer has no email, skipping notification", zap.String("order_id", order.ID.String()))
	}

	sellers, err := tx.SellerEmailsForOrder(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("failed to look up sellers: %w", err)
	}
	for _, email := range sellers {
		if err := enqueueNotification(ctx, tx, notify.OrderPaidSeller(email, order.ID.String())); err != nil {
			return err
		}
	}
	return nil
}

// cancel moves the order to CANCELLED and returns every unit to stock once
func (s *OrderService) cancel(ctx context.Context, tx store.Tx, order *models.Order, reason string) error {
	if err := models.CheckTransition(order.Status, models.OrderStatusCancelled); err != nil {
		return apperr.Conflict("order %s cannot be cancelled from %s", order.ID, order.Status)
	}

	applied, err := tx.TransitionOrder(ctx, order.ID, order.Status, models.OrderStatusCancelled, nil)
	if err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}
	if !applied {
		return apperr.Conflict("order %s was already processed", order.ID)
	}

	units, err := s.restock(ctx, tx, order)
	if err != nil {
		return err
	}

	payment, err := tx.GetPaymentByOrder(ctx, order.ID)
	switch {
	case err == nil:
		if payment.Status != models.PaymentStatusVerified {
			payment.Status = models.PaymentStatusFailed
			if err := tx.UpdatePayment(ctx, payment); err != nil {
				return fmt.Errorf("failed to fail payment: %w", err)
			}
		}
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("failed to get payment: %w", err)
	}

	buyer, err := tx.UserEmail(ctx, order.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to look up buyer: %w", err)
	}
	if buyer != "" {
		msg := notify.OrderCancelled(buyer, order.ID.String(), cancelReasonText[reason])
		if err := enqueueNotification(ctx, tx, msg); err != nil {
			return err
		}
	}

	tx.AfterCommit(func(context.Context) {
		util.OrdersCancelledTotal.WithLabelValues(reason).Inc()
		util.RestockedUnitsTotal.Add(float64(units))
		s.logger.Info("Order cancelled",
			zap.String("order_id", order.ID.String()),
			zap.String("reason", reason),
			zap.Int("restocked_units", units))
	})
	return nil
}

func (s *OrderService) restock(ctx context.Context, tx store.Tx, order *models.Order) (int, error) {
	items, err := tx.ListOrderItems(ctx, order.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to list order items: %w", err)
	}

	ids := make([]uuid.UUID, len(items))
	byItem := make(map[uuid.UUID]models.OrderItem, len(items))
	for i, item := range items {
		ids[i] = item.StoreItemID
		byItem[item.StoreItemID] = item
	}
	locked, err := lockItems(ctx, tx, ids)
	if err != nil {
		return 0, err
	}

	units := 0
	for _, id := range ids {
		item := byItem[id]
		storeItem, ok := locked[id]
		if !ok {
			s.logger.Warn("Store item purged, skipping restock",
				zap.String("order_id", order.ID.String()),
				zap.String("sku", item.SKU))
			continue
		}

		change, err := tx.AdjustStock(ctx, id, item.Quantity)
		if err != nil {
			return 0, fmt.Errorf("failed to restock %s: %w", item.SKU, err)
		}
		s.watcher.Observe(tx, &storeItem, change)
		units += item.Quantity
	}
	return units, nil
}

func (s *OrderService) upsertPayment(ctx context.Context, tx store.Tx, order *models.Order) (*models.Payment, error) {
	payment, err := tx.GetPaymentByOrder(ctx, order.ID)
	if err == nil {
		return payment, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}

	payment = &models.Payment{
		SoftDelete: models.NewSoftDelete(time.Now().UTC()),
		OrderID:    order.ID,
		Amount:     order.TotalAmount,
		Provider:   order.PaymentGateway,
		Status:     models.PaymentStatusInitiated,
	}
	if order.PaymentAuthority != nil {
		payment.Authority = *order.PaymentAuthority
	}
	if err := tx.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	return payment, nil
}
