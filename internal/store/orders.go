package store

import (
	"context"
	"fmt"
	"time"

	"checkout-service/internal/models"

	"github.com/google/uuid"
)

const orderColumns = `id, user_id, status, total_amount, payment_gateway, payment_authority,
	payment_ref_id, paid_at, idempotency_key, created_at, updated_at, deleted_at`

// CreateOrder creates a new order
func (t *pgTx) CreateOrder(ctx context.Context, order *models.Order) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, status, total_amount, payment_gateway, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		order.ID, order.UserID, order.Status, order.TotalAmount, order.PaymentGateway,
		order.IdempotencyKey, order.CreatedAt, order.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("duplicate idempotency key: %w", ErrConflict)
	}
	return err
}

// CreateOrderItem creates a new order item
func (t *pgTx) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO order_items (id, order_id, store_item_id, sku, unit_price, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		item.ID, item.OrderID, item.StoreItemID, item.SKU, item.UnitPrice, item.Quantity,
		item.CreatedAt, item.UpdatedAt)
	return err
}

// GetOrder retrieves a live order by ID
func (q queries) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := q.get(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 AND deleted_at IS NULL", id)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByAuthority retrieves the order a gateway authority was issued for
func (q queries) GetOrderByAuthority(ctx context.Context, authority string) (*models.Order, error) {
	var order models.Order
	err := q.get(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE payment_authority = $1 AND deleted_at IS NULL", authority)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (q queries) GetOrderByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*models.Order, error) {
	var order models.Order
	err := q.get(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 AND idempotency_key = $2", userID, key)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrdersByUser retrieves orders for a user, newest first
func (q queries) ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]models.Order, error) {
	orders := []models.Order{}
	err := q.list(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC",
		userID)
	return orders, err
}

// ListOrderItems retrieves all items for an order
func (q queries) ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := q.list(ctx, &items, `
		SELECT id, order_id, store_item_id, sku, unit_price, quantity, created_at, updated_at, deleted_at
		FROM order_items WHERE order_id = $1 AND deleted_at IS NULL ORDER BY store_item_id`, orderID)
	return items, err
}

// TransitionOrder is a compare-and-set on the order status
func (t *pgTx) TransitionOrder(ctx context.Context, id uuid.UUID, from, to models.OrderStatus, paidAt *time.Time) (bool, error) {
	res, err := t.q.ExecContext(ctx, `
		UPDATE orders SET status = $3, paid_at = COALESCE(paid_at, $4), updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, from, to, paidAt)
	if err != nil {
		return false, fmt.Errorf("failed to transition order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetOrderAuthority records the gateway authority of the current attempt
func (t *pgTx) SetOrderAuthority(ctx context.Context, id uuid.UUID, authority string) error {
	_, err := t.q.ExecContext(ctx,
		"UPDATE orders SET payment_authority = $2, updated_at = NOW() WHERE id = $1", id, authority)
	if isUniqueViolation(err) {
		return fmt.Errorf("authority already assigned: %w", ErrConflict)
	}
	return err
}

// SetOrderRefID records the gateway reference of a verified payment
func (t *pgTx) SetOrderRefID(ctx context.Context, id uuid.UUID, refID string) error {
	_, err := t.q.ExecContext(ctx,
		"UPDATE orders SET payment_ref_id = $2, updated_at = NOW() WHERE id = $1", id, refID)
	return err
}
