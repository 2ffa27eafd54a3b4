package store

import (
	"context"
	"fmt"

	"checkout-service/internal/models"

	"github.com/google/uuid"
)

const paymentColumns = `id, order_id, amount, provider, authority, ref_id, status, paid_at,
	created_at, updated_at, deleted_at`

// GetPaymentByOrder retrieves the payment of an order
func (q queries) GetPaymentByOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := q.get(ctx, &payment,
		"SELECT "+paymentColumns+" FROM payments WHERE order_id = $1 AND deleted_at IS NULL", orderID)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// ListTransactions returns the verify log of a payment
func (q queries) ListTransactions(ctx context.Context, paymentID uuid.UUID) ([]models.Transaction, error) {
	txns := []models.Transaction{}
	err := q.list(ctx, &txns, `
		SELECT id, payment_id, ref_id, raw_payload, status, created_at, updated_at, deleted_at
		FROM transactions WHERE payment_id = $1 AND deleted_at IS NULL ORDER BY created_at`, paymentID)
	return txns, err
}

// CreatePayment creates a new payment record
func (t *pgTx) CreatePayment(ctx context.Context, payment *models.Payment) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO payments (id, order_id, amount, provider, authority, ref_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		payment.ID, payment.OrderID, payment.Amount, payment.Provider, payment.Authority,
		payment.RefID, payment.Status, payment.CreatedAt, payment.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("order already has a payment: %w", ErrConflict)
	}
	return err
}

// UpdatePayment persists the mutable payment fields
func (t *pgTx) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE payments SET amount = $2, authority = $3, ref_id = $4, status = $5, paid_at = $6, updated_at = NOW()
		WHERE id = $1`,
		payment.ID, payment.Amount, payment.Authority, payment.RefID, payment.Status, payment.PaidAt)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertTransaction appends to the verify log once per (payment, ref id)
func (t *pgTx) InsertTransaction(ctx context.Context, txn *models.Transaction) (bool, error) {
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO transactions (id, payment_id, ref_id, raw_payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (payment_id, ref_id) DO NOTHING`,
		txn.ID, txn.PaymentID, txn.RefID, txn.RawPayload, txn.Status, txn.CreatedAt, txn.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
