package store

import (
	"context"
	"errors"
	"fmt"

	"checkout-service/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// GetCartByUser retrieves a user's cart
func (q queries) GetCartByUser(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := q.get(ctx, &cart,
		"SELECT id, user_id, created_at, updated_at, deleted_at FROM carts WHERE user_id = $1 AND deleted_at IS NULL",
		userID)
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// ListCartLines joins live cart items with their store item's live price
func (q queries) ListCartLines(ctx context.Context, cartID uuid.UUID) ([]models.CartLine, error) {
	lines := []models.CartLine{}
	err := q.list(ctx, &lines, `
		SELECT ci.id AS item_id, si.id AS store_item_id, si.sku, ci.quantity, si.price
		FROM cart_items ci
		JOIN store_items si ON si.id = ci.store_item_id
		WHERE ci.cart_id = $1 AND ci.deleted_at IS NULL
		ORDER BY si.id`, cartID)
	return lines, err
}

// GetOrCreateCart returns the user's cart, creating it on first use
func (t *pgTx) GetOrCreateCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	_, err := t.q.ExecContext(ctx,
		"INSERT INTO carts (id, user_id) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING",
		uuid.New(), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}
	return t.GetCartByUser(ctx, userID)
}

// UpsertCartItem increments an existing line or inserts a new one
func (t *pgTx) UpsertCartItem(ctx context.Context, cartID, storeItemID uuid.UUID, qty int) (*models.CartItem, error) {
	var item models.CartItem
	err := t.get(ctx, &item, `
		INSERT INTO cart_items (id, cart_id, store_item_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cart_id, store_item_id) DO UPDATE SET
			quantity = CASE WHEN cart_items.deleted_at IS NULL
				THEN cart_items.quantity + EXCLUDED.quantity
				ELSE EXCLUDED.quantity END,
			deleted_at = NULL,
			updated_at = NOW()
		RETURNING id, cart_id, store_item_id, quantity, created_at, updated_at, deleted_at`,
		uuid.New(), cartID, storeItemID, qty)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert cart item: %w", err)
	}
	return &item, nil
}

// SetCartItemQuantity overwrites the quantity of one line
func (t *pgTx) SetCartItemQuantity(ctx context.Context, cartID, itemID uuid.UUID, qty int) error {
	res, err := t.q.ExecContext(ctx,
		"UPDATE cart_items SET quantity = $3, updated_at = NOW() WHERE id = $1 AND cart_id = $2 AND deleted_at IS NULL",
		itemID, cartID, qty)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCartItem removes one line from the cart
func (t *pgTx) DeleteCartItem(ctx context.Context, cartID, itemID uuid.UUID) error {
	res, err := t.q.ExecContext(ctx,
		"DELETE FROM cart_items WHERE id = $1 AND cart_id = $2", itemID, cartID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearCart deletes every line of the cart
func (t *pgTx) ClearCart(ctx context.Context, cartID uuid.UUID) error {
	_, err := t.q.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cartID)
	return err
}
