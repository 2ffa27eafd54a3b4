package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"checkout-service/internal/models"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const storeItemColumns = `id, store_id, sku, price, stock, is_active, low_stock_threshold,
	created_at, updated_at, deleted_at`

func (q queries) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	err := sqlx.GetContext(ctx, q.q, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (q queries) list(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, q.q, dest, query, args...)
}

// GetStoreItem retrieves a live store item
func (q queries) GetStoreItem(ctx context.Context, id uuid.UUID) (*models.StoreItem, error) {
	var item models.StoreItem
	err := q.get(ctx, &item,
		"SELECT "+storeItemColumns+" FROM store_items WHERE id = $1 AND deleted_at IS NULL", id)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetStoreItemAny retrieves a store item whether or not it is tombstoned
func (q queries) GetStoreItemAny(ctx context.Context, id uuid.UUID) (*models.StoreItem, error) {
	var item models.StoreItem
	err := q.get(ctx, &item, "SELECT "+storeItemColumns+" FROM store_items WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListStoreItems lists live items, or every item with IncludeDeleted
func (q queries) ListStoreItems(ctx context.Context, opts ListOptions) ([]models.StoreItem, error) {
	query, args, err := builder.From("store_items").Prepared(true).
		Select(goqu.L(storeItemColumns)).
		Where(live(opts)).
		Order(goqu.C("sku").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build store item listing: %w", err)
	}

	items := []models.StoreItem{}
	if err := q.list(ctx, &items, query, args...); err != nil {
		return nil, err
	}
	return items, nil
}

// LockStoreItems takes row locks in ascending id order
func (t *pgTx) LockStoreItems(ctx context.Context, ids []uuid.UUID) ([]models.StoreItem, error) {
	if len(ids) == 0 {
		return []models.StoreItem{}, nil
	}

	sorted := make([]string, len(ids))
	for i, id := range ids {
		sorted[i] = id.String()
	}
	sort.Strings(sorted)

	query, args, err := sqlx.In(
		"SELECT "+storeItemColumns+" FROM store_items WHERE id IN (?) ORDER BY id FOR UPDATE", sorted)
	if err != nil {
		return nil, err
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)

	var items []models.StoreItem
	if err := t.list(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("failed to lock store items: %w", err)
	}
	return items, nil
}

type stockRow struct {
	SKU      string `db:"sku"`
	Previous int    `db:"prev_stock"`
	Current  int    `db:"new_stock"`
}

// AdjustStock applies delta with a conditional update so stock never goes negative
func (t *pgTx) AdjustStock(ctx context.Context, id uuid.UUID, delta int) (models.StockChange, error) {
	var row stockRow
	err := t.get(ctx, &row, `
		UPDATE store_items SET stock = stock + $2, updated_at = NOW()
		WHERE id = $1 AND stock + $2 >= 0
		RETURNING sku, stock - $2 AS prev_stock, stock AS new_stock`,
		id, delta)
	if errors.Is(err, ErrNotFound) {
		if err := t.exists(ctx, EntityStoreItems, id); err != nil {
			return models.StockChange{}, err
		}
		return models.StockChange{}, ErrInsufficientStock
	}
	if err != nil {
		return models.StockChange{}, fmt.Errorf("failed to adjust stock: %w", err)
	}

	return models.StockChange{StoreItemID: id, SKU: row.SKU, Previous: row.Previous, Current: row.Current}, nil
}

// SetStock overwrites the counter under a row lock
func (t *pgTx) SetStock(ctx context.Context, id uuid.UUID, stock int) (models.StockChange, error) {
	if stock < 0 {
		return models.StockChange{}, ErrInsufficientStock
	}

	var row stockRow
	if err := t.get(ctx, &row,
		"SELECT sku, stock AS prev_stock FROM store_items WHERE id = $1 FOR UPDATE", id); err != nil {
		return models.StockChange{}, err
	}

	if _, err := t.q.ExecContext(ctx,
		"UPDATE store_items SET stock = $2, updated_at = NOW() WHERE id = $1", id, stock); err != nil {
		return models.StockChange{}, fmt.Errorf("failed to set stock: %w", err)
	}

	return models.StockChange{StoreItemID: id, SKU: row.SKU, Previous: row.Previous, Current: stock}, nil
}

// SetPrice changes the live price of a store item
func (t *pgTx) SetPrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) error {
	res, err := t.q.ExecContext(ctx,
		"UPDATE store_items SET price = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL", id, price)
	if err != nil {
		return fmt.Errorf("failed to set price: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateStoreItem inserts a new store item
func (t *pgTx) CreateStoreItem(ctx context.Context, item *models.StoreItem) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO store_items (id, store_id, sku, price, stock, is_active, low_stock_threshold, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		item.ID, item.StoreID, item.SKU, item.Price, item.Stock, item.IsActive, item.LowStockThreshold,
		item.CreatedAt, item.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("sku %s already exists: %w", item.SKU, ErrConflict)
	}
	return err
}

// StoreOwnerEmail resolves the email of the seller owning a store
func (q queries) StoreOwnerEmail(ctx context.Context, storeID uuid.UUID) (string, error) {
	var email string
	err := q.get(ctx, &email, `
		SELECT u.email FROM stores s
		JOIN sellers sl ON sl.id = s.seller_id
		JOIN users u ON u.id = sl.user_id
		WHERE s.id = $1`, storeID)
	return email, err
}

// UserEmail resolves a buyer's email
func (q queries) UserEmail(ctx context.Context, userID uuid.UUID) (string, error) {
	var email string
	err := q.get(ctx, &email, "SELECT email FROM users WHERE id = $1", userID)
	return email, err
}

// SellerEmailsForOrder returns the distinct seller emails among an order's items
func (q queries) SellerEmailsForOrder(ctx context.Context, orderID uuid.UUID) ([]string, error) {
	emails := []string{}
	err := q.list(ctx, &emails, `
		SELECT DISTINCT u.email FROM order_items oi
		JOIN store_items si ON si.id = oi.store_item_id
		JOIN stores s ON s.id = si.store_id
		JOIN sellers sl ON sl.id = s.seller_id
		JOIN users u ON u.id = sl.user_id
		WHERE oi.order_id = $1 AND u.email <> ''
		ORDER BY u.email`, orderID)
	return emails, err
}
