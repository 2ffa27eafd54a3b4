package store

import (
	"context"
	"errors"
	"time"

	"checkout-service/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sentinel errors returned by every Repository implementation
var (
	ErrNotFound          = errors.New("store: not found")
	ErrInsufficientStock = errors.New("store: insufficient stock")
	ErrConflict          = errors.New("store: conflict")
)

// Entity names a soft-deletable table
type Entity string

// Soft-deletable entities
const (
	EntityStoreItems Entity = "store_items"
	EntityStores     Entity = "stores"
	EntityCartItems  Entity = "cart_items"
	EntityOrders     Entity = "orders"
	EntityPayments   Entity = "payments"
)

// Valid reports whether e is a known soft-deletable entity
func (e Entity) Valid() bool {
	switch e {
	case EntityStoreItems, EntityStores, EntityCartItems, EntityOrders, EntityPayments:
		return true
	}
	return false
}

// ListOptions selects between the live and the audit read path
type ListOptions struct {
	IncludeDeleted bool
}

// Queries are the reads available both inside and outside a transaction.
// Unless stated otherwise they only see live rows.
type Queries interface {
	GetStoreItem(ctx context.Context, id uuid.UUID) (*models.StoreItem, error)
	// GetStoreItemAny also returns tombstoned items
	GetStoreItemAny(ctx context.Context, id uuid.UUID) (*models.StoreItem, error)
	ListStoreItems(ctx context.Context, opts ListOptions) ([]models.StoreItem, error)

	GetCartByUser(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	ListCartLines(ctx context.Context, cartID uuid.UUID) ([]models.CartLine, error)

	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetOrderByAuthority(ctx context.Context, authority string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]models.Order, error)
	ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)

	GetPaymentByOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	ListTransactions(ctx context.Context, paymentID uuid.UUID) ([]models.Transaction, error)

	UserEmail(ctx context.Context, userID uuid.UUID) (string, error)
	SellerEmailsForOrder(ctx context.Context, orderID uuid.UUID) ([]string, error)
	StoreOwnerEmail(ctx context.Context, storeID uuid.UUID) (string, error)
}

// Tx is a unit of work. Writes are only available here; hooks registered
// with AfterCommit run once the transaction has durably committed and are
// discarded on rollback.
type Tx interface {
	Queries

	// LockStoreItems row-locks the given items in ascending id order,
	// tombstoned or not. Missing ids are absent from the result.
	LockStoreItems(ctx context.Context, ids []uuid.UUID) ([]models.StoreItem, error)
	// AdjustStock applies delta atomically and fails with
	// ErrInsufficientStock instead of going below zero.
	AdjustStock(ctx context.Context, id uuid.UUID, delta int) (models.StockChange, error)
	SetStock(ctx context.Context, id uuid.UUID, stock int) (models.StockChange, error)
	// SetPrice changes the live price. Existing order items keep their snapshot.
	SetPrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) error
	CreateStoreItem(ctx context.Context, item *models.StoreItem) error

	GetOrCreateCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	// UpsertCartItem adds qty to the existing row or inserts a new one
	UpsertCartItem(ctx context.Context, cartID, storeItemID uuid.UUID, qty int) (*models.CartItem, error)
	SetCartItemQuantity(ctx context.Context, cartID, itemID uuid.UUID, qty int) error
	DeleteCartItem(ctx context.Context, cartID, itemID uuid.UUID) error
	ClearCart(ctx context.Context, cartID uuid.UUID) error

	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	// TransitionOrder moves the order from -> to only if it is still in
	// from. It reports whether the update applied.
	TransitionOrder(ctx context.Context, id uuid.UUID, from, to models.OrderStatus, paidAt *time.Time) (bool, error)
	SetOrderAuthority(ctx context.Context, id uuid.UUID, authority string) error
	SetOrderRefID(ctx context.Context, id uuid.UUID, refID string) error

	CreatePayment(ctx context.Context, payment *models.Payment) error
	UpdatePayment(ctx context.Context, payment *models.Payment) error
	// InsertTransaction is a no-op returning false when (payment, ref id)
	// has already been logged.
	InsertTransaction(ctx context.Context, txn *models.Transaction) (bool, error)

	SoftDelete(ctx context.Context, entity Entity, id uuid.UUID) error
	Restore(ctx context.Context, entity Entity, id uuid.UUID) error
	// HardDelete physically removes a row. Orders are rejected with ErrConflict.
	HardDelete(ctx context.Context, entity Entity, id uuid.UUID) error

	EnqueueJob(ctx context.Context, job models.OutboxJob) error
	ClaimPendingJobs(ctx context.Context, limit int) ([]models.OutboxJob, error)
	MarkJobsDispatched(ctx context.Context, ids []uuid.UUID) error

	AfterCommit(fn func(ctx context.Context))
}

// Repository is the persistence contract of the checkout pipeline
type Repository interface {
	Queries

	// InTx runs fn in a transaction. A non-nil error from fn rolls back.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	// OnJobsCommitted registers fn to run after any transaction that
	// enqueued outbox jobs commits.
	OnJobsCommitted(fn func())
	Close() error
}
