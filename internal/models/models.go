package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// SoftDelete carries the identity, timestamps and tombstone shared by every
// persisted entity. Entities embed it rather than inheriting behaviour.
type SoftDelete struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// NewSoftDelete returns a live record header with a fresh id
func NewSoftDelete(now time.Time) SoftDelete {
	return SoftDelete{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsDeleted reports whether the tombstone is set
func (s *SoftDelete) IsDeleted() bool {
	return s.DeletedAt != nil
}

// MarkDeleted sets the tombstone if unset. It returns false when the record
// was already deleted.
func (s *SoftDelete) MarkDeleted(now time.Time) bool {
	if s.DeletedAt != nil {
		return false
	}
	s.DeletedAt = &now
	s.UpdatedAt = now
	return true
}

// Restore clears the tombstone. It returns false when the record was live.
func (s *SoftDelete) Restore(now time.Time) bool {
	if s.DeletedAt == nil {
		return false
	}
	s.DeletedAt = nil
	s.UpdatedAt = now
	return true
}

// User is the read-only projection of an account owned by the identity service
type User struct {
	SoftDelete
	Email    string `db:"email" json:"email"`
	Username string `db:"username" json:"username"`
}

// Seller is a user allowed to own stores
type Seller struct {
	SoftDelete
	UserID      uuid.UUID `db:"user_id" json:"user_id"`
	DisplayName string    `db:"display_name" json:"display_name"`
	IsActive    bool      `db:"is_active" json:"is_active"`
}

// Store groups the items a seller offers
type Store struct {
	SoftDelete
	SellerID uuid.UUID `db:"seller_id" json:"seller_id"`
	Name     string    `db:"name" json:"name"`
	IsActive bool      `db:"is_active" json:"is_active"`
}

// StoreItem is a purchasable SKU with its live price and stock counter
type StoreItem struct {
	SoftDelete
	StoreID           uuid.UUID       `db:"store_id" json:"store_id"`
	SKU               string          `db:"sku" json:"sku"`
	Price             decimal.Decimal `db:"price" json:"price"`
	Stock             int             `db:"stock" json:"stock"`
	IsActive          bool            `db:"is_active" json:"is_active"`
	LowStockThreshold *int            `db:"low_stock_threshold" json:"low_stock_threshold,omitempty"`
}

// Purchasable reports whether the item can be put into an order
func (i *StoreItem) Purchasable() bool {
	return i.IsActive && !i.IsDeleted()
}

// StockChange is the before/after value of one stock mutation
type StockChange struct {
	StoreItemID uuid.UUID
	SKU         string
	Previous    int
	Current     int
}

// Cart is the per-user mutable bag of items
type Cart struct {
	SoftDelete
	UserID uuid.UUID `db:"user_id" json:"user_id"`
}

// CartItem is one (cart, store item) row
type CartItem struct {
	SoftDelete
	CartID      uuid.UUID `db:"cart_id" json:"cart_id"`
	StoreItemID uuid.UUID `db:"store_item_id" json:"store_item_id"`
	Quantity    int       `db:"quantity" json:"quantity"`
}

// CartLine is a cart item joined with the live store item it references
type CartLine struct {
	ItemID      uuid.UUID       `db:"item_id" json:"item_id"`
	StoreItemID uuid.UUID       `db:"store_item_id" json:"store_item_id"`
	SKU         string          `db:"sku" json:"sku"`
	Quantity    int             `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"price" json:"unit_price"`
}

// Subtotal uses the live price; cart prices are never snapshotted
func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Order is the immutable result of a checkout
type Order struct {
	SoftDelete
	UserID           uuid.UUID       `db:"user_id" json:"user_id"`
	Status           OrderStatus     `db:"status" json:"status"`
	TotalAmount      decimal.Decimal `db:"total_amount" json:"total_amount"`
	PaymentGateway   string          `db:"payment_gateway" json:"payment_gateway"`
	PaymentAuthority *string         `db:"payment_authority" json:"payment_authority,omitempty"`
	PaymentRefID     *string         `db:"payment_ref_id" json:"payment_ref_id,omitempty"`
	PaidAt           *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	IdempotencyKey   *string         `db:"idempotency_key" json:"-"`
}

// OrderItem holds the price snapshot taken at checkout
type OrderItem struct {
	SoftDelete
	OrderID     uuid.UUID       `db:"order_id" json:"order_id"`
	StoreItemID uuid.UUID       `db:"store_item_id" json:"store_item_id"`
	SKU         string          `db:"sku" json:"sku"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	Quantity    int             `db:"quantity" json:"quantity"`
}

// Subtotal is quantity times the snapshot price
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Payment is the single payment record of an order
type Payment struct {
	SoftDelete
	OrderID   uuid.UUID       `db:"order_id" json:"order_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Provider  string          `db:"provider" json:"provider"`
	Authority string          `db:"authority" json:"authority"`
	RefID     string          `db:"ref_id" json:"ref_id,omitempty"`
	Status    PaymentStatus   `db:"status" json:"status"`
	PaidAt    *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
}

// Transaction is an append-only log row written after a successful verify
type Transaction struct {
	SoftDelete
	PaymentID  uuid.UUID      `db:"payment_id" json:"payment_id"`
	RefID      string         `db:"ref_id" json:"ref_id"`
	RawPayload types.JSONText `db:"raw_payload" json:"raw_payload"`
	Status     string         `db:"status" json:"status"`
}

// OrderStatus is the lifecycle state of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// PaymentStatus is the lifecycle state of a payment
type PaymentStatus string

// Payment statuses
const (
	PaymentStatusInitiated  PaymentStatus = "INITIATED"
	PaymentStatusCallbackOK PaymentStatus = "CALLBACK_OK"
	PaymentStatusVerified   PaymentStatus = "VERIFIED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
)

// TransactionStatusVerified marks a transaction row created by a successful verify
const TransactionStatusVerified = "VERIFIED"
