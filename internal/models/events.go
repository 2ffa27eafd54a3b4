package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

// Job types
const (
	JobTypeNotification   = "notification.send"
	JobTypeTransactionLog = "payment.transaction_log"
	JobTypeLowStock       = "inventory.low_stock"
)

// OutboxJob is a side-effect job recorded in the same transaction as the
// state change that motivates it. It is relayed only after commit.
type OutboxJob struct {
	ID           uuid.UUID      `db:"id" json:"id"`
	Type         string         `db:"job_type" json:"type"`
	Payload      types.JSONText `db:"payload" json:"payload"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	DispatchedAt *time.Time     `db:"dispatched_at" json:"dispatched_at,omitempty"`
}

// NotificationJob asks the notification collaborator to deliver one message
type NotificationJob struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// TransactionLogJob appends the gateway verify payload to the payment log
type TransactionLogJob struct {
	OrderID   uuid.UUID      `json:"order_id"`
	PaymentID uuid.UUID      `json:"payment_id"`
	RefID     string         `json:"ref_id"`
	Status    string         `json:"status"`
	Payload   types.JSONText `json:"payload"`
}

// LowStockJob is emitted when a SKU's stock crosses its alert threshold
type LowStockJob struct {
	StoreItemID uuid.UUID `json:"store_item_id"`
	SKU         string    `json:"sku"`
	Stock       int       `json:"stock"`
	Threshold   int       `json:"threshold"`
}
