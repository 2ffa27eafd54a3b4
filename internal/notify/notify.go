// Package notify delivers buyer, seller and store-owner notifications.
// Delivery itself belongs to an external collaborator; the log sender is
// what the service ships with.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrNoRecipient is returned for a message without an address
var ErrNoRecipient = errors.New("notify: message has no recipient")

// Message is one fire-and-forget notification
type Message struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// Sender delivers a message
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of a mail server
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a new log sender
func NewLogSender() *LogSender {
	return &LogSender{logger: util.Component("notify")}
}

// Send logs the message
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.Recipient) == "" {
		return ErrNoRecipient
	}
	s.logger.Info("Notification sent",
		zap.String("recipient", msg.Recipient),
		zap.String("subject", msg.Subject),
		zap.Int("body_bytes", len(msg.Body)))
	return nil
}

// OrderPaidBuyer confirms a successful payment to the buyer
func OrderPaidBuyer(recipient, orderID, refID string, total decimal.Decimal) Message {
	return Message{
		Recipient: recipient,
		Subject:   fmt.Sprintf("Order %s paid", orderID),
		Body: fmt.Sprintf("Your payment for order %s was received.\nTotal: %s\nReference: %s\n",
			orderID, total.StringFixed(2), refID),
	}
}

// OrderPaidSeller tells a seller one of their items was sold
func OrderPaidSeller(recipient, orderID string) Message {
	return Message{
		Recipient: recipient,
		Subject:   fmt.Sprintf("New paid order %s", orderID),
		Body:      fmt.Sprintf("Order %s containing items from your store has been paid and is ready to ship.\n", orderID),
	}
}

// OrderCancelled tells the buyer the order will not be fulfilled
func OrderCancelled(recipient, orderID, reason string) Message {
	body := fmt.Sprintf("Your order %s has been cancelled.\n", orderID)
	if reason != "" {
		body += fmt.Sprintf("Reason: %s\n", reason)
	}
	return Message{
		Recipient: recipient,
		Subject:   fmt.Sprintf("Order %s cancelled", orderID),
		Body:      body,
	}
}

// LowStock warns a store owner that a SKU crossed its alert threshold
func LowStock(recipient, sku string, stock, threshold int) Message {
	return Message{
		Recipient: recipient,
		Subject:   fmt.Sprintf("Low stock alert for %s", sku),
		Body:      fmt.Sprintf("Stock for %s is down to %d (threshold %d).\n", sku, stock, threshold),
	}
}
