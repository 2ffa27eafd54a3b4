package notify

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLogSenderRequiresRecipient(t *testing.T) {
	s := NewLogSender()

	assert.ErrorIs(t, s.Send(context.Background(), Message{Subject: "hi"}), ErrNoRecipient)
	assert.NoError(t, s.Send(context.Background(), Message{Recipient: "a@example.com", Subject: "hi"}))
}

func TestTemplates(t *testing.T) {
	paid := OrderPaidBuyer("buyer@example.com", "o-1", "REF9", decimal.RequireFromString("25"))
	assert.Equal(t, "Order o-1 paid", paid.Subject)
	assert.Contains(t, paid.Body, "25.00")
	assert.Contains(t, paid.Body, "REF9")

	low := LowStock("owner@example.com", "SKU1", 2, 3)
	assert.Equal(t, "Low stock alert for SKU1", low.Subject)
	assert.Contains(t, low.Body, "down to 2")

	cancelled := OrderCancelled("buyer@example.com", "o-1", "")
	assert.NotContains(t, cancelled.Body, "Reason")
}
