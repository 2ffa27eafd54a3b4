package models

import "errors"

// ErrInvalidTransition is returned for a status change the lifecycle forbids
var ErrInvalidTransition = errors.New("order: invalid status transition")

// orderTransitions lists, per status, the statuses it may move to.
// CANCELLED is terminal; PAID may only be cancelled explicitly.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:    {OrderStatusCancelled},
}

// CanTransition reports whether from -> to is an allowed lifecycle step
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition when from -> to is not allowed
func CheckTransition(from, to OrderStatus) error {
	if !CanTransition(from, to) {
		return ErrInvalidTransition
	}
	return nil
}

// IsFinal reports whether a payment can no longer be started or verified
func (s PaymentStatus) IsFinal() bool {
	return s == PaymentStatusVerified
}
