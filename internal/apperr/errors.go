package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error
type Kind string

// Error kinds
const (
	KindValidation        Kind = "validation_error"
	KindStockInsufficient Kind = "stock_insufficient"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindGateway           Kind = "gateway_error"
	KindInternal          Kind = "internal"
)

// Error represents an application error
type Error struct {
	Kind      Kind   `json:"error"`
	Message   string `json:"message"`
	SKU       string `json:"sku,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Timeout   bool   `json:"-"`
	Err       error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the kind onto a response status
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindStockInsufficient:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindGateway:
		if e.Timeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Validation reports malformed input
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// StockInsufficient names the first SKU that cannot be fulfilled
func StockInsufficient(sku string) *Error {
	return &Error{
		Kind:    KindStockInsufficient,
		Message: fmt.Sprintf("not enough stock for SKU %s", sku),
		SKU:     sku,
	}
}

// NotFound reports a missing or foreign resource
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports a disallowed state transition
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Gateway reports an upstream payment provider failure
func Gateway(message string, err error, retryable, timeout bool) *Error {
	return &Error{
		Kind:      KindGateway,
		Message:   message,
		Retryable: retryable,
		Timeout:   timeout,
		Err:       err,
	}
}

// Internal wraps an unexpected failure
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

// KindOf returns the kind of err, or KindInternal for foreign errors
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// As returns err as *Error, wrapping foreign errors as Internal
func As(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}
