package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrLockHeld          = errors.New("lock already held")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Rejection categories returned by the marketplace engines.
var (
	ErrValidation    = errors.New("validation error")
	ErrAuthorization = errors.New("authorization error")
	ErrState         = errors.New("state error")
	ErrPayment       = errors.New("payment error")
)

// MarketError is a synchronous rejection of a marketplace operation. Kind is
// one of the rejection categories above; Reason is meant for the client.
type MarketError struct {
	Op     string
	Kind   error
	Reason string
	Err    error
}

func (e *MarketError) Error() string {
	msg := fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the category and the underlying cause to errors.Is.
func (e *MarketError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindName returns a short label for the rejection category.
func (e *MarketError) KindName() string {
	switch e.Kind {
	case ErrValidation:
		return "validation"
	case ErrAuthorization:
		return "authorization"
	case ErrState:
		return "state"
	case ErrPayment:
		return "payment"
	default:
		return "internal"
	}
}

// Reject builds a MarketError of the given kind.
func Reject(op string, kind error, format string, args ...any) *MarketError {
	return &MarketError{Op: op, Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// RejectCause builds a MarketError that also wraps the underlying cause.
func RejectCause(op string, kind error, cause error, format string, args ...any) *MarketError {
	return &MarketError{Op: op, Kind: kind, Reason: fmt.Sprintf(format, args...), Err: cause}
}
