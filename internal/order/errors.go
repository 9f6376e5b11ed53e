package order

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidState rejects a transition the state machine does not
	// allow from the order's current status. No state change happens.
	ErrInvalidState = errors.New("invalid order status transition")
)

// ValidationError is a business-rule violation detected before any
// write: empty cart, inactive product, insufficient stock and so on.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
