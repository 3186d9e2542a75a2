package payment

import (
	"errors"
	"fmt"
)

var (
	ErrAttemptNotFound  = errors.New("payment attempt not found")
	ErrAttemptClosed    = errors.New("payment attempt is already closed")
	ErrProviderNotFound = errors.New("payment provider not found")
	ErrInvalidAttempt   = errors.New("invalid payment attempt")
	ErrStorage          = errors.New("payment storage unavailable")
)

// PaymentError is returned by providers when money could not be moved. The
// message is safe to show to the user.
type PaymentError struct {
	Message string
}

func (e *PaymentError) Error() string {
	return e.Message
}

// NewPaymentError builds a PaymentError from a format string.
func NewPaymentError(format string, args ...interface{}) *PaymentError {
	return &PaymentError{Message: fmt.Sprintf(format, args...)}
}
