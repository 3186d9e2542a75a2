package giftcard

import "errors"

var (
	// ErrInvalidBalance is returned when an operation would take a card below zero.
	ErrInvalidBalance = errors.New("gift cards are not allowed to have negative values")

	// ErrPrecondition is returned for structurally ineligible requests, such as
	// reversing a transaction that is not linked to an order.
	ErrPrecondition = errors.New("operation not allowed for this transaction")

	// ErrPaymentFailed wraps the payment provider's message when a reversal fails.
	ErrPaymentFailed = errors.New("the transaction could not be reversed")

	ErrStorage = errors.New("gift card storage unavailable")

	ErrNotFound = errors.New("gift card not found")

	ErrTransactionNotFound = errors.New("gift card transaction not found")

	// ErrInvalidValue is returned for unparseable manual values.
	ErrInvalidValue = errors.New("invalid value")

	ErrDuplicateSecret = errors.New("gift card secret already in use")

	ErrInvalidCurrency = errors.New("invalid currency")

	ErrSelfAcceptance = errors.New("an organizer cannot accept its own gift cards")
)

var (
	// ErrCardInactive and ErrCardExpired block order payments with the card.
	ErrCardInactive = errors.New("gift card is no longer valid")
	ErrCardExpired  = errors.New("gift card has expired")
)
