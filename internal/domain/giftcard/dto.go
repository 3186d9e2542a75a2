package giftcard

import (
	"time"

	"github.com/google/uuid"

	"github.com/eventix/giftcard-api/internal/domain/audit"
	"github.com/eventix/giftcard-api/internal/domain/payment"
)

// CreateCardRequest is the issuance form
type CreateCardRequest struct {
	Currency   string     `json:"currency" validate:"required,iso4217"`
	Secret     string     `json:"secret" validate:"omitempty,min=6,max=190,giftcard_secret"`
	Value      string     `json:"value"`
	Expires    *time.Time `json:"expires"`
	Conditions *string    `json:"conditions" validate:"omitempty,max=2000"`
}

// UpdateCardRequest changes card metadata; omitted fields stay as they are
type UpdateCardRequest struct {
	Secret       *string    `json:"secret" validate:"omitempty,min=6,max=190,giftcard_secret"`
	Expires      *time.Time `json:"expires"`
	ClearExpires bool       `json:"clear_expires"`
	Conditions   *string    `json:"conditions" validate:"omitempty,max=2000"`
}

// TransactionRequest is a manual balance change. Value is a decimal string
// and may use a comma as decimal separator.
type TransactionRequest struct {
	Value string `json:"value" validate:"required,max=32"`
	Memo  string `json:"memo" validate:"max=255"`
}

// RefundRequest credits an order refund onto a card
type RefundRequest struct {
	OrderRef string `json:"order_ref" validate:"required,max=64"`
	Value    string `json:"value" validate:"required,max=32"`
}

// AcceptanceRequest names an issuer whose cards should be accepted
type AcceptanceRequest struct {
	IssuerID string `json:"issuer_id" validate:"required,uuid"`
}

// ListQuery holds the card list filters
type ListQuery struct {
	Query string `json:"q" validate:"max=190"`
	State string `json:"state" validate:"card_state"`
	Page  int    `json:"page" validate:"min=1"`
}

// CardResponse is a card as returned by the API
type CardResponse struct {
	ID         uuid.UUID  `json:"id"`
	IssuerID   uuid.UUID  `json:"issuer_id"`
	Currency   string     `json:"currency"`
	Secret     string     `json:"secret"`
	Active     bool       `json:"active"`
	Expired    bool       `json:"expired"`
	Expires    *time.Time `json:"expires,omitempty"`
	Conditions *string    `json:"conditions,omitempty"`
	Balance    string     `json:"balance,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TransactionResponse is a ledger row as returned by the API
type TransactionResponse struct {
	ID         uuid.UUID `json:"id"`
	Value      string    `json:"value"`
	Memo       *string   `json:"memo,omitempty"`
	OrderRef   *string   `json:"order_ref,omitempty"`
	Reversible bool      `json:"reversible"`
	CreatedAt  time.Time `json:"created_at"`
}

// CardDetailResponse is a card with its history
type CardDetailResponse struct {
	CardResponse
	Transactions []TransactionResponse `json:"transactions"`
	History      []audit.Record        `json:"history,omitempty"`
}

// ReversalResponse reports the outcome of a reversal
type ReversalResponse struct {
	State       ReversalState        `json:"state"`
	Transaction *TransactionResponse `json:"transaction,omitempty"`
	Attempt     *payment.Attempt     `json:"attempt,omitempty"`
}

func cardResponse(c *GiftCard, now time.Time) CardResponse {
	return CardResponse{
		ID:         c.ID,
		IssuerID:   c.IssuerID,
		Currency:   c.Currency,
		Secret:     c.Secret,
		Active:     c.Active,
		Expired:    c.IsExpired(now),
		Expires:    c.Expires,
		Conditions: c.Conditions,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func transactionResponse(t *Transaction, currency string) TransactionResponse {
	return TransactionResponse{
		ID:         t.ID,
		Value:      FormatValue(t.Value, currency),
		Memo:       t.Memo,
		OrderRef:   t.OrderRef,
		Reversible: t.Reversible(),
		CreatedAt:  t.CreatedAt,
	}
}

func transactionResponses(txs []Transaction, currency string) []TransactionResponse {
	out := make([]TransactionResponse, len(txs))
	for i := range txs {
		out[i] = transactionResponse(&txs[i], currency)
	}
	return out
}
