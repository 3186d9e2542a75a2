package giftcard

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GiftCard is an issued card. Its balance is never stored on the row; it is the
// sum of the card's transactions.
type GiftCard struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	IssuerID   uuid.UUID  `db:"issuer_id" json:"issuer_id"`
	Currency   string     `db:"currency" json:"currency"`
	Secret     string     `db:"secret" json:"secret"`
	Active     bool       `db:"active" json:"active"`
	Expires    *time.Time `db:"expires" json:"expires,omitempty"`
	Conditions *string    `db:"conditions" json:"conditions,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// IsExpired reports whether the card is past its expiry date at t.
func (c *GiftCard) IsExpired(t time.Time) bool {
	return c.Expires != nil && !c.Expires.After(t)
}

// Transaction is an immutable ledger row.
type Transaction struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	CardID    uuid.UUID       `db:"card_id" json:"card_id"`
	Value     decimal.Decimal `db:"value" json:"value"`
	Memo      *string         `db:"memo" json:"memo,omitempty"`
	OrderRef  *string         `db:"order_ref" json:"order_ref,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Reversible reports whether the transaction moved money onto the card as part
// of an order and can therefore be given back through the payment subsystem.
func (t *Transaction) Reversible() bool {
	return t.OrderRef != nil && *t.OrderRef != "" && t.Value.IsPositive()
}

// CardWithBalance is a list row.
type CardWithBalance struct {
	GiftCard
	Balance decimal.Decimal `db:"balance" json:"balance"`
}

// CreateCardInput holds the issuance form.
type CreateCardInput struct {
	Currency     string
	Secret       string
	InitialValue decimal.Decimal
	Expires      *time.Time
	Conditions   *string
}

// MetadataUpdate carries the administrative fields that may change after
// issuance. Nil fields are left untouched.
type MetadataUpdate struct {
	Secret     *string
	Expires    *time.Time
	Conditions *string
	// ClearExpires removes the expiry date.
	ClearExpires bool
}

// Fields returns the changed fields for audit records.
func (u MetadataUpdate) Fields() map[string]interface{} {
	fields := make(map[string]interface{})
	if u.Secret != nil {
		fields["secret"] = *u.Secret
	}
	if u.Expires != nil {
		fields["expires"] = u.Expires.UTC().Format(time.RFC3339)
	}
	if u.ClearExpires {
		fields["expires"] = nil
	}
	if u.Conditions != nil {
		fields["conditions"] = *u.Conditions
	}
	return fields
}

// CardState filters the card list.
type CardState string

const (
	CardStateAny      CardState = ""
	CardStateActive   CardState = "active"
	CardStateInactive CardState = "inactive"
	CardStateEmpty    CardState = "empty"
	CardStateValued   CardState = "valued"
)

// ListFilter controls the card list.
type ListFilter struct {
	IssuerID uuid.UUID
	Query    string
	State    CardState
	Limit    int
	Offset   int
}

// ReversalState is the outcome of a reversal request.
type ReversalState string

const (
	ReversalRequested  ReversalState = "requested"
	ReversalRejected   ReversalState = "rejected"
	ReversalAttempting ReversalState = "attempting"
	ReversalReversed   ReversalState = "reversed"
	ReversalFailed     ReversalState = "failed"
)

// Acceptance records that an organizer accepts cards from another issuer.
type Acceptance struct {
	OrganizerID uuid.UUID `db:"organizer_id" json:"organizer_id"`
	IssuerID    uuid.UUID `db:"issuer_id" json:"issuer_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
