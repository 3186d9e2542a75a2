package payment

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// State represents payment attempt state
type State string

const (
	StateCreated   State = "created"
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

// Terminal reports whether the attempt can no longer change state.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed || s == StateCanceled
}

// openStates are the states an attempt may leave.
var openStates = []string{string(StateCreated), string(StatePending)}

// Provider identifiers
const (
	ProviderGiftCard = "giftcard"
	ProviderManual   = "manual"
)

// MaxOrderRefLength is the longest order reference the order_ref columns hold.
const MaxOrderRefLength = 64

// JSONRawMessage handles NULL json fields from DB
type JSONRawMessage []byte

func (j *JSONRawMessage) Scan(src any) error {
	if src == nil {
		*j = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		*j = append((*j)[0:0], v...)
	case string:
		*j = []byte(v)
	default:
		return fmt.Errorf("unsupported type: %T", src)
	}
	return nil
}

func (j JSONRawMessage) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return []byte(j), nil
}

func (j JSONRawMessage) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSONRawMessage) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*j = nil
		return nil
	}
	*j = append((*j)[0:0], data...)
	return nil
}

// Attempt is one try at moving money for an order. A failed attempt is never
// reopened; retrying creates a new attempt.
type Attempt struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	OrderRef  string          `db:"order_ref" json:"order_ref"`
	LocalID   int             `db:"local_id" json:"local_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Currency  string          `db:"currency" json:"currency"`
	Provider  string          `db:"provider" json:"provider"`
	State     State           `db:"state" json:"state"`
	Info      JSONRawMessage  `db:"info" json:"info,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// GiftCardInfo is the info payload of attempts paid with a gift card.
type GiftCardInfo struct {
	GiftCard uuid.UUID `json:"gift_card"`
	Retry    bool      `json:"retry,omitempty"`
}

// GiftCardInfo decodes the attempt's info payload.
func (a *Attempt) GiftCardInfo() (GiftCardInfo, error) {
	var info GiftCardInfo
	if len(a.Info) == 0 {
		return info, fmt.Errorf("attempt %s has no info", a.ID)
	}
	if err := json.Unmarshal(a.Info, &info); err != nil {
		return info, fmt.Errorf("decode attempt info: %w", err)
	}
	return info, nil
}

// CreateAttemptRequest contains parameters for a new attempt
type CreateAttemptRequest struct {
	OrderRef string
	Amount   decimal.Decimal
	Currency string
	Provider string
	Info     interface{}
}
