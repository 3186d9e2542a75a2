package giftcard

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store persists cards and their append-only transaction log.
//
// Balance-affecting writes only happen through WithCardLock, which holds an
// exclusive lock on one card for the duration of fn. If fn returns an error
// nothing fn wrote becomes visible. fn gets the context the lock was taken
// with and must use it for every Ledger call.
type Store interface {
	// CreateCard inserts card and runs fn with the new card locked, in the same
	// unit of work.
	CreateCard(ctx context.Context, card *GiftCard, fn func(context.Context, Ledger) error) error

	// WithCardLock locks the card row and runs fn. Returns ErrNotFound when the
	// card does not exist.
	WithCardLock(ctx context.Context, cardID uuid.UUID, fn func(context.Context, Ledger) error) error

	GetCard(ctx context.Context, cardID uuid.UUID) (*GiftCard, error)

	// Balance is an unlocked read, for display only.
	Balance(ctx context.Context, cardID uuid.UUID) (decimal.Decimal, error)

	ListCards(ctx context.Context, filter ListFilter) ([]CardWithBalance, int, error)
	ListTransactions(ctx context.Context, cardID uuid.UUID) ([]Transaction, error)
	FindTransaction(ctx context.Context, cardID, txID uuid.UUID) (*Transaction, error)

	AddAcceptance(ctx context.Context, organizerID, issuerID uuid.UUID) (bool, error)
	RemoveAcceptance(ctx context.Context, organizerID, issuerID uuid.UUID) (bool, error)
	ListAcceptances(ctx context.Context, organizerID uuid.UUID) ([]Acceptance, error)
}

// Ledger is the view of one locked card.
type Ledger interface {
	Card() *GiftCard

	// Balance sums the card's transactions inside the locked scope.
	Balance(ctx context.Context) (decimal.Decimal, error)

	Append(ctx context.Context, value decimal.Decimal, memo, orderRef *string) (*Transaction, error)

	FindTransaction(ctx context.Context, txID uuid.UUID) (*Transaction, error)

	// UpdateCard writes the card's metadata columns.
	UpdateCard(ctx context.Context, card *GiftCard) error
}
