package giftcard

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/eventix/giftcard-api/internal/domain/payment"
)

// PaymentProvider pays order attempts from a gift card. It charges the card
// referenced in the attempt info under that card's lock.
type PaymentProvider struct {
	cards *Service
}

// NewPaymentProvider creates the gift card payment provider
func NewPaymentProvider(cards *Service) *PaymentProvider {
	return &PaymentProvider{cards: cards}
}

func (p *PaymentProvider) Name() string {
	return payment.ProviderGiftCard
}

func (p *PaymentProvider) Execute(ctx context.Context, attempt *payment.Attempt) error {
	info, err := attempt.GiftCardInfo()
	if err != nil {
		return payment.NewPaymentError("no gift card was selected for this payment")
	}

	_, err = p.cards.ChargeForOrder(ctx, info.GiftCard, attempt.Amount, attempt.OrderRef)
	switch {
	case err == nil:
		attempt.State = payment.StateConfirmed
		return nil
	case errors.Is(err, ErrInvalidBalance):
		return payment.NewPaymentError("the gift card does not have sufficient credit for this operation")
	case errors.Is(err, ErrNotFound):
		return payment.NewPaymentError("the gift card could not be found")
	case errors.Is(err, ErrCardInactive):
		return payment.NewPaymentError("this gift card is no longer valid")
	case errors.Is(err, ErrCardExpired):
		return payment.NewPaymentError("this gift card has expired")
	case errors.Is(err, ErrInvalidValue):
		return payment.NewPaymentError("invalid payment amount")
	default:
		log.Error().Err(err).
			Str("attempt_id", attempt.ID.String()).
			Str("card_id", info.GiftCard.String()).
			Msg("Gift card charge failed")
		return err
	}
}
