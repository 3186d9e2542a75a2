package giftcard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/eventix/giftcard-api/internal/domain/audit"
	"github.com/eventix/giftcard-api/internal/domain/payment"
)

// Audit actions
const (
	ActionTransactionManual   = "giftcard.transaction.manual"
	ActionTransactionPayment  = "giftcard.transaction.payment"
	ActionTransactionRefund   = "giftcard.transaction.refund"
	ActionTransactionReversed = "giftcard.transaction.reversed"
	ActionCreated             = "giftcard.created"
	ActionModified            = "giftcard.modified"
	ActionDeactivated         = "giftcard.deactivated"
	ActionAcceptanceAdded     = "giftcard.acceptance.added"
	ActionAcceptanceRemoved   = "giftcard.acceptance.removed"
	ActionOrderPaymentFailed  = "order.payment.failed"
)

const (
	entityGiftCard  = "giftcard"
	entityOrder     = "order"
	entityOrganizer = "organizer"

	DefaultPageSize = 50
	maxPageSize     = 200

	defaultLockTimeout    = 5 * time.Second
	defaultPaymentTimeout = 30 * time.Second
	generatedSecretTries  = 3
)

// AuditSink receives a record of every successful mutation.
type AuditSink interface {
	Record(ctx context.Context, e audit.Entry)
}

// PaymentGateway is the part of the payment subsystem the reversal flow
// drives. *payment.Service implements it.
type PaymentGateway interface {
	CreateAttempt(ctx context.Context, req payment.CreateAttemptRequest) (*payment.Attempt, error)
	Execute(ctx context.Context, attempt *payment.Attempt) error
	MarkFailed(ctx context.Context, attempt *payment.Attempt) error
}

// Service owns the per-card balance invariant: every balance-affecting write
// happens under the card lock after checking that the balance stays
// non-negative.
type Service struct {
	store          Store
	audit          AuditSink
	payments       PaymentGateway
	cache          BalanceCache
	lockTimeout    time.Duration
	paymentTimeout time.Duration
	secretLength   int
	now            func() time.Time
}

// Option configures the service
type Option func(*Service)

// WithBalanceCache enables cache-aside balance reads
func WithBalanceCache(cache BalanceCache) Option {
	return func(s *Service) { s.cache = cache }
}

// WithLockTimeout bounds every locked section
func WithLockTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithPaymentTimeout bounds the payment step of a reversal
func WithPaymentTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.paymentTimeout = d
		}
	}
}

// WithSecretLength sets the length of generated secrets
func WithSecretLength(n int) Option {
	return func(s *Service) { s.secretLength = n }
}

// WithClock overrides the time source used for expiry checks
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates gift card service
func NewService(store Store, auditSink AuditSink, payments PaymentGateway, opts ...Option) *Service {
	s := &Service{
		store:          store,
		audit:          auditSink,
		payments:       payments,
		lockTimeout:    defaultLockTimeout,
		paymentTimeout: defaultPaymentTimeout,
		secretLength:   DefaultSecretLength,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reversal describes how far a reversal request got.
type Reversal struct {
	State       ReversalState    `json:"state"`
	Transaction *Transaction     `json:"transaction,omitempty"`
	Attempt     *payment.Attempt `json:"attempt,omitempty"`
}

// CardDetail is a card with its derived balance and history
type CardDetail struct {
	Card         *GiftCard
	Balance      decimal.Decimal
	Transactions []Transaction
}

// withCard runs fn with the card locked. The locked section is detached from
// the caller's cancellation so it either commits or rolls back as a whole.
// issuerID scopes the card to one organizer; uuid.Nil skips the check.
func (s *Service) withCard(ctx context.Context, issuerID, cardID uuid.UUID, fn func(context.Context, Ledger) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.lockTimeout)
	defer cancel()

	return s.store.WithCardLock(ctx, cardID, func(ctx context.Context, l Ledger) error {
		if issuerID != uuid.Nil && l.Card().IssuerID != issuerID {
			return ErrNotFound
		}
		return fn(ctx, l)
	})
}

// appendChecked appends value unless the card's balance would go negative.
// Must run inside a locked section.
func appendChecked(ctx context.Context, l Ledger, value decimal.Decimal, memo, orderRef *string) (*Transaction, error) {
	current, err := l.Balance(ctx)
	if err != nil {
		return nil, err
	}
	if current.Add(value).IsNegative() {
		return nil, ErrInvalidBalance
	}
	return l.Append(ctx, value, memo, orderRef)
}

func (s *Service) invalidateBalance(ctx context.Context, cardID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(context.WithoutCancel(ctx), cardID); err != nil {
		log.Warn().Err(err).Str("card_id", cardID.String()).Msg("Failed to invalidate cached balance")
	}
}

// orderReference trims and checks an order reference against the column width.
func orderReference(s string) (*string, error) {
	ref := optionalString(s)
	if ref == nil {
		return nil, fmt.Errorf("%w: order reference is required", ErrInvalidValue)
	}
	if len(*ref) > payment.MaxOrderRefLength {
		return nil, fmt.Errorf("%w: order reference is longer than %d characters", ErrInvalidValue, payment.MaxOrderRefLength)
	}
	return ref, nil
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// ApplyDelta adds a signed manual value to the card.
func (s *Service) ApplyDelta(ctx context.Context, actorID, issuerID, cardID uuid.UUID, value decimal.Decimal, memo string) (*Transaction, error) {
	memoPtr := optionalString(memo)

	var t *Transaction
	err := s.withCard(ctx, issuerID, cardID, func(ctx context.Context, l Ledger) error {
		var err error
		t, err = appendChecked(ctx, l, value.Round(CurrencyPlaces(l.Card().Currency)), memoPtr, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidateBalance(ctx, cardID)

	log.Info().
		Str("card_id", cardID.String()).
		Str("actor_id", actorID.String()).
		Str("value", t.Value.String()).
		Msg("Gift card transaction created")

	s.audit.Record(ctx, audit.Entry{
		Action:     ActionTransactionManual,
		ActorID:    actorID,
		EntityType: entityGiftCard,
		EntityID:   cardID.String(),
		Data:       map[string]interface{}{"value": t.Value.String(), "memo": memoPtr},
	})
	return t, nil
}

// CreateCard issues a card and writes its initial transaction in one unit.
// A negative initial value fails the whole creation.
func (s *Service) CreateCard(ctx context.Context, actorID, issuerID uuid.UUID, in CreateCardInput) (*GiftCard, error) {
	currency, err := NormalizeCurrency(in.Currency)
	if err != nil {
		return nil, err
	}
	initial := in.InitialValue.Round(CurrencyPlaces(currency))
	if initial.IsNegative() {
		return nil, ErrInvalidBalance
	}

	secret := strings.TrimSpace(in.Secret)
	generated := secret == ""

	var card *GiftCard
	for try := 0; ; try++ {
		if generated {
			if secret, err = GenerateSecret(s.secretLength); err != nil {
				return nil, fmt.Errorf("generate secret: %w", err)
			}
		}
		card = &GiftCard{
			ID:         uuid.New(),
			IssuerID:   issuerID,
			Currency:   currency,
			Secret:     secret,
			Active:     true,
			Expires:    in.Expires,
			Conditions: in.Conditions,
		}
		err = s.createCard(ctx, card, initial)
		if errors.Is(err, ErrDuplicateSecret) && generated && try+1 < generatedSecretTries {
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("card_id", card.ID.String()).
		Str("issuer_id", issuerID.String()).
		Str("actor_id", actorID.String()).
		Str("value", initial.String()).
		Msg("Gift card created")

	data := map[string]interface{}{
		"secret":     card.Secret,
		"currency":   card.Currency,
		"value":      initial.String(),
		"conditions": card.Conditions,
	}
	if card.Expires != nil {
		data["expires"] = card.Expires.UTC().Format(time.RFC3339)
	}
	s.audit.Record(ctx, audit.Entry{
		Action:     ActionCreated,
		ActorID:    actorID,
		EntityType: entityGiftCard,
		EntityID:   card.ID.String(),
		Data:       data,
	})
	if !initial.IsZero() {
		s.audit.Record(ctx, audit.Entry{
			Action:     ActionTransactionManual,
			ActorID:    actorID,
			EntityType: entityGiftCard,
			EntityID:   card.ID.String(),
			Data:       map[string]interface{}{"value": initial.String(), "memo": nil},
		})
	}
	return card, nil
}

func (s *Service) createCard(ctx context.Context, card *GiftCard, initial decimal.Decimal) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.lockTimeout)
	defer cancel()

	return s.store.CreateCard(ctx, card, func(ctx context.Context, l Ledger) error {
		_, err := appendChecked(ctx, l, initial, nil, nil)
		return err
	})
}

// UpdateMetadata changes administrative fields under the card lock. An
// update without fields is a no-op.
func (s *Service) UpdateMetadata(ctx context.Context, actorID, issuerID, cardID uuid.UUID, upd MetadataUpdate) (*GiftCard, error) {
	if upd.Secret != nil {
		trimmed := strings.TrimSpace(*upd.Secret)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: secret must not be empty", ErrInvalidValue)
		}
		upd.Secret = &trimmed
	}
	fields := upd.Fields()
	if len(fields) == 0 {
		return s.GetCard(ctx, issuerID, cardID)
	}

	var updated *GiftCard
	err := s.withCard(ctx, issuerID, cardID, func(ctx context.Context, l Ledger) error {
		card := *l.Card()
		if upd.Secret != nil {
			card.Secret = *upd.Secret
		}
		if upd.ClearExpires {
			card.Expires = nil
		} else if upd.Expires != nil {
			card.Expires = upd.Expires
		}
		if upd.Conditions != nil {
			card.Conditions = optionalString(*upd.Conditions)
		}
		if err := l.UpdateCard(ctx, &card); err != nil {
			return err
		}
		updated = &card
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		Action:     ActionModified,
		ActorID:    actorID,
		EntityType: entityGiftCard,
		EntityID:   cardID.String(),
		Data:       fields,
	})
	return updated, nil
}

// Deactivate marks the card inactive. Deactivating an inactive card is a
// no-op and is not audited.
func (s *Service) Deactivate(ctx context.Context, actorID, issuerID, cardID uuid.UUID) (*GiftCard, error) {
	var (
		result  *GiftCard
		changed bool
	)
	err := s.withCard(ctx, issuerID, cardID, func(ctx context.Context, l Ledger) error {
		card := *l.Card()
		if !card.Active {
			result = &card
			return nil
		}
		card.Active = false
		if err := l.UpdateCard(ctx, &card); err != nil {
			return err
		}
		result, changed = &card, true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		log.Info().Str("card_id", cardID.String()).Str("actor_id", actorID.String()).Msg("Gift card deactivated")
		s.audit.Record(ctx, audit.Entry{
			Action:     ActionDeactivated,
			ActorID:    actorID,
			EntityType: entityGiftCard,
			EntityID:   cardID.String(),
			Data:       map[string]interface{}{"active": false},
		})
	}
	return result, nil
}

// ChargeForOrder takes amount off the card for an order payment.
func (s *Service) ChargeForOrder(ctx context.Context, cardID uuid.UUID, amount decimal.Decimal, orderRef string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: charge must be positive", ErrInvalidValue)
	}
	ref, err := orderReference(orderRef)
	if err != nil {
		return nil, err
	}

	var t *Transaction
	err = s.withCard(ctx, uuid.Nil, cardID, func(ctx context.Context, l Ledger) error {
		card := l.Card()
		if !card.Active {
			return ErrCardInactive
		}
		if card.IsExpired(s.now()) {
			return ErrCardExpired
		}
		var err error
		t, err = appendChecked(ctx, l, amount.Round(CurrencyPlaces(card.Currency)).Neg(), nil, ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidateBalance(ctx, cardID)

	log.Info().
		Str("card_id", cardID.String()).
		Str("order_ref", *ref).
		Str("value", t.Value.String()).
		Msg("Gift card charged for order")

	s.audit.Record(ctx, audit.Entry{
		Action:     ActionTransactionPayment,
		EntityType: entityGiftCard,
		EntityID:   cardID.String(),
		Data:       map[string]interface{}{"value": t.Value.String(), "order_ref": *ref},
	})
	return t, nil
}

// CreditForOrder puts amount onto the card as an order refund. The resulting
// transaction carries the order reference and can later be reversed.
func (s *Service) CreditForOrder(ctx context.Context, cardID uuid.UUID, amount decimal.Decimal, orderRef string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: refund must be positive", ErrInvalidValue)
	}
	ref, err := orderReference(orderRef)
	if err != nil {
		return nil, err
	}

	var t *Transaction
	err = s.withCard(ctx, uuid.Nil, cardID, func(ctx context.Context, l Ledger) error {
		var err error
		t, err = l.Append(ctx, amount.Round(CurrencyPlaces(l.Card().Currency)), nil, ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidateBalance(ctx, cardID)

	s.audit.Record(ctx, audit.Entry{
		Action:     ActionTransactionRefund,
		EntityType: entityGiftCard,
		EntityID:   cardID.String(),
		Data:       map[string]interface{}{"value": t.Value.String(), "order_ref": *ref},
	})
	return t, nil
}

// ReverseTransaction gives an order-linked credit back through a new payment
// attempt. The card lock is held only while checking eligibility; the payment
// itself runs unlocked and the provider takes its own lock to charge the card.
//
// The returned Reversal reports the state reached and is non-nil whenever the
// transaction was found, including on Rejected and Failed.
func (s *Service) ReverseTransaction(ctx context.Context, actorID, issuerID, cardID, txID uuid.UUID) (*Reversal, error) {
	rev := &Reversal{State: ReversalRequested}

	var currency string
	err := s.withCard(ctx, issuerID, cardID, func(ctx context.Context, l Ledger) error {
		t, err := l.FindTransaction(ctx, txID)
		if err != nil {
			return err
		}
		rev.Transaction = t
		if !t.Reversible() {
			return ErrPrecondition
		}
		current, err := l.Balance(ctx)
		if err != nil {
			return err
		}
		if current.Sub(t.Value).IsNegative() {
			return ErrInvalidBalance
		}
		currency = l.Card().Currency
		return nil
	})
	if err != nil {
		if rev.Transaction == nil {
			return nil, err
		}
		rev.State = ReversalRejected
		return rev, err
	}

	t := rev.Transaction
	attempt, err := s.payments.CreateAttempt(ctx, payment.CreateAttemptRequest{
		OrderRef: *t.OrderRef,
		Amount:   t.Value,
		Currency: currency,
		Provider: payment.ProviderGiftCard,
		Info:     payment.GiftCardInfo{GiftCard: cardID, Retry: true},
	})
	if err != nil {
		return nil, fmt.Errorf("create payment attempt: %w", err)
	}
	rev.State, rev.Attempt = ReversalAttempting, attempt

	payCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.paymentTimeout)
	defer cancel()

	if err := s.payments.Execute(payCtx, attempt); err != nil {
		var perr *payment.PaymentError
		if !errors.As(err, &perr) {
			// The outcome is unknown; the attempt stays open for an operator.
			log.Error().Err(err).
				Str("attempt_id", attempt.ID.String()).
				Str("card_id", cardID.String()).
				Msg("Gift card reversal outcome not recorded")
			return rev, err
		}
		return s.failReversal(ctx, actorID, rev, perr)
	}

	rev.State = ReversalReversed
	log.Info().
		Str("card_id", cardID.String()).
		Str("transaction_id", txID.String()).
		Str("attempt_id", attempt.ID.String()).
		Msg("Gift card transaction reversed")

	s.audit.Record(ctx, audit.Entry{
		Action:     ActionTransactionReversed,
		ActorID:    actorID,
		EntityType: entityGiftCard,
		EntityID:   cardID.String(),
		Data: map[string]interface{}{
			"transaction": txID.String(),
			"order_ref":   *t.OrderRef,
			"value":       t.Value.String(),
			"local_id":    attempt.LocalID,
		},
	})
	return rev, nil
}

func (s *Service) failReversal(ctx context.Context, actorID uuid.UUID, rev *Reversal, perr *payment.PaymentError) (*Reversal, error) {
	attempt := rev.Attempt
	if err := s.payments.MarkFailed(context.WithoutCancel(ctx), attempt); err != nil {
		log.Error().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Failed to mark payment attempt as failed")
	}
	rev.State = ReversalFailed

	s.audit.Record(ctx, audit.Entry{
		Action:     ActionOrderPaymentFailed,
		ActorID:    actorID,
		EntityType: entityOrder,
		EntityID:   attempt.OrderRef,
		Data: map[string]interface{}{
			"local_id": attempt.LocalID,
			"provider": attempt.Provider,
			"error":    perr.Message,
		},
	})
	return rev, fmt.Errorf("%w: %s", ErrPaymentFailed, perr.Message)
}

// GetCard returns a card of the issuer
func (s *Service) GetCard(ctx context.Context, issuerID, cardID uuid.UUID) (*GiftCard, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card.IssuerID != issuerID {
		return nil, ErrNotFound
	}
	return card, nil
}

// Balance returns the card's balance for display, from cache when possible.
func (s *Service) Balance(ctx context.Context, cardID uuid.UUID) (decimal.Decimal, error) {
	if s.cache != nil {
		balance, ok, err := s.cache.Get(ctx, cardID)
		if err != nil {
			log.Warn().Err(err).Str("card_id", cardID.String()).Msg("Balance cache read failed")
		} else if ok {
			return balance, nil
		}
	}

	balance, err := s.store.Balance(ctx, cardID)
	if err != nil {
		return decimal.Zero, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cardID, balance); err != nil {
			log.Warn().Err(err).Str("card_id", cardID.String()).Msg("Balance cache write failed")
		}
	}
	return balance, nil
}

// CardDetail returns a card with balance and transactions
func (s *Service) CardDetail(ctx context.Context, issuerID, cardID uuid.UUID) (*CardDetail, error) {
	card, err := s.GetCard(ctx, issuerID, cardID)
	if err != nil {
		return nil, err
	}
	txs, err := s.store.ListTransactions(ctx, cardID)
	if err != nil {
		return nil, err
	}
	balance, err := s.Balance(ctx, cardID)
	if err != nil {
		return nil, err
	}
	return &CardDetail{Card: card, Balance: balance, Transactions: txs}, nil
}

// ListCards returns the issuer's cards, newest first
func (s *Service) ListCards(ctx context.Context, filter ListFilter) ([]CardWithBalance, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.ListCards(ctx, filter)
}

// ListTransactions returns the card's transactions in creation order
func (s *Service) ListTransactions(ctx context.Context, issuerID, cardID uuid.UUID) ([]Transaction, error) {
	if _, err := s.GetCard(ctx, issuerID, cardID); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, cardID)
}

// AcceptIssuer lets organizerID accept cards issued by issuerID
func (s *Service) AcceptIssuer(ctx context.Context, actorID, organizerID, issuerID uuid.UUID) error {
	if organizerID == issuerID {
		return ErrSelfAcceptance
	}
	added, err := s.store.AddAcceptance(ctx, organizerID, issuerID)
	if err != nil {
		return err
	}
	if added {
		s.audit.Record(ctx, audit.Entry{
			Action:     ActionAcceptanceAdded,
			ActorID:    actorID,
			EntityType: entityOrganizer,
			EntityID:   organizerID.String(),
			Data:       map[string]interface{}{"issuer": issuerID.String()},
		})
	}
	return nil
}

// RevokeIssuer stops accepting cards from issuerID
func (s *Service) RevokeIssuer(ctx context.Context, actorID, organizerID, issuerID uuid.UUID) error {
	removed, err := s.store.RemoveAcceptance(ctx, organizerID, issuerID)
	if err != nil {
		return err
	}
	if removed {
		s.audit.Record(ctx, audit.Entry{
			Action:     ActionAcceptanceRemoved,
			ActorID:    actorID,
			EntityType: entityOrganizer,
			EntityID:   organizerID.String(),
			Data:       map[string]interface{}{"issuer": issuerID.String()},
		})
	}
	return nil
}

// ListAcceptedIssuers returns the issuers organizerID accepts
func (s *Service) ListAcceptedIssuers(ctx context.Context, organizerID uuid.UUID) ([]Acceptance, error) {
	return s.store.ListAcceptances(ctx, organizerID)
}
