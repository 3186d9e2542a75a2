package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Service handles payment attempt business logic
type Service struct {
	repo      Repository
	providers *ProviderFactory
	now       func() time.Time
}

// NewService creates a new payment service
func NewService(repo Repository, providers *ProviderFactory) *Service {
	return &Service{
		repo:      repo,
		providers: providers,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Providers returns the provider registry so callers can register providers
// that depend on services built after this one.
func (s *Service) Providers() *ProviderFactory {
	return s.providers
}

// CreateAttempt stores a new attempt in state created.
func (s *Service) CreateAttempt(ctx context.Context, req CreateAttemptRequest) (*Attempt, error) {
	orderRef := strings.TrimSpace(req.OrderRef)
	if orderRef == "" {
		return nil, fmt.Errorf("%w: order reference is required", ErrInvalidAttempt)
	}
	if len(orderRef) > MaxOrderRefLength {
		return nil, fmt.Errorf("%w: order reference is longer than %d characters", ErrInvalidAttempt, MaxOrderRefLength)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidAttempt)
	}
	if req.Provider == "" {
		return nil, fmt.Errorf("%w: provider is required", ErrInvalidAttempt)
	}

	var info JSONRawMessage
	if req.Info != nil {
		raw, err := json.Marshal(req.Info)
		if err != nil {
			return nil, fmt.Errorf("%w: encode info: %v", ErrInvalidAttempt, err)
		}
		info = raw
	}

	attempt := &Attempt{
		ID:        uuid.New(),
		OrderRef:  orderRef,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Provider:  req.Provider,
		State:     StateCreated,
		Info:      info,
		CreatedAt: s.now(),
	}
	if err := s.repo.Create(ctx, attempt); err != nil {
		return nil, err
	}

	log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("order_ref", attempt.OrderRef).
		Int("local_id", attempt.LocalID).
		Str("provider", attempt.Provider).
		Str("amount", attempt.Amount.String()).
		Msg("payment attempt created")

	return attempt, nil
}

// Execute runs the attempt through its provider. Any failure to move money is
// returned as a *PaymentError; other errors mean the outcome could not be
// recorded. The caller decides whether to mark a failed attempt.
func (s *Service) Execute(ctx context.Context, attempt *Attempt) error {
	if attempt.State.Terminal() {
		return ErrAttemptClosed
	}

	provider, err := s.providers.Get(attempt.Provider)
	if err != nil {
		log.Error().Err(err).Str("attempt_id", attempt.ID.String()).Msg("payment provider missing")
		return NewPaymentError("payment method %q is not available", attempt.Provider)
	}

	if err := provider.Execute(ctx, attempt); err != nil {
		var perr *PaymentError
		if errors.As(err, &perr) {
			return perr
		}
		log.Error().Err(err).
			Str("attempt_id", attempt.ID.String()).
			Str("provider", attempt.Provider).
			Msg("payment provider error")
		return NewPaymentError("payment could not be processed")
	}

	if attempt.State == StateCreated {
		attempt.State = StatePending
	}
	if err := s.repo.UpdateState(ctx, attempt.ID, attempt.State); err != nil {
		return fmt.Errorf("record attempt outcome: %w", err)
	}

	log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("state", string(attempt.State)).
		Msg("payment attempt executed")
	return nil
}

// MarkFailed closes the attempt as failed.
func (s *Service) MarkFailed(ctx context.Context, attempt *Attempt) error {
	if err := s.repo.UpdateState(ctx, attempt.ID, StateFailed); err != nil {
		return err
	}
	attempt.State = StateFailed
	return nil
}

// GetAttempt returns one attempt
func (s *Service) GetAttempt(ctx context.Context, id uuid.UUID) (*Attempt, error) {
	return s.repo.GetByID(ctx, id)
}

// ListAttempts returns the attempts of an order ordered by local id
func (s *Service) ListAttempts(ctx context.Context, orderRef string) ([]Attempt, error) {
	return s.repo.ListByOrder(ctx, orderRef)
}
