package payment

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name  string
	err   error
	state State
	calls int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Execute(_ context.Context, a *Attempt) error {
	p.calls++
	if p.err != nil {
		return p.err
	}
	if p.state != "" {
		a.State = p.state
	}
	return nil
}

func newTestService(providers ...Provider) (*Service, *MemoryRepository) {
	repo := NewMemoryRepository()
	factory := NewProviderFactory()
	for _, p := range providers {
		factory.Register(p)
	}
	return NewService(repo, factory), repo
}

func createAttempt(t *testing.T, svc *Service, orderRef, provider string) *Attempt {
	t.Helper()
	a, err := svc.CreateAttempt(context.Background(), CreateAttemptRequest{
		OrderRef: orderRef,
		Amount:   decimal.RequireFromString("10.00"),
		Currency: "EUR",
		Provider: provider,
		Info:     GiftCardInfo{GiftCard: uuid.New(), Retry: true},
	})
	require.NoError(t, err)
	return a
}

func TestCreateAttemptAssignsLocalIDPerOrder(t *testing.T) {
	svc, _ := newTestService()

	a1 := createAttempt(t, svc, "ORD1", ProviderGiftCard)
	a2 := createAttempt(t, svc, "ORD1", ProviderGiftCard)
	b1 := createAttempt(t, svc, "ORD2", ProviderGiftCard)

	assert.Equal(t, 1, a1.LocalID)
	assert.Equal(t, 2, a2.LocalID)
	assert.Equal(t, 1, b1.LocalID)
	assert.Equal(t, StateCreated, a1.State)

	info, err := a1.GiftCardInfo()
	require.NoError(t, err)
	assert.True(t, info.Retry)
}

func TestCreateAttemptValidates(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.CreateAttempt(ctx, CreateAttemptRequest{Amount: decimal.NewFromInt(1), Provider: "x"})
	assert.ErrorIs(t, err, ErrInvalidAttempt)

	_, err = svc.CreateAttempt(ctx, CreateAttemptRequest{OrderRef: "O", Amount: decimal.Zero, Provider: "x"})
	assert.ErrorIs(t, err, ErrInvalidAttempt)

	_, err = svc.CreateAttempt(ctx, CreateAttemptRequest{OrderRef: "O", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrInvalidAttempt)

	_, err = svc.CreateAttempt(ctx, CreateAttemptRequest{OrderRef: strings.Repeat("O", MaxOrderRefLength+1), Amount: decimal.NewFromInt(1), Provider: "x"})
	assert.ErrorIs(t, err, ErrInvalidAttempt)
}

func TestExecuteConfirms(t *testing.T) {
	provider := &stubProvider{name: ProviderGiftCard, state: StateConfirmed}
	svc, repo := newTestService(provider)
	a := createAttempt(t, svc, "ORD1", ProviderGiftCard)

	require.NoError(t, svc.Execute(context.Background(), a))

	stored, err := repo.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, stored.State)
}

func TestExecuteMovesUntouchedAttemptToPending(t *testing.T) {
	svc, repo := newTestService(&stubProvider{name: "manual"})
	a := createAttempt(t, svc, "ORD1", "manual")

	require.NoError(t, svc.Execute(context.Background(), a))

	stored, _ := repo.GetByID(context.Background(), a.ID)
	assert.Equal(t, StatePending, stored.State)
}

func TestExecuteReturnsProviderPaymentError(t *testing.T) {
	provider := &stubProvider{name: ProviderGiftCard, err: NewPaymentError("card declined")}
	svc, repo := newTestService(provider)
	a := createAttempt(t, svc, "ORD1", ProviderGiftCard)

	err := svc.Execute(context.Background(), a)

	var perr *PaymentError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "card declined", perr.Message)

	stored, _ := repo.GetByID(context.Background(), a.ID)
	assert.Equal(t, StateCreated, stored.State, "failed execution is marked by the caller")
}

func TestExecuteWrapsUnexpectedProviderError(t *testing.T) {
	svc, _ := newTestService(&stubProvider{name: ProviderGiftCard, err: errors.New("connection reset")})
	a := createAttempt(t, svc, "ORD1", ProviderGiftCard)

	var perr *PaymentError
	require.True(t, errors.As(svc.Execute(context.Background(), a), &perr))
	assert.NotContains(t, perr.Message, "connection reset")
}

func TestExecuteUnknownProvider(t *testing.T) {
	svc, _ := newTestService()
	a := createAttempt(t, svc, "ORD1", "stripe")

	var perr *PaymentError
	require.True(t, errors.As(svc.Execute(context.Background(), a), &perr))
}

func TestExecuteRefusesClosedAttempt(t *testing.T) {
	provider := &stubProvider{name: ProviderGiftCard}
	svc, _ := newTestService(provider)
	a := createAttempt(t, svc, "ORD1", ProviderGiftCard)
	require.NoError(t, svc.MarkFailed(context.Background(), a))

	assert.ErrorIs(t, svc.Execute(context.Background(), a), ErrAttemptClosed)
	assert.Zero(t, provider.calls)
}

func TestMarkFailedIsTerminal(t *testing.T) {
	svc, _ := newTestService()
	a := createAttempt(t, svc, "ORD1", ProviderGiftCard)

	require.NoError(t, svc.MarkFailed(context.Background(), a))
	assert.Equal(t, StateFailed, a.State)

	assert.ErrorIs(t, svc.MarkFailed(context.Background(), a), ErrAttemptClosed)
}

func TestListAttempts(t *testing.T) {
	svc, _ := newTestService()
	createAttempt(t, svc, "ORD1", ProviderGiftCard)
	createAttempt(t, svc, "ORD1", ProviderGiftCard)
	createAttempt(t, svc, "ORD2", ProviderGiftCard)

	attempts, err := svc.ListAttempts(context.Background(), "ORD1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, 1, attempts[0].LocalID)
	assert.Equal(t, 2, attempts[1].LocalID)
}

func TestProviderFactory(t *testing.T) {
	f := NewProviderFactory()
	f.Register(&stubProvider{name: "b"})
	f.Register(&stubProvider{name: "a"})

	assert.Equal(t, []string{"a", "b"}, f.List())

	_, err := f.Get("c")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}
