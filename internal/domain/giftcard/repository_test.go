package giftcard

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventix/giftcard-api/internal/domain/audit"
)

const (
	lockQuery    = "FROM gift_cards WHERE id = $1 FOR UPDATE"
	balanceQuery = "SELECT COALESCE(SUM(value), 0) FROM giftcard_transactions WHERE card_id = $1"
	appendQuery  = "INSERT INTO giftcard_transactions"
)

var cardRowColumns = []string{"id", "issuer_id", "currency", "secret", "active", "expires", "conditions", "created_at", "updated_at"}

func newMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(sqlx.NewDb(db, "postgres")), mock
}

func cardRow(id, issuer uuid.UUID, active bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(cardRowColumns).
		AddRow(id.String(), issuer.String(), "EUR", "SECRET-1", active, nil, nil, now, now)
}

func balanceRow(value string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"coalesce"}).AddRow(value)
}

func TestRepositoryApplyDeltaLocksReadsAndAppends(t *testing.T) {
	repo, mock := newMockRepository(t)
	writer := audit.NewMemoryWriter()
	svc := NewService(repo, audit.NewService(writer), nil)
	cardID, issuer := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
		WithArgs(cardID.String()).
		WillReturnRows(cardRow(cardID, issuer, true))
	mock.ExpectQuery(regexp.QuoteMeta(balanceQuery)).
		WithArgs(cardID.String()).
		WillReturnRows(balanceRow("15.00"))
	mock.ExpectExec(regexp.QuoteMeta(appendQuery)).
		WithArgs(sqlmock.AnyArg(), cardID.String(), "-5", "till", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := svc.ApplyDelta(context.Background(), uuid.New(), issuer, cardID, decimal.RequireFromString("-5.00"), "till")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("-5").Equal(tx.Value))
	assert.Equal(t, []string{ActionTransactionManual}, writer.Actions())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryApplyDeltaCommitsAfterCallerCancels(t *testing.T) {
	repo, mock := newMockRepository(t)
	writer := audit.NewMemoryWriter()
	svc := NewService(repo, audit.NewService(writer), nil)
	cardID, issuer := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
		WithArgs(cardID.String()).
		WillReturnRows(cardRow(cardID, issuer, true))
	mock.ExpectQuery(regexp.QuoteMeta(balanceQuery)).
		WithArgs(cardID.String()).
		WillReturnRows(balanceRow("1.00"))
	mock.ExpectExec(regexp.QuoteMeta(appendQuery)).
		WithArgs(sqlmock.AnyArg(), cardID.String(), "2", nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tx, err := svc.ApplyDelta(ctx, uuid.New(), issuer, cardID, decimal.RequireFromString("2.00"), "")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("2").Equal(tx.Value))
	assert.Equal(t, []string{ActionTransactionManual}, writer.Actions())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryApplyDeltaRejectedRollsBack(t *testing.T) {
	repo, mock := newMockRepository(t)
	writer := audit.NewMemoryWriter()
	svc := NewService(repo, audit.NewService(writer), nil)
	cardID, issuer := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
		WillReturnRows(cardRow(cardID, issuer, true))
	mock.ExpectQuery(regexp.QuoteMeta(balanceQuery)).
		WillReturnRows(balanceRow("15.00"))
	mock.ExpectRollback()

	_, err := svc.ApplyDelta(context.Background(), uuid.New(), issuer, cardID, decimal.RequireFromString("-20"), "")
	assert.ErrorIs(t, err, ErrInvalidBalance)
	assert.Empty(t, writer.Actions())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryWithCardLockNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	called := false
	err := repo.WithCardLock(context.Background(), uuid.New(), func(context.Context, Ledger) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryWithCardLockBeginFails(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	err := repo.WithCardLock(context.Background(), uuid.New(), func(context.Context, Ledger) error { return nil })
	assert.ErrorIs(t, err, ErrStorage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryAppendForeignKeyViolation(t *testing.T) {
	repo, mock := newMockRepository(t)
	cardID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).WillReturnRows(cardRow(cardID, uuid.New(), true))
	mock.ExpectExec(regexp.QuoteMeta(appendQuery)).WillReturnError(&pq.Error{Code: pqForeignKeyViolation})
	mock.ExpectRollback()

	err := repo.WithCardLock(context.Background(), cardID, func(ctx context.Context, l Ledger) error {
		_, err := l.Append(context.Background(), decimal.NewFromInt(1), nil, nil)
		return err
	})
	assert.ErrorIs(t, err, ErrStorage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCreateCardDuplicateSecret(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO gift_cards")).WillReturnError(&pq.Error{Code: pqUniqueViolation})
	mock.ExpectRollback()

	card := &GiftCard{ID: uuid.New(), IssuerID: uuid.New(), Currency: "EUR", Secret: "DUP", Active: true}
	err := repo.CreateCard(context.Background(), card, func(context.Context, Ledger) error { return nil })
	assert.ErrorIs(t, err, ErrDuplicateSecret)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCreateCardWritesInitialTransaction(t *testing.T) {
	repo, mock := newMockRepository(t)
	card := &GiftCard{ID: uuid.New(), IssuerID: uuid.New(), Currency: "EUR", Secret: "NEW", Active: true}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO gift_cards")).
		WithArgs(card.ID.String(), card.IssuerID.String(), "EUR", "NEW", true, nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta(balanceQuery)).WillReturnRows(balanceRow("0"))
	mock.ExpectExec(regexp.QuoteMeta(appendQuery)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.CreateCard(context.Background(), card, func(ctx context.Context, l Ledger) error {
		_, err := appendChecked(context.Background(), l, decimal.NewFromInt(25), nil, nil)
		return err
	})
	require.NoError(t, err)
	assert.False(t, card.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryUpdateCardDuplicateSecret(t *testing.T) {
	repo, mock := newMockRepository(t)
	cardID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).WillReturnRows(cardRow(cardID, uuid.New(), true))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE gift_cards")).WillReturnError(&pq.Error{Code: pqUniqueViolation})
	mock.ExpectRollback()

	err := repo.WithCardLock(context.Background(), cardID, func(ctx context.Context, l Ledger) error {
		card := *l.Card()
		card.Secret = "TAKEN"
		return l.UpdateCard(context.Background(), &card)
	})
	assert.ErrorIs(t, err, ErrDuplicateSecret)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryFindTransaction(t *testing.T) {
	repo, mock := newMockRepository(t)
	cardID, txID := uuid.New(), uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM giftcard_transactions WHERE card_id = $1 AND id = $2")).
		WithArgs(cardID.String(), txID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "card_id", "value", "memo", "order_ref", "created_at"}).
			AddRow(txID.String(), cardID.String(), "8.00", nil, "ORD1", time.Now()))

	tx, err := repo.FindTransaction(context.Background(), cardID, txID)
	require.NoError(t, err)
	assert.True(t, tx.Reversible())
	assert.Equal(t, "ORD1", *tx.OrderRef)

	mock.ExpectQuery(regexp.QuoteMeta("FROM giftcard_transactions WHERE card_id = $1 AND id = $2")).
		WillReturnError(sql.ErrNoRows)
	_, err = repo.FindTransaction(context.Background(), cardID, txID)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryListCardsBuildsFilters(t *testing.T) {
	repo, mock := newMockRepository(t)
	issuer := uuid.New()
	cardID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM gift_cards c WHERE c.issuer_id = $1 AND c.secret ILIKE $2 AND c.active")).
		WithArgs(issuer.String(), `%50\%%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY c.created_at DESC, c.id")).
		WithArgs(issuer.String(), `%50\%%`, 50, 0).
		WillReturnRows(sqlmock.NewRows(append(cardRowColumns, "balance")).
			AddRow(cardID.String(), issuer.String(), "EUR", "X50%_Y", true, nil, nil, now, now, "12.50"))

	cards, total, err := repo.ListCards(context.Background(), ListFilter{
		IssuerID: issuer,
		Query:    "50%",
		State:    CardStateActive,
		Limit:    50,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, cards, 1)
	assert.True(t, decimal.RequireFromString("12.5").Equal(cards[0].Balance))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryAcceptances(t *testing.T) {
	repo, mock := newMockRepository(t)
	org, issuer := uuid.New(), uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO giftcard_acceptances")).
		WithArgs(org.String(), issuer.String(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	added, err := repo.AddAcceptance(context.Background(), org, issuer)
	require.NoError(t, err)
	assert.False(t, added)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM giftcard_acceptances")).
		WithArgs(org.String(), issuer.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	removed, err := repo.RemoveAcceptance(context.Background(), org, issuer)
	require.NoError(t, err)
	assert.True(t, removed)

	assert.NoError(t, mock.ExpectationsWereMet())
}
