package giftcard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const (
	queryTimeout = 3 * time.Second

	cardColumns = `id, issuer_id, currency, secret, active, expires, conditions, created_at, updated_at`
	txColumns   = `id, card_id, value, memo, order_ref, created_at`

	// balanceExpr computes the derived balance of the card aliased as c.
	balanceExpr = `COALESCE((SELECT SUM(t.value) FROM giftcard_transactions t WHERE t.card_id = c.id), 0)`

	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Repository is the PostgreSQL Store. Card locks are row locks taken with
// SELECT ... FOR UPDATE and held until the surrounding transaction ends.
type Repository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewRepository creates gift card repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}

func isPQ(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}

func (r *Repository) CreateCard(ctx context.Context, card *GiftCard, fn func(context.Context, Ledger) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageErr("begin", err)
	}
	defer tx.Rollback()

	now := r.now()
	card.CreatedAt, card.UpdatedAt = now, now
	_, err = tx.ExecContext(ctx, `
		INSERT INTO gift_cards (`+cardColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, card.ID, card.IssuerID, card.Currency, card.Secret, card.Active, card.Expires, card.Conditions, card.CreatedAt, card.UpdatedAt)
	if err != nil {
		if isPQ(err, pqUniqueViolation) {
			return ErrDuplicateSecret
		}
		return storageErr("insert card", err)
	}

	if err := fn(ctx, &pgLedger{tx: tx, card: card, now: r.now}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

func (r *Repository) WithCardLock(ctx context.Context, cardID uuid.UUID, fn func(context.Context, Ledger) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageErr("begin", err)
	}
	defer tx.Rollback()

	var card GiftCard
	err = tx.GetContext(ctx, &card, `SELECT `+cardColumns+` FROM gift_cards WHERE id = $1 FOR UPDATE`, cardID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return storageErr("lock card", err)
	}

	if err := fn(ctx, &pgLedger{tx: tx, card: &card, now: r.now}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

func (r *Repository) GetCard(ctx context.Context, cardID uuid.UUID) (*GiftCard, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var card GiftCard
	if err := r.db.GetContext(ctx, &card, `SELECT `+cardColumns+` FROM gift_cards WHERE id = $1`, cardID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get card", err)
	}
	return &card, nil
}

func (r *Repository) Balance(ctx context.Context, cardID uuid.UUID) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var balance decimal.Decimal
	err := r.db.GetContext(ctx, &balance, `SELECT COALESCE(SUM(value), 0) FROM giftcard_transactions WHERE card_id = $1`, cardID)
	if err != nil {
		return decimal.Zero, storageErr("balance", err)
	}
	return balance, nil
}

func (r *Repository) ListCards(ctx context.Context, filter ListFilter) ([]CardWithBalance, int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	where := []string{"c.issuer_id = $1"}
	args := []interface{}{filter.IssuerID}
	argN := 2

	if q := strings.TrimSpace(filter.Query); q != "" {
		where = append(where, fmt.Sprintf("c.secret ILIKE $%d", argN))
		args = append(args, "%"+likeEscaper.Replace(q)+"%")
		argN++
	}

	switch filter.State {
	case CardStateActive:
		where = append(where, "c.active AND (c.expires IS NULL OR c.expires > NOW())")
	case CardStateInactive:
		where = append(where, "(NOT c.active OR c.expires <= NOW())")
	case CardStateEmpty:
		where = append(where, balanceExpr+" = 0")
	case CardStateValued:
		where = append(where, balanceExpr+" > 0")
	}

	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM gift_cards c WHERE `+whereSQL, args...); err != nil {
		return nil, 0, storageErr("count cards", err)
	}

	query := fmt.Sprintf(`
		SELECT c.id, c.issuer_id, c.currency, c.secret, c.active, c.expires, c.conditions, c.created_at, c.updated_at,
			%s AS balance
		FROM gift_cards c
		WHERE %s
		ORDER BY c.created_at DESC, c.id
		LIMIT $%d OFFSET $%d
	`, balanceExpr, whereSQL, argN, argN+1)
	args = append(args, filter.Limit, filter.Offset)

	cards := []CardWithBalance{}
	if err := r.db.SelectContext(ctx, &cards, query, args...); err != nil {
		return nil, 0, storageErr("list cards", err)
	}
	return cards, total, nil
}

func (r *Repository) ListTransactions(ctx context.Context, cardID uuid.UUID) ([]Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	txs := []Transaction{}
	err := r.db.SelectContext(ctx, &txs, `SELECT `+txColumns+` FROM giftcard_transactions WHERE card_id = $1 ORDER BY seq`, cardID)
	if err != nil {
		return nil, storageErr("list transactions", err)
	}
	return txs, nil
}

func (r *Repository) FindTransaction(ctx context.Context, cardID, txID uuid.UUID) (*Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	return findTransaction(ctx, r.db, cardID, txID)
}

func (r *Repository) AddAcceptance(ctx context.Context, organizerID, issuerID uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO giftcard_acceptances (organizer_id, issuer_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (organizer_id, issuer_id) DO NOTHING
	`, organizerID, issuerID, r.now())
	if err != nil {
		return false, storageErr("add acceptance", err)
	}
	return affected(res, "add acceptance")
}

func (r *Repository) RemoveAcceptance(ctx context.Context, organizerID, issuerID uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM giftcard_acceptances WHERE organizer_id = $1 AND issuer_id = $2`, organizerID, issuerID)
	if err != nil {
		return false, storageErr("remove acceptance", err)
	}
	return affected(res, "remove acceptance")
}

func (r *Repository) ListAcceptances(ctx context.Context, organizerID uuid.UUID) ([]Acceptance, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	out := []Acceptance{}
	err := r.db.SelectContext(ctx, &out, `
		SELECT organizer_id, issuer_id, created_at
		FROM giftcard_acceptances
		WHERE organizer_id = $1
		ORDER BY created_at
	`, organizerID)
	if err != nil {
		return nil, storageErr("list acceptances", err)
	}
	return out, nil
}

func affected(res sql.Result, op string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr(op, err)
	}
	return n > 0, nil
}

func findTransaction(ctx context.Context, q sqlx.QueryerContext, cardID, txID uuid.UUID) (*Transaction, error) {
	var t Transaction
	err := sqlx.GetContext(ctx, q, &t, `SELECT `+txColumns+` FROM giftcard_transactions WHERE card_id = $1 AND id = $2`, cardID, txID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, storageErr("find transaction", err)
	}
	return &t, nil
}

// pgLedger operates on one card inside the transaction holding its row lock.
type pgLedger struct {
	tx   *sqlx.Tx
	card *GiftCard
	now  func() time.Time
}

func (l *pgLedger) Card() *GiftCard { return l.card }

func (l *pgLedger) Balance(ctx context.Context) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := l.tx.GetContext(ctx, &balance, `SELECT COALESCE(SUM(value), 0) FROM giftcard_transactions WHERE card_id = $1`, l.card.ID)
	if err != nil {
		return decimal.Zero, storageErr("balance", err)
	}
	return balance, nil
}

func (l *pgLedger) Append(ctx context.Context, value decimal.Decimal, memo, orderRef *string) (*Transaction, error) {
	t := &Transaction{
		ID:        uuid.New(),
		CardID:    l.card.ID,
		Value:     value,
		Memo:      memo,
		OrderRef:  orderRef,
		CreatedAt: l.now(),
	}
	_, err := l.tx.ExecContext(ctx, `
		INSERT INTO giftcard_transactions (`+txColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.CardID, t.Value, t.Memo, t.OrderRef, t.CreatedAt)
	if err != nil {
		if isPQ(err, pqForeignKeyViolation) {
			return nil, fmt.Errorf("%w: card %s does not exist", ErrStorage, l.card.ID)
		}
		return nil, storageErr("append transaction", err)
	}
	return t, nil
}

func (l *pgLedger) FindTransaction(ctx context.Context, txID uuid.UUID) (*Transaction, error) {
	return findTransaction(ctx, l.tx, l.card.ID, txID)
}

func (l *pgLedger) UpdateCard(ctx context.Context, card *GiftCard) error {
	card.UpdatedAt = l.now()
	_, err := l.tx.ExecContext(ctx, `
		UPDATE gift_cards
		SET secret = $2, active = $3, expires = $4, conditions = $5, updated_at = $6
		WHERE id = $1
	`, card.ID, card.Secret, card.Active, card.Expires, card.Conditions, card.UpdatedAt)
	if err != nil {
		if isPQ(err, pqUniqueViolation) {
			return ErrDuplicateSecret
		}
		return storageErr("update card", err)
	}
	l.card = card
	return nil
}
