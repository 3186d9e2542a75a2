package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	queryTimeout = 3 * time.Second

	// local ids are assigned as MAX+1 per order; a concurrent insert for the
	// same order loses on the unique index and retries.
	localIDRetries = 3

	attemptColumns = `id, order_ref, local_id, amount, currency, provider, state, info, created_at, updated_at`
)

// Repository defines payment attempt data access
type Repository interface {
	Create(ctx context.Context, a *Attempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*Attempt, error)
	ListByOrder(ctx context.Context, orderRef string) ([]Attempt, error)
	UpdateState(ctx context.Context, id uuid.UUID, state State) error
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates payment repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, a *Attempt) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		INSERT INTO payment_attempts (id, order_ref, local_id, amount, currency, provider, state, info, created_at, updated_at)
		VALUES ($1, $2,
			(SELECT COALESCE(MAX(local_id), 0) + 1 FROM payment_attempts WHERE order_ref = $2),
			$3, $4, $5, $6, $7, $8, $8)
		RETURNING local_id
	`
	var lastErr error
	for i := 0; i < localIDRetries; i++ {
		var localID int
		err := r.db.QueryRowxContext(ctx, query,
			a.ID, a.OrderRef, a.Amount, a.Currency, a.Provider, a.State, a.Info, a.CreatedAt,
		).Scan(&localID)
		if err == nil {
			a.LocalID = localID
			a.UpdatedAt = a.CreatedAt
			return nil
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			lastErr = err
			continue
		}
		return fmt.Errorf("%w: create attempt: %v", ErrStorage, err)
	}
	return fmt.Errorf("%w: create attempt: %v", ErrStorage, lastErr)
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var a Attempt
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE id = $1`
	if err := r.db.GetContext(ctx, &a, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("%w: get attempt: %v", ErrStorage, err)
	}
	return &a, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderRef string) ([]Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	attempts := []Attempt{}
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE order_ref = $1 ORDER BY local_id`
	if err := r.db.SelectContext(ctx, &attempts, query, orderRef); err != nil {
		return nil, fmt.Errorf("%w: list attempts: %v", ErrStorage, err)
	}
	return attempts, nil
}

// UpdateState moves an open attempt to state. Closed attempts are left as
// they are and ErrAttemptClosed is returned.
func (r *repository) UpdateState(ctx context.Context, id uuid.UUID, state State) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		UPDATE payment_attempts SET state = $2, updated_at = NOW()
		WHERE id = $1 AND state = ANY($3)
	`
	res, err := r.db.ExecContext(ctx, query, id, state, pq.Array(openStates))
	if err != nil {
		return fmt.Errorf("%w: update attempt: %v", ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: update attempt: %v", ErrStorage, err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM payment_attempts WHERE id = $1)`, id); err != nil {
		return fmt.Errorf("%w: update attempt: %v", ErrStorage, err)
	}
	if !exists {
		return ErrAttemptNotFound
	}
	return ErrAttemptClosed
}
