package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

// Writer persists audit records
type Writer interface {
	Write(ctx context.Context, rec *Record) error
}

// Repository stores audit records in PostgreSQL
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates audit repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Write(ctx context.Context, rec *Record) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		INSERT INTO audit_logs (id, action, actor_id, entity_type, entity_id, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.Action,
		rec.ActorID,
		rec.EntityType,
		rec.EntityID,
		[]byte(rec.Data),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListByEntity returns the records of one entity, newest first
func (r *Repository) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	records := []Record{}
	query := `
		SELECT id, action, actor_id, entity_type, entity_id, data, created_at
		FROM audit_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`
	if err := r.db.SelectContext(ctx, &records, query, entityType, entityID, limit); err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return records, nil
}
