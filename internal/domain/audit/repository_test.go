package audit

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(sqlx.NewDb(db, "postgres")), mock
}

func TestRepositoryWrite(t *testing.T) {
	repo, mock := newMockRepo(t)
	rec := &Record{
		ID:         uuid.New(),
		Action:     "giftcard.created",
		ActorID:    uuid.NullUUID{UUID: uuid.New(), Valid: true},
		EntityType: "giftcard",
		EntityID:   "card-1",
		Data:       []byte(`{"secret":"ABC"}`),
		CreatedAt:  time.Now(),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WithArgs(rec.ID, rec.Action, rec.ActorID, rec.EntityType, rec.EntityID, []byte(rec.Data), rec.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Write(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryListByEntity(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "action", "actor_id", "entity_type", "entity_id", "data", "created_at"}).
		AddRow(id.String(), "giftcard.modified", nil, "giftcard", "card-1", []byte(`{}`), now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_logs")).
		WithArgs("giftcard", "card-1", 20).
		WillReturnRows(rows)

	records, err := repo.ListByEntity(context.Background(), "giftcard", "card-1", 20)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "giftcard.modified", records[0].Action)
	assert.False(t, records[0].ActorID.Valid)
	assert.NoError(t, mock.ExpectationsWereMet())
}
