package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entry is what callers hand to the sink after a mutation succeeded.
// ActorID is uuid.Nil for system actions such as order payments.
type Entry struct {
	Action     string
	ActorID    uuid.UUID
	EntityType string
	EntityID   string
	Data       map[string]interface{}
}

// Record is a persisted audit entry
type Record struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	Action     string          `db:"action" json:"action"`
	ActorID    uuid.NullUUID   `db:"actor_id" json:"actor_id,omitempty"`
	EntityType string          `db:"entity_type" json:"entity_type"`
	EntityID   string          `db:"entity_id" json:"entity_id"`
	Data       json.RawMessage `db:"data" json:"data,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}
