package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const writeTimeout = 5 * time.Second

// Service fans audit entries out to its writers. Recording is best effort:
// the mutation being audited has already committed, so failures are logged
// and never returned.
type Service struct {
	writers []Writer
	now     func() time.Time
}

// NewService creates audit service
func NewService(writers ...Writer) *Service {
	return &Service{
		writers: writers,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Record writes e to every writer
func (s *Service) Record(ctx context.Context, e Entry) {
	rec := &Record{
		ID:         uuid.New(),
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		CreatedAt:  s.now(),
	}
	if e.ActorID != uuid.Nil {
		rec.ActorID = uuid.NullUUID{UUID: e.ActorID, Valid: true}
	}
	if len(e.Data) > 0 {
		data, err := json.Marshal(e.Data)
		if err != nil {
			log.Error().Err(err).Str("action", e.Action).Msg("Failed to encode audit data")
		} else {
			rec.Data = data
		}
	}

	// The caller may be gone by now; the record should still land.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	for _, w := range s.writers {
		if err := w.Write(ctx, rec); err != nil {
			log.Error().Err(err).
				Str("action", rec.Action).
				Str("entity_type", rec.EntityType).
				Str("entity_id", rec.EntityID).
				Msg("Failed to write audit log")
		}
	}
}
