package payment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps attempts in process memory.
type MemoryRepository struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]*Attempt
}

// NewMemoryRepository creates an empty in-memory attempt repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{attempts: make(map[uuid.UUID]*Attempt)}
}

func (m *MemoryRepository) Create(_ context.Context, a *Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	localID := 0
	for _, existing := range m.attempts {
		if existing.OrderRef == a.OrderRef && existing.LocalID > localID {
			localID = existing.LocalID
		}
	}
	a.LocalID = localID + 1
	a.UpdatedAt = a.CreatedAt
	stored := *a
	m.attempts[a.ID] = &stored
	return nil
}

func (m *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.attempts[id]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	out := *a
	return &out, nil
}

func (m *MemoryRepository) ListByOrder(_ context.Context, orderRef string) ([]Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	attempts := []Attempt{}
	for _, a := range m.attempts {
		if a.OrderRef == orderRef {
			attempts = append(attempts, *a)
		}
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].LocalID < attempts[j].LocalID })
	return attempts, nil
}

func (m *MemoryRepository) UpdateState(_ context.Context, id uuid.UUID, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.attempts[id]
	if !ok {
		return ErrAttemptNotFound
	}
	if a.State.Terminal() {
		return ErrAttemptClosed
	}
	a.State = state
	a.UpdatedAt = time.Now().UTC()
	return nil
}
