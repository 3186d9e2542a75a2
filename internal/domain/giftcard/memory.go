package giftcard

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Store. Each card has its own mutex, so
// operations on different cards never wait on each other; writes made inside
// a locked scope are staged and only published when fn succeeds.
type MemoryStore struct {
	mu          sync.RWMutex
	cards       map[uuid.UUID]*GiftCard
	txs         map[uuid.UUID][]Transaction
	locks       map[uuid.UUID]*sync.Mutex
	acceptances map[[2]uuid.UUID]time.Time
	now         func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cards:       make(map[uuid.UUID]*GiftCard),
		txs:         make(map[uuid.UUID][]Transaction),
		locks:       make(map[uuid.UUID]*sync.Mutex),
		acceptances: make(map[[2]uuid.UUID]time.Time),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) cardLock(cardID uuid.UUID) (*sync.Mutex, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.locks[cardID]
	return l, ok
}

// secretTaken must be called with m.mu held.
func (m *MemoryStore) secretTaken(card *GiftCard) bool {
	for _, c := range m.cards {
		if c.ID != card.ID && c.IssuerID == card.IssuerID && c.Secret == card.Secret {
			return true
		}
	}
	return false
}

func (m *MemoryStore) CreateCard(ctx context.Context, card *GiftCard, fn func(context.Context, Ledger) error) error {
	if err := ctx.Err(); err != nil {
		return storageErr("create card", err)
	}

	now := m.now()
	card.CreatedAt, card.UpdatedAt = now, now

	m.mu.Lock()
	if m.secretTaken(card) {
		m.mu.Unlock()
		return ErrDuplicateSecret
	}
	// Reserve the id so concurrent lockers wait for creation to finish.
	lock := &sync.Mutex{}
	lock.Lock()
	defer lock.Unlock()
	m.locks[card.ID] = lock
	m.mu.Unlock()

	l := &memLedger{store: m, card: card, now: m.now}
	if err := fn(ctx, l); err != nil {
		m.mu.Lock()
		delete(m.locks, card.ID)
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.secretTaken(l.card) {
		delete(m.locks, card.ID)
		return ErrDuplicateSecret
	}
	stored := *l.card
	m.cards[card.ID] = &stored
	m.txs[card.ID] = append([]Transaction(nil), l.staged...)
	return nil
}

func (m *MemoryStore) WithCardLock(ctx context.Context, cardID uuid.UUID, fn func(context.Context, Ledger) error) error {
	lock, ok := m.cardLock(cardID)
	if !ok {
		return ErrNotFound
	}
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return storageErr("lock card", err)
	}

	m.mu.RLock()
	stored, ok := m.cards[cardID]
	var card GiftCard
	if ok {
		card = *stored
	}
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	l := &memLedger{store: m, card: &card, now: m.now}
	if err := fn(ctx, l); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if l.cardChanged {
		if m.secretTaken(l.card) {
			return ErrDuplicateSecret
		}
		updated := *l.card
		m.cards[cardID] = &updated
	}
	m.txs[cardID] = append(m.txs[cardID], l.staged...)
	return nil
}

func (m *MemoryStore) GetCard(_ context.Context, cardID uuid.UUID) (*GiftCard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cards[cardID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *c
	return &out, nil
}

func (m *MemoryStore) Balance(_ context.Context, cardID uuid.UUID) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sum(m.txs[cardID]), nil
}

func (m *MemoryStore) ListCards(_ context.Context, filter ListFilter) ([]CardWithBalance, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	q := strings.ToLower(strings.TrimSpace(filter.Query))
	matched := []CardWithBalance{}
	for _, c := range m.cards {
		if c.IssuerID != filter.IssuerID {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(c.Secret), q) {
			continue
		}
		balance := sum(m.txs[c.ID])
		switch filter.State {
		case CardStateActive:
			if !c.Active || c.IsExpired(now) {
				continue
			}
		case CardStateInactive:
			if c.Active && !c.IsExpired(now) {
				continue
			}
		case CardStateEmpty:
			if !balance.IsZero() {
				continue
			}
		case CardStateValued:
			if !balance.IsPositive() {
				continue
			}
		}
		matched = append(matched, CardWithBalance{GiftCard: *c, Balance: balance})
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	total := len(matched)
	start := filter.Offset
	if start > total {
		start = total
	}
	end := total
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	return matched[start:end], total, nil
}

func (m *MemoryStore) ListTransactions(_ context.Context, cardID uuid.UUID) ([]Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Transaction{}, m.txs[cardID]...), nil
}

func (m *MemoryStore) FindTransaction(_ context.Context, cardID, txID uuid.UUID) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.txs[cardID] {
		if t.ID == txID {
			out := t
			return &out, nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (m *MemoryStore) AddAcceptance(_ context.Context, organizerID, issuerID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]uuid.UUID{organizerID, issuerID}
	if _, ok := m.acceptances[key]; ok {
		return false, nil
	}
	m.acceptances[key] = m.now()
	return true, nil
}

func (m *MemoryStore) RemoveAcceptance(_ context.Context, organizerID, issuerID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]uuid.UUID{organizerID, issuerID}
	if _, ok := m.acceptances[key]; !ok {
		return false, nil
	}
	delete(m.acceptances, key)
	return true, nil
}

func (m *MemoryStore) ListAcceptances(_ context.Context, organizerID uuid.UUID) ([]Acceptance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Acceptance{}
	for key, created := range m.acceptances {
		if key[0] == organizerID {
			out = append(out, Acceptance{OrganizerID: key[0], IssuerID: key[1], CreatedAt: created})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func sum(txs []Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, t := range txs {
		total = total.Add(t.Value)
	}
	return total
}

// memLedger is the locked view handed to fn. The card lock is held by the
// caller for its whole lifetime. Like a database transaction it fails once
// its context is done.
type memLedger struct {
	store       *MemoryStore
	card        *GiftCard
	cardChanged bool
	staged      []Transaction
	now         func() time.Time
}

func (l *memLedger) Card() *GiftCard { return l.card }

func (l *memLedger) committed() []Transaction {
	l.store.mu.RLock()
	defer l.store.mu.RUnlock()
	return l.store.txs[l.card.ID]
}

func (l *memLedger) Balance(ctx context.Context) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, storageErr("balance", err)
	}
	return sum(l.committed()).Add(sum(l.staged)), nil
}

func (l *memLedger) Append(ctx context.Context, value decimal.Decimal, memo, orderRef *string) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("append transaction", err)
	}
	t := Transaction{
		ID:        uuid.New(),
		CardID:    l.card.ID,
		Value:     value,
		Memo:      memo,
		OrderRef:  orderRef,
		CreatedAt: l.now(),
	}
	l.staged = append(l.staged, t)
	return &t, nil
}

func (l *memLedger) FindTransaction(_ context.Context, txID uuid.UUID) (*Transaction, error) {
	for _, list := range [][]Transaction{l.committed(), l.staged} {
		for _, t := range list {
			if t.ID == txID {
				out := t
				return &out, nil
			}
		}
	}
	return nil, ErrTransactionNotFound
}

func (l *memLedger) UpdateCard(_ context.Context, card *GiftCard) error {
	card.UpdatedAt = l.now()
	l.card = card
	l.cardChanged = true
	return nil
}
