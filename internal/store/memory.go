package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ABeGood/reservation-pl/internal/domain"
)

// MemoryStore is an in-memory [Repository].
//
// Participants are keyed by ID and listed in ID order. All reads return
// copies; modifications do not affect the store.
type MemoryStore struct {
	mu           sync.RWMutex
	participants map[int64]domain.Participant
	reservations []domain.Reservation
	nextID       int64
	now          func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		participants: make(map[int64]domain.Participant),
		nextID:       1,
		now:          time.Now,
	}
}

// Add implements [Repository].
func (m *MemoryStore) Add(_ context.Context, p domain.Participant) (domain.Participant, error) {
	p, err := prepare(p, m.now())
	if err != nil {
		return domain.Participant{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p.ID = m.nextID
	m.nextID++
	m.participants[p.ID] = p
	return p, nil
}

// Get implements [Repository].
func (m *MemoryStore) Get(_ context.Context, id int64) (domain.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.participants[id]
	if !ok {
		return domain.Participant{}, fmt.Errorf("%w: id %d", domain.ErrNotFound, id)
	}
	return p, nil
}

// GetByEmail implements [Repository].
func (m *MemoryStore) GetByEmail(_ context.Context, email string) (domain.Participant, error) {
	matches := m.collect(func(p domain.Participant) bool {
		return strings.EqualFold(p.Email, strings.TrimSpace(email))
	})
	if len(matches) == 0 {
		return domain.Participant{}, fmt.Errorf("%w: email %q", domain.ErrNotFound, email)
	}
	return matches[0], nil
}

// Delete implements [Repository].
func (m *MemoryStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.participants[id]; !ok {
		return fmt.Errorf("%w: id %d", domain.ErrNotFound, id)
	}
	delete(m.participants, id)
	m.reservations = slices.DeleteFunc(m.reservations, func(r domain.Reservation) bool {
		return r.ParticipantID == id
	})
	return nil
}

// Stats implements [Repository].
func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := newStats()
	for _, p := range m.participants {
		st.add(p.Status, p.Citizenship, p.DesiredMonth, 1)
	}
	return st, nil
}

// List implements [Repository].
func (m *MemoryStore) List(_ context.Context) ([]domain.Participant, error) {
	return m.collect(func(domain.Participant) bool { return true }), nil
}

// ListPending implements [domain.ParticipantRepository].
func (m *MemoryStore) ListPending(_ context.Context) ([]domain.Participant, error) {
	return m.collect(func(p domain.Participant) bool {
		return p.Status == domain.StatusPending
	}), nil
}

func (m *MemoryStore) collect(keep func(domain.Participant) bool) []domain.Participant {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Participant, 0, len(m.participants))
	for _, p := range m.participants {
		if keep(p) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b domain.Participant) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// MarkClaimed implements [domain.ParticipantRepository].
func (m *MemoryStore) MarkClaimed(_ context.Context, id int64, r domain.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.participants[id]
	if !ok {
		return fmt.Errorf("%w: id %d", domain.ErrNotFound, id)
	}
	if p.Status != domain.StatusPending {
		return fmt.Errorf("%w: id %d is %s", domain.ErrNotPending, id, p.Status)
	}

	p.Status = domain.StatusClaimed
	m.participants[id] = p
	r.ParticipantID = id
	m.reservations = append(m.reservations, r)
	return nil
}

// Reservations implements [Repository].
func (m *MemoryStore) Reservations(_ context.Context) ([]domain.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Reservation{}, m.reservations...), nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
