package poller

import (
	"sync"

	"github.com/ABeGood/reservation-pl/internal/domain"
)

// Booked is the set of participants the source has accepted a booking for.
//
// A claim can succeed on the source while saving it fails, so the
// repository keeps listing the participant as pending. Booked keeps such
// participants out of matching until the repository stops listing them.
// It is safe for concurrent use.
type Booked struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

// NewBooked returns an empty set.
func NewBooked() *Booked {
	return &Booked{ids: make(map[int64]struct{})}
}

// Add records a booked participant.
func (b *Booked) Add(id int64) {
	b.mu.Lock()
	b.ids[id] = struct{}{}
	b.mu.Unlock()
}

// Has reports whether the participant was booked.
func (b *Booked) Has(id int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.ids[id]
	return ok
}

// Len returns the number of remembered participants.
func (b *Booked) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ids)
}

// Filter removes booked participants from a fresh pending list. Entries the
// list no longer contains are forgotten: the repository has caught up.
func (b *Booked) Filter(pending []domain.Participant) []domain.Participant {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.ids) == 0 {
		return pending
	}

	listed := make(map[int64]struct{}, len(pending))
	kept := pending[:0:0]
	for _, p := range pending {
		listed[p.ID] = struct{}{}
		if _, booked := b.ids[p.ID]; !booked {
			kept = append(kept, p)
		}
	}
	for id := range b.ids {
		if _, ok := listed[id]; !ok {
			delete(b.ids, id)
		}
	}
	return kept
}
