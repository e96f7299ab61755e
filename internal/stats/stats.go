// Package stats keeps the shared monitor counters.
//
// A single [Registry] is shared by the poller, the claim pipeline and the
// controller. Every mutation holds the registry mutex only for the
// read-modify-write, so readers never wait on network I/O.
package stats

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of the monitor statistics.
type Snapshot struct {
	ChecksPerformed uint64        `json:"checks_performed"`
	ChecksFailed    uint64        `json:"checks_failed"`
	SlotsFound      uint64        `json:"slots_found"`
	ClaimsAttempted uint64        `json:"claims_attempted"`
	ClaimsSucceeded uint64        `json:"claims_succeeded"`
	ClaimsFailed    uint64        `json:"claims_failed"`
	CycleCount      uint64        `json:"cycle_count"`
	WindowFailures  uint64        `json:"window_failures"`
	StartedAt       time.Time     `json:"started_at"`
	LastCycleAt     time.Time     `json:"last_cycle_at"`
	Uptime          time.Duration `json:"uptime_ns"`
}

// Registry is a mutex-guarded set of counters. The zero value is not usable;
// create one with [New].
//
// A registry returned by [Registry.Begin] is bound to one session: once the
// counters are reset for a later session, its updates are dropped. The root
// registry always writes.
type Registry struct {
	c       *counters
	session uint64
	bound   bool
}

type counters struct {
	mu      sync.Mutex
	s       Snapshot
	session uint64
	now     func() time.Time
}

// New returns a registry whose clock starts now.
func New() *Registry {
	return NewWithClock(time.Now)
}

// NewWithClock returns a registry that reads time from now.
func NewWithClock(now func() time.Time) *Registry {
	c := &counters{now: now}
	c.s.StartedAt = now()
	return &Registry{c: c}
}

// Reset zeroes every counter and restarts the uptime clock. Registries bound
// to earlier sessions stop counting.
func (r *Registry) Reset() {
	r.c.mu.Lock()
	r.reset()
	r.c.mu.Unlock()
}

func (r *Registry) reset() uint64 {
	r.c.session++
	r.c.s = Snapshot{StartedAt: r.c.now()}
	return r.c.session
}

// Begin resets the counters and returns a registry bound to the new session.
// It shares the counters with r.
func (r *Registry) Begin() *Registry {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	return &Registry{c: r.c, session: r.reset(), bound: true}
}

// Current reports whether updates through r are still counted.
func (r *Registry) Current() bool {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	return r.live()
}

// update applies fn under the lock unless r belongs to a finished session.
func (r *Registry) update(fn func(s *Snapshot)) {
	r.c.mu.Lock()
	if r.live() {
		fn(&r.c.s)
	}
	r.c.mu.Unlock()
}

func (r *Registry) live() bool {
	return !r.bound || r.session == r.c.session
}

// AddChecks records the outcome of one cycle's dispatch.
func (r *Registry) AddChecks(performed, failed int) {
	r.update(func(s *Snapshot) {
		s.ChecksPerformed += uint64(performed)
		s.ChecksFailed += uint64(failed)
	})
}

func (r *Registry) IncSlotsFound() {
	r.update(func(s *Snapshot) { s.SlotsFound++ })
}

func (r *Registry) IncClaimsAttempted() {
	r.update(func(s *Snapshot) { s.ClaimsAttempted++ })
}

func (r *Registry) IncClaimsSucceeded() {
	r.update(func(s *Snapshot) { s.ClaimsSucceeded++ })
}

func (r *Registry) IncClaimsFailed() {
	r.update(func(s *Snapshot) { s.ClaimsFailed++ })
}

// IncWindowFailures counts a failed attempt to resolve the source window.
func (r *Registry) IncWindowFailures() {
	r.update(func(s *Snapshot) { s.WindowFailures++ })
}

// IncCycle marks the end of a completed cycle.
func (r *Registry) IncCycle() {
	r.update(func(s *Snapshot) {
		s.CycleCount++
		s.LastCycleAt = r.c.now()
	})
}

// Snapshot returns a copy of the counters with Uptime filled in. A registry
// from a finished session still reads the current counters.
func (r *Registry) Snapshot() Snapshot {
	r.c.mu.Lock()
	s := r.c.s
	now := r.c.now()
	r.c.mu.Unlock()

	s.Uptime = now.Sub(s.StartedAt)
	return s
}
