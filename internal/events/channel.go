package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is the per-subscriber queue bound used when none is given.
const DefaultCapacity = 1000

// ErrClosed is returned by [Subscription.Next] once the subscription or its
// channel has been closed.
var ErrClosed = errors.New("event subscription closed")

// Channel is a bounded broadcast channel.
//
// Every subscriber owns a FIFO queue of at most capacity events, so each one
// observes every published event in order. Publish never blocks: when a
// queue is full a normal event is dropped, while an urgent event evicts the
// oldest normal event in that queue. An urgent event that finds only urgent
// events queued is dropped. Every drop is counted.
type Channel struct {
	capacity int
	maxAge   time.Duration
	now      func() time.Time

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// Option configures a [Channel].
type Option func(*Channel)

// WithMaxAge expires queued events older than d at read time. Expired events
// count as drops.
func WithMaxAge(d time.Duration) Option {
	return func(c *Channel) {
		c.maxAge = d
	}
}

// WithClock overrides the time source used for stamping and expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Channel) {
		c.now = now
	}
}

// NewChannel creates a channel whose subscriber queues hold at most capacity
// events. A non-positive capacity selects [DefaultCapacity].
func NewChannel(capacity int, opts ...Option) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Channel{
		capacity: capacity,
		now:      time.Now,
		subs:     make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Capacity returns the per-subscriber bound.
func (c *Channel) Capacity() int {
	return c.capacity
}

// Publish stamps e with an ID, a timestamp and at least its kind's priority,
// then offers it to every subscriber. It never blocks on slow consumers.
// Publishing on a closed channel is a no-op.
func (c *Channel) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = c.now()
	}
	if p := e.Kind.Priority(); p > e.Priority {
		e.Priority = p
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return
	}
	c.published.Add(1)

	for sub := range c.subs {
		if n := sub.offer(e); n > 0 {
			c.dropped.Add(uint64(n))
		}
	}
}

// Subscribe registers a new subscriber. Events published before the call are
// not delivered to it. Subscribing to a closed channel returns an already
// closed subscription.
//
// Caller must call [Subscription.Close] when done.
func (c *Channel) Subscribe() *Subscription {
	sub := &Subscription{
		ch:     c,
		queue:  make([]Event, 0, min(c.capacity, 64)),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		sub.shutdown()
		return sub
	}
	c.subs[sub] = struct{}{}
	return sub
}

// Close closes every subscription. Further publishes are ignored.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	for sub := range c.subs {
		sub.shutdown()
		delete(c.subs, sub)
	}
}

// Published returns the number of events accepted by Publish.
func (c *Channel) Published() uint64 {
	return c.published.Load()
}

// Dropped returns the number of events lost to overflow or expiry across all
// subscribers.
func (c *Channel) Dropped() uint64 {
	return c.dropped.Load()
}

// Subscribers returns the number of live subscriptions.
func (c *Channel) Subscribers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

func (c *Channel) remove(sub *Subscription) {
	c.mu.Lock()
	delete(c.subs, sub)
	c.mu.Unlock()
}

// Subscription is one consumer's view of a [Channel].
type Subscription struct {
	ch *Channel

	mu      sync.Mutex
	queue   []Event
	closed  bool
	dropped uint64

	signal    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// offer enqueues e and returns how many events were lost making the decision.
func (s *Subscription) offer(e Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}

	lost := 0
	if len(s.queue) >= s.ch.capacity {
		if e.Priority != PriorityUrgent || !s.evictOldestNormal() {
			s.dropped++
			return 1
		}
		s.dropped++
		lost = 1
	}
	s.queue = append(s.queue, e)

	select {
	case s.signal <- struct{}{}:
	default:
	}
	return lost
}

// evictOldestNormal removes the oldest normal-tier event. Caller holds s.mu.
func (s *Subscription) evictOldestNormal() bool {
	for i, queued := range s.queue {
		if queued.Priority == PriorityNormal {
			copy(s.queue[i:], s.queue[i+1:])
			s.queue[len(s.queue)-1] = Event{}
			s.queue = s.queue[:len(s.queue)-1]
			return true
		}
	}
	return false
}

// Next blocks until an event is available, ctx is done, or the subscription
// is closed.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		for len(s.queue) > 0 {
			e := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]

			if s.ch.maxAge > 0 && s.ch.now().Sub(e.At) > s.ch.maxAge {
				s.dropped++
				s.ch.dropped.Add(1)
				continue
			}
			s.mu.Unlock()
			return e, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return Event{}, ErrClosed
		}

		select {
		case <-s.signal:
		case <-s.done:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Len returns the number of queued events.
func (s *Subscription) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Dropped returns the number of events this subscriber lost.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close unregisters the subscription and discards queued events. Safe to
// call more than once.
func (s *Subscription) Close() {
	s.ch.remove(s)
	s.shutdown()
}

func (s *Subscription) shutdown() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
	})
}
