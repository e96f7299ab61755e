package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ABeGood/reservation-pl/internal/claim"
	"github.com/ABeGood/reservation-pl/internal/domain"
	"github.com/ABeGood/reservation-pl/internal/events"
	"github.com/ABeGood/reservation-pl/internal/stats"
)

const (
	DefaultMaxWorkers         = 8
	DefaultCourtesyDelay      = 200 * time.Millisecond
	DefaultCheckTimeout       = 10 * time.Second
	DefaultIntervalMin        = 500 * time.Millisecond
	DefaultIntervalMax        = 3 * time.Second
	DefaultWindowTTL          = 5 * time.Minute
	DefaultWindowMaxStale     = 30 * time.Minute
	DefaultParticipantRefresh = 10 * time.Second
)

// Config holds the parameters of one monitoring session. A restart with new
// parameters builds a new [Poller].
type Config struct {
	// Room is the desk whose calendar is polled.
	Room domain.Room

	// MaxWorkers bounds the number of concurrent date checks.
	MaxWorkers int

	// CourtesyDelay is applied by a worker after each check.
	CourtesyDelay time.Duration

	// CheckTimeout bounds a single date check.
	CheckTimeout time.Duration

	// IntervalMin and IntervalMax bound the random pause between cycles.
	IntervalMin time.Duration
	IntervalMax time.Duration

	// WindowTTL is the age after which the window is re-resolved.
	WindowTTL time.Duration

	// WindowEveryCycles forces a window refresh every N cycles. Zero disables.
	WindowEveryCycles int

	// WindowMaxStale is how old a last-known window may get while the source
	// keeps failing before cycles are skipped.
	WindowMaxStale time.Duration

	// ParticipantRefresh is the period of the pending participant reload.
	ParticipantRefresh time.Duration

	WeekdaysOnly bool
	AutoClaim    bool

	// Location is the time zone in which "today" is computed. nil means
	// time.Local.
	Location *time.Location
}

// DefaultConfig returns a configuration with the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:         DefaultMaxWorkers,
		CourtesyDelay:      DefaultCourtesyDelay,
		CheckTimeout:       DefaultCheckTimeout,
		IntervalMin:        DefaultIntervalMin,
		IntervalMax:        DefaultIntervalMax,
		WindowTTL:          DefaultWindowTTL,
		WindowMaxStale:     DefaultWindowMaxStale,
		ParticipantRefresh: DefaultParticipantRefresh,
		WeekdaysOnly:       true,
		AutoClaim:          true,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.Room == "":
		return errors.New("room is required")
	case c.MaxWorkers < 1:
		return fmt.Errorf("max workers must be at least 1, got %d", c.MaxWorkers)
	case c.CourtesyDelay < 0:
		return errors.New("courtesy delay must not be negative")
	case c.CheckTimeout <= 0:
		return errors.New("check timeout must be positive")
	case c.IntervalMin < 0:
		return errors.New("interval min must not be negative")
	case c.IntervalMax < c.IntervalMin:
		return fmt.Errorf("interval max (%s) must not be below interval min (%s)", c.IntervalMax, c.IntervalMin)
	case c.WindowTTL <= 0:
		return errors.New("window ttl must be positive")
	case c.WindowEveryCycles < 0:
		return errors.New("window refresh cycles must not be negative")
	case c.WindowMaxStale < 0:
		return errors.New("window max stale must not be negative")
	case c.ParticipantRefresh <= 0:
		return errors.New("participant refresh must be positive")
	}
	return nil
}

// Claimer reserves a slot for a participant. [claim.Pipeline] implements it.
type Claimer interface {
	Attempt(ctx context.Context, slot domain.TimeSlot, participant domain.Participant) claim.Result
}

// Observer receives the duration of every date check. outcome is "ok" or
// "failed".
type Observer interface {
	ObserveCheck(outcome string, d time.Duration)
}

// Deps are the collaborators of a [Poller]. Window and Slots are required;
// Participants and Claimer are required when AutoClaim is on.
type Deps struct {
	Window       domain.WindowProvider
	Slots        domain.SlotQuerier
	Participants domain.ParticipantRepository
	Claimer      Claimer

	Stats    *stats.Registry
	Events   events.Publisher
	Observer Observer
	Logger   *slog.Logger

	// Booked remembers participants booked on the source. Share one across
	// sessions so a restart does not forget them. Defaults to a fresh set.
	Booked *Booked

	// Clock, Sleep and Jitter are replaceable for tests. Jitter returns a
	// value in [0, n).
	Clock  func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error
	Jitter func(n int64) int64
}

// CycleReport summarises one cycle.
type CycleReport struct {
	// Skipped is set when no usable window was available. Nothing was
	// dispatched and no counter advanced.
	Skipped bool

	Candidates int
	Dispatched int
	Failed     int

	// Slots lists every slot found, in aggregation order.
	Slots []domain.TimeSlot

	ClaimsAttempted int
	ClaimsSucceeded int

	// Err is the reason a cycle was skipped.
	Err error
}

// Poller runs availability cycles against one room.
//
// Cycles are strictly sequential and their control flow is single-threaded;
// only date checks fan out to the worker pool. Claims run synchronously from
// the aggregation step, so at most one claim is ever in flight.
type Poller struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	mu                sync.Mutex
	window            domain.SourceWindow
	hasWindow         bool
	cyclesSinceWindow int

	snapMu      sync.Mutex
	pending     []domain.Participant
	lastRefresh time.Time

	forceWindow       atomic.Bool
	forceParticipants atomic.Bool
}

// New creates a [Poller].
func New(cfg Config, deps Deps) (*Poller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Window == nil:
		return nil, errors.New("window provider is required")
	case deps.Slots == nil:
		return nil, errors.New("slot querier is required")
	case cfg.AutoClaim && deps.Participants == nil:
		return nil, errors.New("participant repository is required when auto claim is on")
	case cfg.AutoClaim && deps.Claimer == nil:
		return nil, errors.New("claimer is required when auto claim is on")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if deps.Stats == nil {
		deps.Stats = stats.New()
	}
	if deps.Events == nil {
		deps.Events = events.Discard
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Booked == nil {
		deps.Booked = NewBooked()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepContext
	}
	if deps.Jitter == nil {
		deps.Jitter = rand.Int64N
	}
	return &Poller{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With("room", cfg.Room.String()),
	}, nil
}

// Config returns the parameters the poller was built with.
func (p *Poller) Config() Config {
	return p.cfg
}

// Run executes cycles until ctx is cancelled. A cancelled context is the
// cooperative stop signal, so Run returns nil in that case.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started",
		"max_workers", p.cfg.MaxWorkers,
		"interval_min", p.cfg.IntervalMin.String(),
		"interval_max", p.cfg.IntervalMax.String(),
		"auto_claim", p.cfg.AutoClaim,
	)
	defer p.logger.Info("poller stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		p.RunCycle(ctx)
		if err := p.deps.Sleep(ctx, p.pause()); err != nil {
			return nil
		}
	}
}

// pause picks a uniform random duration in [IntervalMin, IntervalMax].
func (p *Poller) pause() time.Duration {
	span := int64(p.cfg.IntervalMax - p.cfg.IntervalMin)
	if span <= 0 {
		return p.cfg.IntervalMin
	}
	return p.cfg.IntervalMin + time.Duration(p.deps.Jitter(span+1))
}

// RunCycle executes a single cycle: window, participants, dispatch, join,
// aggregate.
func (p *Poller) RunCycle(ctx context.Context) CycleReport {
	var report CycleReport

	window, ok, err := p.currentWindow(ctx)
	if !ok {
		report.Skipped = true
		report.Err = err
		return report
	}

	p.refreshParticipantsIfDue(ctx)

	dates := window.CandidateDates(p.today(), p.cfg.WeekdaysOnly)
	report.Candidates = len(dates)

	results, dispatched := p.checkDates(ctx, dates)
	report.Dispatched = dispatched
	for _, r := range results[:dispatched] {
		if r.err != nil {
			report.Failed++
		}
	}
	p.deps.Stats.AddChecks(report.Dispatched, report.Failed)

	p.aggregate(ctx, results[:dispatched], &report)

	p.deps.Stats.IncCycle()
	p.mu.Lock()
	p.cyclesSinceWindow++
	p.mu.Unlock()

	p.logger.Debug("cycle finished",
		"candidates", report.Candidates,
		"dispatched", report.Dispatched,
		"failed", report.Failed,
		"slots", len(report.Slots),
		"claims", report.ClaimsAttempted,
	)
	return report
}

func (p *Poller) today() time.Time {
	return domain.Day(p.deps.Clock().In(p.cfg.Location))
}

// RequestWindowRefresh forces a window resolve at the start of the next cycle.
func (p *Poller) RequestWindowRefresh() {
	p.forceWindow.Store(true)
}

// RequestParticipantRefresh forces a participant reload at the start of the
// next cycle.
func (p *Poller) RequestParticipantRefresh() {
	p.forceParticipants.Store(true)
}

// Window returns the last resolved window.
func (p *Poller) Window() (domain.SourceWindow, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.window, p.hasWindow
}

// PendingCount returns the size of the participant snapshot.
func (p *Poller) PendingCount() int {
	p.snapMu.Lock()
	defer p.snapMu.Unlock()
	return len(p.pending)
}

// RefreshParticipants reloads the pending participants now and publishes a
// participants_refreshed event. On failure the previous snapshot is kept.
func (p *Poller) RefreshParticipants(ctx context.Context) (int, error) {
	n, err := p.loadParticipants(ctx)
	if err != nil {
		return 0, err
	}
	p.deps.Events.Publish(events.New(events.KindParticipantsRefreshed,
		fmt.Sprintf("%d pending participants loaded", n)))
	return n, nil
}

func (p *Poller) loadParticipants(ctx context.Context) (int, error) {
	if p.deps.Participants == nil {
		return 0, nil
	}
	// the repository call stays outside the snapshot lock
	list, err := p.deps.Participants.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending participants: %w", err)
	}
	list = p.deps.Booked.Filter(list)

	p.snapMu.Lock()
	p.pending = list
	p.lastRefresh = p.deps.Clock()
	p.snapMu.Unlock()
	return len(list), nil
}

func (p *Poller) refreshParticipantsIfDue(ctx context.Context) {
	if p.deps.Participants == nil {
		return
	}
	if p.forceParticipants.Swap(false) {
		if _, err := p.RefreshParticipants(ctx); err != nil {
			p.logger.Warn("participant refresh failed, keeping previous snapshot", "error", err)
		}
		return
	}

	p.snapMu.Lock()
	due := p.lastRefresh.IsZero() || p.deps.Clock().Sub(p.lastRefresh) >= p.cfg.ParticipantRefresh
	p.snapMu.Unlock()
	if !due {
		return
	}
	n, err := p.loadParticipants(ctx)
	if err != nil {
		p.logger.Warn("participant refresh failed, keeping previous snapshot", "error", err)
		return
	}
	p.logger.Debug("participants refreshed", "pending", n)
}

// currentWindow returns the window to use for this cycle, resolving it when
// it is missing, expired, scheduled or forced.
func (p *Poller) currentWindow(ctx context.Context) (domain.SourceWindow, bool, error) {
	now := p.deps.Clock()
	forced := p.forceWindow.Swap(false)

	p.mu.Lock()
	current, have, cycles := p.window, p.hasWindow, p.cyclesSinceWindow
	p.mu.Unlock()

	due := forced || !have || current.Age(now) > p.cfg.WindowTTL ||
		(p.cfg.WindowEveryCycles > 0 && cycles >= p.cfg.WindowEveryCycles)
	if !due {
		return current, true, nil
	}

	resolved, err := p.deps.Window.Resolve(ctx)
	if err != nil {
		p.deps.Stats.IncWindowFailures()
		if forced {
			p.forceWindow.Store(true)
		}
		if have && current.Age(now) < p.cfg.WindowMaxStale {
			p.logger.Warn("window resolve failed, reusing last known window",
				"error", err,
				"age", current.Age(now).String(),
			)
			return current, true, nil
		}

		err = fmt.Errorf("%w: %w", domain.ErrStaleWindow, err)
		p.logger.Error("no usable window, skipping cycle", "error", err)
		p.deps.Events.Publish(events.New(events.KindError, fmt.Sprintf("cannot resolve booking window: %v", err)))
		return domain.SourceWindow{}, false, err
	}

	p.mu.Lock()
	p.window = resolved
	p.hasWindow = true
	p.cyclesSinceWindow = 0
	p.mu.Unlock()

	if !have || !current.Equal(resolved) {
		msg := fmt.Sprintf("booking window %s..%s, %d disabled dates",
			resolved.MinDate.Format(domain.DateLayout),
			resolved.MaxDate.Format(domain.DateLayout),
			len(resolved.Disabled),
		)
		p.logger.Info("window changed", "min_date", resolved.MinDate.Format(domain.DateLayout),
			"max_date", resolved.MaxDate.Format(domain.DateLayout),
			"disabled", len(resolved.Disabled),
		)
		p.deps.Events.Publish(events.New(events.KindWindowChanged, msg))
	}
	return resolved, true, nil
}

type checkResult struct {
	date  time.Time
	slots []domain.TimeSlot
	err   error
}

// checkDates fans the dates out to the worker pool and waits for every
// dispatched check. Results are indexed like dates; only the first
// dispatched entries are filled.
func (p *Poller) checkDates(ctx context.Context, dates []time.Time) ([]checkResult, int) {
	results := make([]checkResult, len(dates))
	if len(dates) == 0 {
		return results, 0
	}

	workers := p.cfg.MaxWorkers
	if workers > len(dates) {
		workers = len(dates)
	}

	// unbuffered so that dispatch keeps pace with the workers and a stop
	// ends it promptly
	jobs := make(chan int)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = p.check(ctx, dates[idx])
			}
		}()
	}

	dispatched := 0
dispatch:
	for i := range dates {
		if ctx.Err() != nil {
			break
		}
		select {
		case jobs <- i:
			dispatched++
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	return results, dispatched
}

// check queries one date. The query context is detached from stop so that
// in-flight checks finish or hit their own timeout.
func (p *Poller) check(ctx context.Context, date time.Time) checkResult {
	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.CheckTimeout)
	defer cancel()

	start := p.deps.Clock()
	slots, err := p.query(checkCtx, date)
	elapsed := p.deps.Clock().Sub(start)

	day := date.Format(domain.DateLayout)
	if err != nil {
		p.logger.Warn("date check failed", "date", day, "error", err)
		p.observe("failed", elapsed)
	} else {
		p.logger.Debug("date checked", "date", day, "slots", len(slots))
		p.observe("ok", elapsed)
	}

	if p.cfg.CourtesyDelay > 0 {
		_ = p.deps.Sleep(ctx, p.cfg.CourtesyDelay)
	}
	return checkResult{date: date, slots: slots, err: err}
}

func (p *Poller) observe(outcome string, d time.Duration) {
	if p.deps.Observer != nil {
		p.deps.Observer.ObserveCheck(outcome, d)
	}
}

// query runs the slot query and gives up when ctx is done, also when the
// querier itself ignores ctx. An abandoned query finishes in the background.
func (p *Poller) query(ctx context.Context, date time.Time) ([]domain.TimeSlot, error) {
	type answer struct {
		slots []domain.TimeSlot
		err   error
	}
	ch := make(chan answer, 1)
	go func() {
		slots, err := p.safeQuery(ctx, date)
		ch <- answer{slots, err}
	}()

	select {
	case a := <-ch:
		return a.slots, a.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: slot query: %w", domain.ErrTransient, ctx.Err())
	}
}

// safeQuery calls the slot querier with panic recovery. A panic is logged
// with a correlation ID and reported as a failed check.
func (p *Poller) safeQuery(ctx context.Context, date time.Time) (slots []domain.TimeSlot, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			p.logger.Error("slot query panic",
				"correlation_id", correlationID,
				"date", date.Format(domain.DateLayout),
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			slots = nil
			err = fmt.Errorf("slot query panic (correlation_id: %s)", correlationID)
		}
	}()
	return p.deps.Slots.Query(ctx, date)
}

// aggregate walks the check results in ascending date and time order,
// publishing every slot and claiming it for the first matching participant.
func (p *Poller) aggregate(ctx context.Context, results []checkResult, report *CycleReport) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			p.logger.Error("aggregation panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			p.deps.Events.Publish(events.New(events.KindError,
				fmt.Sprintf("internal error while processing slots (correlation_id: %s)", correlationID)))
		}
	}()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].date.Before(results[j].date)
	})

	claimed := make(map[int64]struct{})
	for _, r := range results {
		if r.err != nil || len(r.slots) == 0 {
			continue
		}
		slots := append([]domain.TimeSlot(nil), r.slots...)
		sort.SliceStable(slots, func(i, j int) bool {
			return slots[i].Time < slots[j].Time
		})

		for _, slot := range slots {
			report.Slots = append(report.Slots, slot)
			p.deps.Stats.IncSlotsFound()
			p.deps.Events.Publish(events.New(events.KindSlotFound,
				fmt.Sprintf("free slot %s", slot)).WithSlot(slot))
			p.logger.Info("slot found", "slot", slot.String())

			if !p.cfg.AutoClaim || ctx.Err() != nil {
				continue
			}
			participant, ok := p.match(slot, claimed)
			if !ok {
				continue
			}

			report.ClaimsAttempted++
			result := p.deps.Claimer.Attempt(ctx, slot, participant)
			if result.Claimed {
				report.ClaimsSucceeded++
				claimed[participant.ID] = struct{}{}
				p.deps.Booked.Add(participant.ID)
				p.removePending(participant.ID)
			}
		}
	}
}

// match returns the first pending participant in snapshot order that wants
// the slot and has not been booked, in this cycle or before.
func (p *Poller) match(slot domain.TimeSlot, claimed map[int64]struct{}) (domain.Participant, bool) {
	p.snapMu.Lock()
	defer p.snapMu.Unlock()
	for _, participant := range p.pending {
		if _, done := claimed[participant.ID]; done {
			continue
		}
		if p.deps.Booked.Has(participant.ID) {
			continue
		}
		if participant.Wants(slot) {
			return participant, true
		}
	}
	return domain.Participant{}, false
}

func (p *Poller) removePending(id int64) {
	p.snapMu.Lock()
	defer p.snapMu.Unlock()
	kept := p.pending[:0:0]
	for _, participant := range p.pending {
		if participant.ID != id {
			kept = append(kept, participant)
		}
	}
	p.pending = kept
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
