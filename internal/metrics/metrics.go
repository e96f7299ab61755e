// Package metrics exposes the monitor to Prometheus.
//
// [Collector] turns controller status snapshots into counters and gauges at
// scrape time. [Recorder] observes check and claim durations as they happen.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ABeGood/reservation-pl/internal/controller"
)

const metricPrefix = "reservation_"

// StatusSource is implemented by [controller.Controller].
type StatusSource interface {
	Status() controller.Status
}

// Collector reads the monitor status on every scrape.
type Collector struct {
	src StatusSource

	checks          *prometheus.Desc
	checksFailed    *prometheus.Desc
	slotsFound      *prometheus.Desc
	claimsAttempted *prometheus.Desc
	claimsSucceeded *prometheus.Desc
	claimsFailed    *prometheus.Desc
	cycles          *prometheus.Desc
	windowFailures  *prometheus.Desc
	eventsDropped   *prometheus.Desc
	pending         *prometheus.Desc
	state           *prometheus.Desc
	uptime          *prometheus.Desc
}

var states = []controller.State{controller.StateIdle, controller.StateRunning, controller.StateStopping}

// NewCollector returns a collector over src.
func NewCollector(src StatusSource) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(metricPrefix+name, help, nil, nil)
	}
	return &Collector{
		src:             src,
		checks:          desc("checks_total", "Date checks performed since the monitor started."),
		checksFailed:    desc("checks_failed_total", "Date checks that failed since the monitor started."),
		slotsFound:      desc("slots_found_total", "Free slots seen since the monitor started."),
		claimsAttempted: desc("claims_attempted_total", "Claim attempts since the monitor started."),
		claimsSucceeded: desc("claims_succeeded_total", "Successful claims since the monitor started."),
		claimsFailed:    desc("claims_failed_total", "Failed claims since the monitor started."),
		cycles:          desc("cycles_total", "Completed polling cycles since the monitor started."),
		windowFailures:  desc("window_failures_total", "Failed booking window resolutions since the monitor started."),
		eventsDropped:   desc("events_dropped_total", "Events lost to channel overflow."),
		pending:         desc("pending_participants", "Participants waiting for a slot."),
		uptime:          desc("uptime_seconds", "Seconds since the monitor statistics were reset."),
		state: prometheus.NewDesc(metricPrefix+"monitor_state",
			"Lifecycle state of the monitor; 1 for the current state.", []string{"state"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.checks, c.checksFailed, c.slotsFound, c.claimsAttempted, c.claimsSucceeded,
		c.claimsFailed, c.cycles, c.windowFailures, c.eventsDropped, c.pending, c.state, c.uptime,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Status()
	s := st.Stats

	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.checks, s.ChecksPerformed)
	counter(c.checksFailed, s.ChecksFailed)
	counter(c.slotsFound, s.SlotsFound)
	counter(c.claimsAttempted, s.ClaimsAttempted)
	counter(c.claimsSucceeded, s.ClaimsSucceeded)
	counter(c.claimsFailed, s.ClaimsFailed)
	counter(c.cycles, s.CycleCount)
	counter(c.windowFailures, s.WindowFailures)
	counter(c.eventsDropped, st.EventsDropped)

	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(st.Pending))
	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, s.Uptime.Seconds())
	for _, state := range states {
		v := 0.0
		if st.State == state {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, string(state))
	}
}

// Recorder observes durations. It implements poller.Observer and
// claim.Observer.
type Recorder struct {
	checkDuration *prometheus.HistogramVec
	claimDuration *prometheus.HistogramVec
	claimTries    *prometheus.HistogramVec
}

// NewRecorder creates the histograms and registers them with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		checkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "check_duration_seconds",
				Help:    "Duration of a single date check by outcome.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		claimDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "claim_duration_seconds",
				Help:    "Duration of a claim attempt, retries included, by outcome.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		claimTries: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "claim_tries",
				Help:    "Tries used by a claim attempt by outcome.",
				Buckets: prometheus.LinearBuckets(1, 1, 5),
			},
			[]string{"outcome"},
		),
	}
	for _, c := range []prometheus.Collector{r.checkDuration, r.claimDuration, r.claimTries} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ObserveCheck records a date check.
func (r *Recorder) ObserveCheck(outcome string, d time.Duration) {
	r.checkDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveClaim records a claim attempt.
func (r *Recorder) ObserveClaim(outcome string, tries int, d time.Duration) {
	r.claimDuration.WithLabelValues(outcome).Observe(d.Seconds())
	r.claimTries.WithLabelValues(outcome).Observe(float64(tries))
}
