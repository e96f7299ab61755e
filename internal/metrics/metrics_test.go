package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ABeGood/reservation-pl/internal/controller"
	"github.com/ABeGood/reservation-pl/internal/metrics"
	"github.com/ABeGood/reservation-pl/internal/stats"
)

type fixedStatus controller.Status

func (f fixedStatus) Status() controller.Status { return controller.Status(f) }

// gather returns every sample as "name{label=value}" -> value.
func gather(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, l := range m.GetLabel() {
				key += "{" + l.GetName() + "=" + l.GetValue() + "}"
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[key+"_count"] = float64(m.GetHistogram().GetSampleCount())
				out[key+"_sum"] = m.GetHistogram().GetSampleSum()
			}
		}
	}
	return out
}

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(metrics.NewCollector(fixedStatus{
		State:         controller.StateRunning,
		Pending:       4,
		EventsDropped: 2,
		Stats: stats.Snapshot{
			ChecksPerformed: 46,
			ChecksFailed:    1,
			SlotsFound:      3,
			ClaimsAttempted: 2,
			ClaimsSucceeded: 1,
			ClaimsFailed:    1,
			CycleCount:      2,
			WindowFailures:  5,
			Uptime:          90 * time.Second,
		},
	})))

	got := gather(t, reg)
	assert.Equal(t, 46.0, got["reservation_checks_total"])
	assert.Equal(t, 1.0, got["reservation_checks_failed_total"])
	assert.Equal(t, 3.0, got["reservation_slots_found_total"])
	assert.Equal(t, 2.0, got["reservation_claims_attempted_total"])
	assert.Equal(t, 1.0, got["reservation_claims_succeeded_total"])
	assert.Equal(t, 1.0, got["reservation_claims_failed_total"])
	assert.Equal(t, 2.0, got["reservation_cycles_total"])
	assert.Equal(t, 5.0, got["reservation_window_failures_total"])
	assert.Equal(t, 2.0, got["reservation_events_dropped_total"])
	assert.Equal(t, 4.0, got["reservation_pending_participants"])
	assert.Equal(t, 90.0, got["reservation_uptime_seconds"])
	assert.Equal(t, 1.0, got["reservation_monitor_state{state=running}"])
	assert.Equal(t, 0.0, got["reservation_monitor_state{state=idle}"])
	assert.Equal(t, 0.0, got["reservation_monitor_state{state=stopping}"])
}

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := metrics.NewRecorder(reg)
	require.NoError(t, err)

	rec.ObserveCheck("ok", 200*time.Millisecond)
	rec.ObserveCheck("ok", 300*time.Millisecond)
	rec.ObserveCheck("failed", time.Second)
	rec.ObserveClaim("success", 2, 4*time.Second)

	got := gather(t, reg)
	assert.Equal(t, 2.0, got["reservation_check_duration_seconds{outcome=ok}_count"])
	assert.InDelta(t, 0.5, got["reservation_check_duration_seconds{outcome=ok}_sum"], 1e-9)
	assert.Equal(t, 1.0, got["reservation_check_duration_seconds{outcome=failed}_count"])
	assert.Equal(t, 1.0, got["reservation_claim_duration_seconds{outcome=success}_count"])
	assert.Equal(t, 2.0, got["reservation_claim_tries{outcome=success}_sum"])
}

func TestRecorder_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := metrics.NewRecorder(reg)
	require.NoError(t, err)
	_, err = metrics.NewRecorder(reg)
	assert.Error(t, err)
}
