// Package observability provides Prometheus metrics for the realtime core.
//
// The metrics system tracks:
//   - Connection attempts by strategy and outcome
//   - Attempt latency and assessed quality
//   - Current connection state
//   - Presence population and event flow
//
// Components accept a nil *Metrics and skip recording, so tests and
// embedders that do not scrape can run without a registry.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the centralized metric set for the realtime core.
type Metrics struct {
	// AttemptCounter counts connection attempts.
	// Labels: strategy, outcome (success|failure|timeout)
	AttemptCounter *prometheus.CounterVec

	// AttemptDuration measures connection attempt latency in seconds.
	// Labels: strategy
	AttemptDuration *prometheus.HistogramVec

	// ConnectionState tracks the current state as a one-hot gauge.
	// Labels: state
	ConnectionState *prometheus.GaugeVec

	// ReconnectCounter counts caller-initiated recoveries from degraded.
	ReconnectCounter prometheus.Counter

	// OnlineParticipants is the current number of online participants.
	OnlineParticipants prometheus.Gauge

	// PresenceEventCounter counts presence mutations.
	// Labels: event (added|removed|status|typing|read)
	PresenceEventCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics. Passing a nil registerer
// uses the Prometheus default registry; tests pass their own to avoid
// duplicate-registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		AttemptCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "realtime_connection_attempts_total",
				Help: "Total connection attempts by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),

		AttemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "realtime_connection_attempt_duration_seconds",
				Help:    "Connection attempt duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 8, 15, 30, 60},
			},
			[]string{"strategy"},
		),

		ConnectionState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "realtime_connection_state",
				Help: "Current connection state (one-hot per state label)",
			},
			[]string{"state"},
		),

		ReconnectCounter: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "realtime_reconnects_total",
				Help: "Total caller-initiated reconnects from the degraded state",
			},
		),

		OnlineParticipants: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "realtime_online_participants",
				Help: "Current number of participants with online status",
			},
		),

		PresenceEventCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "realtime_presence_events_total",
				Help: "Total presence mutations by event kind",
			},
			[]string{"event"},
		),
	}
}

// RecordAttempt records one connection attempt.
func (m *Metrics) RecordAttempt(strategy, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.AttemptCounter.WithLabelValues(strategy, outcome).Inc()
	m.AttemptDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// SetConnectionState marks the given state active and all others inactive.
func (m *Metrics) SetConnectionState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		value := 0.0
		if s == state {
			value = 1.0
		}
		m.ConnectionState.WithLabelValues(s).Set(value)
	}
}

// RecordReconnect counts a caller-initiated recovery.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.ReconnectCounter.Inc()
}

// SetOnlineParticipants updates the online population gauge.
func (m *Metrics) SetOnlineParticipants(n int) {
	if m == nil {
		return
	}
	m.OnlineParticipants.Set(float64(n))
}

// RecordPresenceEvent counts a presence mutation.
func (m *Metrics) RecordPresenceEvent(event string) {
	if m == nil {
		return
	}
	m.PresenceEventCounter.WithLabelValues(event).Inc()
}
