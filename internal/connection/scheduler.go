package connection

import (
	"math"
	"math/rand"
	"time"

	"github.com/crewline/realtime/internal/backoff"
	"github.com/crewline/realtime/internal/diagnostics"
)

// Per-attempt timeout growth factor.
const attemptGrowthFactor = 1.2

// SchedulerConfig configures per-attempt timeouts and inter-attempt delays.
type SchedulerConfig struct {
	// BaseTimeout applies to the direct and multi-endpoint strategies.
	BaseTimeout time.Duration
	// ExtendedTimeout applies to extended-timeout and long-poll.
	ExtendedTimeout time.Duration
	// MaxTimeout caps every computed attempt timeout.
	MaxTimeout time.Duration
	// Backoff drives the inter-attempt retry delay.
	Backoff backoff.Policy
}

// DefaultSchedulerConfig returns baseline timeout settings.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BaseTimeout:     10 * time.Second,
		ExtendedTimeout: 20 * time.Second,
		MaxTimeout:      60 * time.Second,
		Backoff:         backoff.DefaultPolicy(),
	}
}

// Scheduler computes timeout-per-attempt and inter-attempt delay. Pure
// numeric computation with no I/O; the random source is injectable so
// tests can pin jitter.
type Scheduler struct {
	config SchedulerConfig
	rand   func() float64
}

// NewScheduler creates a scheduler with zero-value fixups.
func NewScheduler(config SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config.BaseTimeout <= 0 {
		config.BaseTimeout = defaults.BaseTimeout
	}
	if config.ExtendedTimeout <= 0 {
		config.ExtendedTimeout = defaults.ExtendedTimeout
	}
	if config.MaxTimeout <= 0 {
		config.MaxTimeout = defaults.MaxTimeout
	}
	if config.Backoff == (backoff.Policy{}) {
		config.Backoff = defaults.Backoff
	}
	return &Scheduler{
		config: config,
		rand:   rand.Float64, // #nosec G404 -- jitter does not require cryptographic randomness
	}
}

// WithRand replaces the random source. Tests use this for determinism.
func (s *Scheduler) WithRand(r func() float64) *Scheduler {
	s.rand = r
	return s
}

// TimeoutFor computes the timeout for one connection attempt. The base
// depends on the strategy, scaled by connectivity class and grown per
// attempt, capped at MaxTimeout.
func (s *Scheduler) TimeoutFor(strategy Strategy, attempt int, diag diagnostics.Result) time.Duration {
	base := s.config.BaseTimeout
	switch strategy {
	case StrategyExtendedTimeout, StrategyLongPoll:
		base = s.config.ExtendedTimeout
	}

	scaled := float64(base) * connectivityMultiplier(diag.Connectivity)

	exp := math.Max(float64(attempt-1), 0)
	grown := scaled * math.Pow(attemptGrowthFactor, exp)

	timeout := time.Duration(grown)
	if timeout > s.config.MaxTimeout {
		timeout = s.config.MaxTimeout
	}
	return timeout
}

// DelayBeforeRetry computes the jittered exponential backoff before the
// next attempt. Attempt numbers start at 1.
func (s *Scheduler) DelayBeforeRetry(attempt int) time.Duration {
	return backoff.ComputeWithRand(s.config.Backoff, attempt, s.rand())
}

// connectivityMultiplier stretches timeouts on worse links. Offline is
// treated like poor: the probe may be wrong and the attempt still runs.
func connectivityMultiplier(c diagnostics.Connectivity) float64 {
	switch c {
	case diagnostics.ConnectivityPoor, diagnostics.ConnectivityOffline:
		return 2.0
	case diagnostics.ConnectivityGood:
		return 1.5
	default:
		return 1.0
	}
}
