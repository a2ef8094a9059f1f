package connection

import (
	"testing"
	"time"

	"github.com/crewline/realtime/internal/backoff"
	"github.com/crewline/realtime/internal/diagnostics"
)

func TestTimeoutFor_NeverExceedsMax(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		BaseTimeout:     10 * time.Second,
		ExtendedTimeout: 20 * time.Second,
		MaxTimeout:      60 * time.Second,
	})

	strategies := []Strategy{
		StrategyDirect, StrategyExtendedTimeout, StrategyMultiEndpoint,
		StrategyLongPoll, StrategyStreamFallback,
	}
	classes := []diagnostics.Connectivity{
		diagnostics.ConnectivityExcellent,
		diagnostics.ConnectivityGood,
		diagnostics.ConnectivityPoor,
		diagnostics.ConnectivityOffline,
	}

	for _, strategy := range strategies {
		for _, class := range classes {
			for attempt := 1; attempt <= 30; attempt++ {
				got := s.TimeoutFor(strategy, attempt, diagnostics.Result{Connectivity: class})
				if got > 60*time.Second {
					t.Errorf("TimeoutFor(%s, %d, %s) = %v, exceeds max", strategy, attempt, class, got)
				}
				if got <= 0 {
					t.Errorf("TimeoutFor(%s, %d, %s) = %v, want > 0", strategy, attempt, class, got)
				}
			}
		}
	}
}

func TestTimeoutFor_StrategyBases(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		BaseTimeout:     10 * time.Second,
		ExtendedTimeout: 20 * time.Second,
		MaxTimeout:      60 * time.Second,
	})
	diag := diagnostics.Result{Connectivity: diagnostics.ConnectivityExcellent}

	if got := s.TimeoutFor(StrategyDirect, 1, diag); got != 10*time.Second {
		t.Errorf("TimeoutFor(direct) = %v, want 10s", got)
	}
	if got := s.TimeoutFor(StrategyMultiEndpoint, 1, diag); got != 10*time.Second {
		t.Errorf("TimeoutFor(multi-endpoint) = %v, want 10s", got)
	}
	if got := s.TimeoutFor(StrategyExtendedTimeout, 1, diag); got != 20*time.Second {
		t.Errorf("TimeoutFor(extended-timeout) = %v, want 20s", got)
	}
	if got := s.TimeoutFor(StrategyLongPoll, 1, diag); got != 20*time.Second {
		t.Errorf("TimeoutFor(long-poll) = %v, want 20s", got)
	}
}

func TestTimeoutFor_ConnectivityScaling(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		BaseTimeout:     10 * time.Second,
		ExtendedTimeout: 20 * time.Second,
		MaxTimeout:      120 * time.Second,
	})

	tests := []struct {
		class diagnostics.Connectivity
		want  time.Duration
	}{
		{diagnostics.ConnectivityExcellent, 10 * time.Second},
		{diagnostics.ConnectivityGood, 15 * time.Second},
		{diagnostics.ConnectivityPoor, 20 * time.Second},
		{diagnostics.ConnectivityOffline, 20 * time.Second},
	}

	for _, tt := range tests {
		got := s.TimeoutFor(StrategyDirect, 1, diagnostics.Result{Connectivity: tt.class})
		if got != tt.want {
			t.Errorf("TimeoutFor(direct, 1, %s) = %v, want %v", tt.class, got, tt.want)
		}
	}
}

func TestTimeoutFor_GrowsWithAttempt(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		BaseTimeout:     10 * time.Second,
		ExtendedTimeout: 20 * time.Second,
		MaxTimeout:      120 * time.Second,
	})
	diag := diagnostics.Result{Connectivity: diagnostics.ConnectivityExcellent}

	first := s.TimeoutFor(StrategyDirect, 1, diag)
	second := s.TimeoutFor(StrategyDirect, 2, diag)
	third := s.TimeoutFor(StrategyDirect, 3, diag)

	if second != time.Duration(float64(first)*1.2) {
		t.Errorf("TimeoutFor(attempt 2) = %v, want %v", second, time.Duration(float64(first)*1.2))
	}
	if third <= second {
		t.Errorf("TimeoutFor(attempt 3) = %v, want > %v", third, second)
	}
}

func TestDelayBeforeRetry_NoJitterSequence(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		Backoff: backoff.Policy{InitialMs: 1000, MaxMs: 30000, Factor: 1.5, Jitter: 0},
	}).WithRand(func() float64 { return 0 })

	want := []time.Duration{
		1000 * time.Millisecond,
		1500 * time.Millisecond,
		2250 * time.Millisecond,
	}
	for i, expected := range want {
		if got := s.DelayBeforeRetry(i + 1); got != expected {
			t.Errorf("DelayBeforeRetry(%d) = %v, want %v", i+1, got, expected)
		}
	}
}

func TestDelayBeforeRetry_MonotonicAndCapped(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		Backoff: backoff.Policy{InitialMs: 1000, MaxMs: 30000, Factor: 1.5, Jitter: 0},
	}).WithRand(func() float64 { return 0 })

	var prev time.Duration
	for attempt := 1; attempt <= 30; attempt++ {
		got := s.DelayBeforeRetry(attempt)
		if got < prev {
			t.Errorf("DelayBeforeRetry(%d) = %v, decreased from %v", attempt, got, prev)
		}
		if got > 30*time.Second {
			t.Errorf("DelayBeforeRetry(%d) = %v, exceeds cap", attempt, got)
		}
		prev = got
	}
}

func TestDelayBeforeRetry_JitterBound(t *testing.T) {
	// The cap bounds the deterministic part; jitter rides on top of it, so
	// the worst case is cap plus the full jitter fraction of the cap.
	s := NewScheduler(SchedulerConfig{
		Backoff: backoff.Policy{InitialMs: 1000, MaxMs: 30000, Factor: 1.5, Jitter: 0.3},
	}).WithRand(func() float64 { return 1 })

	limit := time.Duration(30000*1.3)*time.Millisecond + time.Millisecond
	for attempt := 1; attempt <= 30; attempt++ {
		if got := s.DelayBeforeRetry(attempt); got > limit {
			t.Errorf("DelayBeforeRetry(%d) = %v, exceeds jittered bound %v", attempt, got, limit)
		}
	}

	far := s.DelayBeforeRetry(30)
	want := time.Duration(30000*1.3) * time.Millisecond
	if far != want {
		t.Errorf("DelayBeforeRetry(30) with full jitter = %v, want %v", far, want)
	}
}
