package backoff

import (
	"testing"
	"time"
)

func TestComputeWithRand_NoJitterSequence(t *testing.T) {
	policy := Policy{
		InitialMs: 1000,
		MaxMs:     30000,
		Factor:    1.5,
		Jitter:    0,
	}

	want := []time.Duration{
		1000 * time.Millisecond,
		1500 * time.Millisecond,
		2250 * time.Millisecond,
	}

	for i, expected := range want {
		got := ComputeWithRand(policy, i+1, 0)
		if got != expected {
			t.Errorf("ComputeWithRand(attempt=%d) = %v, want %v", i+1, got, expected)
		}
	}
}

func TestComputeWithRand_MonotonicUpToCap(t *testing.T) {
	policy := Policy{
		InitialMs: 500,
		MaxMs:     10000,
		Factor:    2,
		Jitter:    0,
	}

	var prev time.Duration
	for attempt := 1; attempt <= 20; attempt++ {
		got := ComputeWithRand(policy, attempt, 0)
		if got < prev {
			t.Errorf("ComputeWithRand(attempt=%d) = %v, decreased from %v", attempt, got, prev)
		}
		if got > 10*time.Second {
			t.Errorf("ComputeWithRand(attempt=%d) = %v, exceeds cap", attempt, got)
		}
		prev = got
	}
}

func TestComputeWithRand_JitterOnTopOfCap(t *testing.T) {
	policy := Policy{
		InitialMs: 1000,
		MaxMs:     2000,
		Factor:    2,
		Jitter:    0.3,
	}

	// Attempt 10 is far past the cap; deterministic part must be exactly
	// the cap, jitter adds up to 30% of it.
	min := ComputeWithRand(policy, 10, 0)
	if min != 2000*time.Millisecond {
		t.Errorf("ComputeWithRand(rand=0) = %v, want 2s", min)
	}

	max := ComputeWithRand(policy, 10, 0.999)
	if max <= min {
		t.Errorf("ComputeWithRand(rand=0.999) = %v, want > %v", max, min)
	}
	limit := time.Duration(2000*1.3)*time.Millisecond + time.Millisecond
	if max > limit {
		t.Errorf("ComputeWithRand(rand=0.999) = %v, want <= %v", max, limit)
	}
}

func TestCompute_AttemptClamping(t *testing.T) {
	policy := DefaultPolicy()

	zero := ComputeWithRand(policy, 0, 0)
	one := ComputeWithRand(policy, 1, 0)
	if zero != one {
		t.Errorf("ComputeWithRand(attempt=0) = %v, want same as attempt 1 (%v)", zero, one)
	}
}
