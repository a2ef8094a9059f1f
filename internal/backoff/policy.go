// Package backoff provides exponential backoff arithmetic with jitter for
// the connection retry loop.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// InitialMs is the initial backoff duration in milliseconds.
	InitialMs float64
	// MaxMs is the maximum backoff duration in milliseconds, before jitter.
	MaxMs float64
	// Factor is the exponential factor applied per attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) added on top of the
	// capped backoff.
	Jitter float64
}

// DefaultPolicy returns the backoff policy used for connection retries.
// Initial: 1s, Max: 30s, Factor: 1.5, Jitter: 30%.
func DefaultPolicy() Policy {
	return Policy{
		InitialMs: 1000,
		MaxMs:     30000,
		Factor:    1.5,
		Jitter:    0.3,
	}
}

// Compute calculates the backoff duration for a given attempt number.
// Attempt numbers start at 1.
func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeWithRand calculates the backoff duration using a provided random
// value in [0.0, 1.0). Tests pass a fixed value for deterministic results.
//
// The deterministic part is min(maxMs, initialMs * factor^(attempt-1));
// jitter rides on top of the capped value so retry storms still spread out
// once the cap is reached.
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)

	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	capped := math.Min(policy.MaxMs, base)

	jitterAmount := capped * policy.Jitter * randomValue

	return time.Duration(math.Round(capped+jitterAmount)) * time.Millisecond
}
