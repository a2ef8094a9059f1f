package connection

import (
	"sync"
	"time"

	"github.com/crewline/realtime/internal/diagnostics"
)

// Attempt is the historical record of one connection attempt. History is
// observability only; nothing in the retry loop reads past attempts.
type Attempt struct {
	// ID uniquely identifies the attempt.
	ID string
	// Strategy used for this attempt.
	Strategy Strategy
	// Number is the 1-indexed attempt count within the strategy.
	Number int
	// StartedAt is when the attempt began.
	StartedAt time.Time
	// Duration is how long the attempt ran.
	Duration time.Duration
	// Success reports the outcome.
	Success bool
	// TimedOut is true when the attempt hit its computed timeout rather
	// than being rejected. Slow timeouts suggest network trouble; fast
	// rejections suggest auth/config trouble.
	TimedOut bool
	// Quality is set on success, derived from Duration.
	Quality Quality
	// Diagnostics is the probe snapshot the sequence ran under.
	Diagnostics diagnostics.Result
	// Err holds the failure, if any.
	Err error
}

// attemptHistory is a bounded ring of attempt records.
type attemptHistory struct {
	mu      sync.Mutex
	records []Attempt
	max     int
}

func newAttemptHistory(max int) *attemptHistory {
	if max <= 0 {
		max = 50
	}
	return &attemptHistory{max: max}
}

func (h *attemptHistory) add(a Attempt) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = append(h.records, a)
	if len(h.records) > h.max {
		h.records = h.records[len(h.records)-h.max:]
	}
}

func (h *attemptHistory) snapshot() []Attempt {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Attempt, len(h.records))
	copy(out, h.records)
	return out
}
