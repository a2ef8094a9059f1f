package presence

import (
	"container/heap"
	"time"
)

// deadlineKind distinguishes the scheduled transitions.
type deadlineKind int

const (
	// deadlineAway downgrades an inactive online participant to away.
	deadlineAway deadlineKind = iota
	// deadlineTyping expires a stale typing indicator.
	deadlineTyping
)

// deadline is one scheduled transition. Entries are invalidated lazily:
// every activity bumps the owner's epoch, and stale entries are dropped
// when they surface instead of being removed from the middle of the heap.
type deadline struct {
	at            time.Time
	kind          deadlineKind
	participantID string
	channelID     string
	epoch         uint64
}

// deadlineQueue is a min-heap of deadlines ordered by due time. A single
// queue evaluated on one tick replaces per-participant OS timers, which
// keeps the timer count O(1) and lets tests drive evaluation with an
// explicit clock.
type deadlineQueue []*deadline

func (q deadlineQueue) Len() int { return len(q) }

func (q deadlineQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }

func (q deadlineQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *deadlineQueue) Push(x any) {
	*q = append(*q, x.(*deadline))
}

func (q *deadlineQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// push adds a deadline, maintaining heap order.
func (q *deadlineQueue) push(d *deadline) {
	heap.Push(q, d)
}

// popDue removes and returns the earliest deadline if it is due at or
// before now, or nil when nothing is due.
func (q *deadlineQueue) popDue(now time.Time) *deadline {
	if len(*q) == 0 {
		return nil
	}
	if (*q)[0].at.After(now) {
		return nil
	}
	return heap.Pop(q).(*deadline)
}
