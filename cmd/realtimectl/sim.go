// sim.go implements the in-memory backend used by the simulate command.
package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crewline/realtime/internal/backend"
)

// simBackend fails the first N connect attempts, then hands out sessions
// that stream a fixed event script.
type simBackend struct {
	mu       sync.Mutex
	failures int
	attempts int
	script   []backend.Event
}

func newSimBackend(failures int, script []backend.Event) *simBackend {
	return &simBackend{failures: failures, script: script}
}

func (b *simBackend) Connect(ctx context.Context, identity backend.Identity, credentials backend.Credentials) (backend.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.attempts++
	n := b.attempts
	b.mu.Unlock()

	if n <= b.failures {
		return nil, fmt.Errorf("simulated connect failure on attempt %d", n)
	}

	s := &simSession{events: make(chan backend.Event, len(b.script))}
	now := time.Now()
	for _, ev := range b.script {
		ev.Timestamp = now
		s.events <- ev
	}
	return s, nil
}

type simSession struct {
	closeOnce sync.Once
	events    chan backend.Event
}

func (s *simSession) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.events) })
	return nil
}

func (s *simSession) Ping(ctx context.Context) error { return ctx.Err() }

func (s *simSession) Events() <-chan backend.Event { return s.events }
