package backend

import "context"

// Noop is a null backend used when no live messaging service is
// configured. Connects always succeed, pings always pass, and the event
// stream stays silent. The presence store then runs purely on
// caller-supplied state, with no conditional wiring in its methods.
type Noop struct{}

// NewNoop returns the null backend.
func NewNoop() *Noop {
	return &Noop{}
}

// Connect returns a session that never emits events.
func (n *Noop) Connect(ctx context.Context, identity Identity, credentials Credentials) (Session, error) {
	return newNoopSession(), nil
}

type noopSession struct {
	events chan Event
}

func newNoopSession() *noopSession {
	return &noopSession{events: make(chan Event)}
}

func (s *noopSession) Close(ctx context.Context) error {
	return nil
}

func (s *noopSession) Ping(ctx context.Context) error {
	return nil
}

func (s *noopSession) Events() <-chan Event {
	return s.events
}
