// Package backend defines the capability interface for the external
// messaging backend. The realtime core never implements the backend's wire
// protocol; it consumes an opaque connect/close/ping/subscribe surface and
// treats everything behind it as a black box.
package backend

import (
	"context"
	"time"
)

// EventType classifies a backend push event.
type EventType string

const (
	// EventPresence carries a participant status change.
	EventPresence EventType = "presence"
	// EventTyping carries a typing indicator change.
	EventTyping EventType = "typing"
	// EventRead carries a read receipt.
	EventRead EventType = "read"
)

// Event is a push event forwarded from the backend's live stream.
type Event struct {
	Type          EventType
	ParticipantID string
	ChannelID     string
	MessageID     string
	// Status is set for presence events (online, offline, away, busy).
	Status string
	// IsTyping is set for typing events.
	IsTyping  bool
	Timestamp time.Time
}

// Identity identifies the connecting user to the backend.
type Identity struct {
	UserID      string
	DisplayName string
}

// Credentials authenticates the connecting user. Token is an opaque bearer
// token; backends that issue JWTs get a local expiry pre-flight before any
// network attempt.
type Credentials struct {
	Token string
}

// Session is a live backend session. It is owned exclusively by the
// connection manager; other components only consume the event stream.
type Session interface {
	// Close terminates the session. It suspends briefly and is safe to
	// call on an already-closed session.
	Close(ctx context.Context) error

	// Ping performs a lightweight liveness probe against the backend.
	Ping(ctx context.Context) error

	// Events returns the long-lived push event stream. The channel is
	// closed when the session ends.
	Events() <-chan Event
}

// Backend establishes sessions against the external messaging service.
type Backend interface {
	// Connect establishes a session. It suspends and honors ctx deadlines;
	// the connection manager races it against a per-attempt timeout.
	Connect(ctx context.Context, identity Identity, credentials Credentials) (Session, error)
}
