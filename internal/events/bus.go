// Package events provides the typed publish/subscribe bus used by the
// connection manager and the presence store to notify consumers of state
// changes. Each event type carries a fixed payload shape; handlers are
// isolated from one another so a panicking subscriber cannot starve the
// rest.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Type identifies an event on the bus.
type Type string

const (
	// Connection lifecycle events.
	TypeConnectionStateChanged Type = "connection.state_changed"
	TypeConnected              Type = "connection.connected"
	TypeDisconnected           Type = "connection.disconnected"
	TypeConnectionDegraded     Type = "connection.degraded"
	TypeConnectionError        Type = "connection.error"

	// Presence events.
	TypeParticipantAdded   Type = "presence.participant_added"
	TypeParticipantRemoved Type = "presence.participant_removed"
	TypeStatusUpdated      Type = "presence.status_updated"
	TypeParticipantUpdated Type = "presence.participant_updated"
	TypeTypingUpdated      Type = "presence.typing_updated"
	TypeMessageRead        Type = "presence.message_read"
)

// ConnectionPayload describes a connection state change.
type ConnectionPayload struct {
	// State is the new connection state.
	State string `json:"state"`
	// Previous is the state before the transition.
	Previous string `json:"previous,omitempty"`
	// Strategy is the strategy in play, if any.
	Strategy string `json:"strategy,omitempty"`
	// Quality is the assessed connection quality, if connected.
	Quality string `json:"quality,omitempty"`
	// Attempts is the number of attempts made so far.
	Attempts int `json:"attempts,omitempty"`
	// Elapsed is the time spent on the connect sequence.
	Elapsed time.Duration `json:"elapsed,omitempty"`
}

// ErrorPayload describes a terminal connection error.
type ErrorPayload struct {
	Message string `json:"message"`
	// Permanent is true for auth/config failures that retrying cannot fix.
	Permanent bool `json:"permanent"`
	// LastStrategy is the last strategy tried before giving up.
	LastStrategy string `json:"last_strategy,omitempty"`
	Attempts     int    `json:"attempts,omitempty"`
}

// ParticipantPayload describes a participant change.
type ParticipantPayload struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name,omitempty"`
	Status        string `json:"status,omitempty"`
	Previous      string `json:"previous,omitempty"`
	// Source records what caused the change (backend-push, manual,
	// heartbeat-sweep, activity-timeout). Diagnostics only.
	Source string `json:"source,omitempty"`
}

// TypingPayload describes a typing indicator change.
type TypingPayload struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name,omitempty"`
	ChannelID     string `json:"channel_id"`
	IsTyping      bool   `json:"is_typing"`
}

// ReceiptPayload describes a read receipt.
type ReceiptPayload struct {
	ParticipantID string    `json:"participant_id"`
	ChannelID     string    `json:"channel_id"`
	MessageID     string    `json:"message_id"`
	ReadAt        time.Time `json:"read_at"`
}

// Event is a single bus event. Exactly one payload pointer is set,
// matching the Type.
type Event struct {
	Type     Type      `json:"type"`
	Time     time.Time `json:"time"`
	Sequence uint64    `json:"sequence"`

	Connection  *ConnectionPayload  `json:"connection,omitempty"`
	Error       *ErrorPayload       `json:"error,omitempty"`
	Participant *ParticipantPayload `json:"participant,omitempty"`
	Typing      *TypingPayload      `json:"typing,omitempty"`
	Receipt     *ReceiptPayload     `json:"receipt,omitempty"`
}

// Handler receives published events.
type Handler func(Event)

// Subscription identifies a registered handler so it can be removed.
type Subscription struct {
	id        string
	eventType Type
}

// Bus is a minimal typed publish/subscribe bus. The zero value is not
// usable; construct with NewBus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type]map[string]Handler
	sequence uint64
	logger   *slog.Logger
}

// NewBus creates an event bus. logger may be nil.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[Type]map[string]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event type and returns a
// subscription handle for later removal.
func (b *Bus) Subscribe(eventType Type, handler Handler) Subscription {
	sub := Subscription{
		id:        uuid.New().String(),
		eventType: eventType,
	}
	if handler == nil {
		return sub
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	byID := b.handlers[eventType]
	if byID == nil {
		byID = make(map[string]Handler)
		b.handlers[eventType] = byID
	}
	byID[sub.id] = handler

	return sub
}

// Unsubscribe removes a previously registered handler. Removing an unknown
// subscription is a no-op.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	byID, ok := b.handlers[sub.eventType]
	if !ok {
		return
	}
	delete(byID, sub.id)
	if len(byID) == 0 {
		delete(b.handlers, sub.eventType)
	}
}

// Publish delivers the event to every handler registered for its type.
// Handlers run on the caller's goroutine, outside the bus lock, and each
// invocation is isolated: a panic is recovered and logged without
// affecting the remaining handlers or the publisher.
func (b *Bus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	event.Sequence = atomic.AddUint64(&b.sequence, 1)

	b.mu.RLock()
	byID := b.handlers[event.Type]
	handlers := make([]Handler, 0, len(byID))
	for _, h := range byID {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.invoke(handler, event)
	}
}

func (b *Bus) invoke(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event_type", string(event.Type),
				"panic", r,
			)
		}
	}()
	handler(event)
}

// SubscriberCount returns the number of handlers registered for a type.
func (b *Bus) SubscriberCount(eventType Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
