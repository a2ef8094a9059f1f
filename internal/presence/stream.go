package presence

import (
	"github.com/crewline/realtime/internal/backend"
)

// AttachStream consumes a backend push event stream and applies each event
// through the store's public operations, so backend pushes obey the same
// validation and no-op rules as local updates. It returns immediately; the
// consuming goroutine exits when the channel closes or the store is
// closed. Attach a new stream after every reconnect, since the backend
// closes the old channel with the old session.
func (s *Store) AttachStream(ch <-chan backend.Event) {
	if ch == nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.quit:
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				s.applyBackendEvent(ev)
			}
		}
	}()
}

func (s *Store) applyBackendEvent(ev backend.Event) {
	switch ev.Type {
	case backend.EventPresence:
		s.UpdateStatus(ev.ParticipantID, Status(ev.Status), SourceBackendPush)
	case backend.EventTyping:
		s.SetTyping(ev.ParticipantID, ev.ChannelID, ev.IsTyping)
	case backend.EventRead:
		s.MarkRead(ev.ParticipantID, ev.MessageID, ev.ChannelID)
	default:
		s.logger.Warn("ignoring unknown backend event type", "type", string(ev.Type))
	}
}
