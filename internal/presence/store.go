package presence

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/crewline/realtime/internal/events"
	"github.com/crewline/realtime/internal/observability"
)

// Config configures the presence store's timeout thresholds and timer
// cadence.
type Config struct {
	// TypingTimeout is how long a typing indicator lives without refresh.
	TypingTimeout time.Duration
	// AwayThreshold downgrades an inactive online participant to away.
	AwayThreshold time.Duration
	// OfflineThreshold downgrades an inactive participant to offline.
	OfflineThreshold time.Duration
	// SweepInterval is the cadence of the heartbeat sweep backstop.
	SweepInterval time.Duration
	// TickInterval is the resolution of deadline evaluation.
	TickInterval time.Duration
}

// DefaultConfig returns baseline presence settings.
func DefaultConfig() Config {
	return Config{
		TypingTimeout:    3 * time.Second,
		AwayThreshold:    5 * time.Minute,
		OfflineThreshold: 10 * time.Minute,
		SweepInterval:    30 * time.Second,
		TickInterval:     500 * time.Millisecond,
	}
}

type typingKey struct {
	participantID string
	channelID     string
}

type receiptKey struct {
	participantID string
	messageID     string
}

// Store is the in-memory authority for participant presence. All state is
// guarded by one mutex; event emission happens outside the lock so a
// subscriber that re-enters the store cannot deadlock it.
type Store struct {
	config  Config
	bus     *events.Bus
	logger  *slog.Logger
	metrics *observability.Metrics

	// now is injectable so tests drive a virtual clock.
	now func() time.Time

	mu           sync.Mutex
	participants map[string]*Participant
	typing       map[typingKey]*TypingIndicator
	receipts     map[string]map[receiptKey]ReadReceipt
	deadlines    deadlineQueue
	epochs       map[string]uint64
	typingEpochs map[typingKey]uint64

	quit    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	started bool
	closed  bool
}

// NewStore creates a presence store. bus, logger, and metrics may be nil.
func NewStore(config Config, bus *events.Bus, logger *slog.Logger, metrics *observability.Metrics) *Store {
	defaults := DefaultConfig()
	if config.TypingTimeout <= 0 {
		config.TypingTimeout = defaults.TypingTimeout
	}
	if config.AwayThreshold <= 0 {
		config.AwayThreshold = defaults.AwayThreshold
	}
	if config.OfflineThreshold <= 0 {
		config.OfflineThreshold = defaults.OfflineThreshold
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.TickInterval <= 0 {
		config.TickInterval = defaults.TickInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		config:       config,
		bus:          bus,
		logger:       logger,
		metrics:      metrics,
		now:          time.Now,
		participants: make(map[string]*Participant),
		typing:       make(map[typingKey]*TypingIndicator),
		receipts:     make(map[string]map[receiptKey]ReadReceipt),
		epochs:       make(map[string]uint64),
		typingEpochs: make(map[typingKey]uint64),
		quit:         make(chan struct{}),
	}
}

// Start launches the sweep/deadline loop. Safe to call once; subsequent
// calls are no-ops.
func (s *Store) Start() {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run()
}

// Close stops the sweep loop and any attached streams and cancels every
// pending deadline. Idempotent.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	done := s.done
	s.mu.Unlock()

	close(s.quit)
	if done != nil {
		<-done
	}
	s.wg.Wait()

	s.mu.Lock()
	s.deadlines = nil
	s.mu.Unlock()
}

// run is the single timer loop: deadlines are evaluated every tick, and
// the coarse heartbeat sweep runs on its own interval as the backstop for
// participants whose precise deadlines were lost to clock skew or crash.
func (s *Store) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	lastSweep := s.now()
	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			now := s.now()
			sweepDue := now.Sub(lastSweep) >= s.config.SweepInterval
			if sweepDue {
				lastSweep = now
			}
			s.evaluate(now, sweepDue)
		}
	}
}

// evaluate runs due deadlines and optionally the sweep, then publishes
// the resulting events.
func (s *Store) evaluate(now time.Time, sweep bool) {
	s.mu.Lock()
	evs := s.expireDeadlinesLocked(now)
	if sweep {
		evs = append(evs, s.sweepLocked(now)...)
	}
	s.mu.Unlock()

	s.publish(evs)
}

// AddParticipant registers a participant. A participant missing required
// fields is rejected and logged rather than stored in an invalid state;
// re-adding a present id is a no-op that does not reset timers.
func (s *Store) AddParticipant(p Participant) {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.DisplayName) == "" {
		s.logger.Warn("rejecting malformed participant",
			"participant_id", p.ID,
			"display_name", p.DisplayName,
		)
		return
	}
	if p.Role == "" {
		p.Role = RoleParticipant
	}
	if !p.Role.Valid() {
		s.logger.Warn("rejecting participant with unknown role",
			"participant_id", p.ID,
			"role", string(p.Role),
		)
		return
	}
	if p.Status == "" {
		p.Status = StatusOffline
	}
	if !p.Status.Valid() {
		s.logger.Warn("rejecting participant with unknown status",
			"participant_id", p.ID,
			"status", string(p.Status),
		)
		return
	}

	s.mu.Lock()
	if _, exists := s.participants[p.ID]; exists {
		s.mu.Unlock()
		return
	}

	now := s.now()
	if p.LastActivity.IsZero() {
		p.LastActivity = now
	}
	stored := p
	s.participants[p.ID] = &stored
	s.scheduleAwayLocked(&stored)
	online := s.onlineCountLocked()
	s.mu.Unlock()

	s.metrics.RecordPresenceEvent("added")
	s.metrics.SetOnlineParticipants(online)
	s.publish([]events.Event{{
		Type: events.TypeParticipantAdded,
		Participant: &events.ParticipantPayload{
			ParticipantID: p.ID,
			DisplayName:   p.DisplayName,
			Status:        string(p.Status),
		},
	}})
}

// RemoveParticipant deregisters a participant and releases every typing
// indicator, read receipt, and pending deadline scoped to it. No-op for
// unknown ids.
func (s *Store) RemoveParticipant(id string) {
	s.mu.Lock()
	p, exists := s.participants[id]
	if !exists {
		s.mu.Unlock()
		return
	}

	delete(s.participants, id)
	// Pending away deadlines need no tombstone: they are filtered on the
	// participant lookup and the last-activity guard when they surface.
	delete(s.epochs, id)
	for key := range s.typing {
		if key.participantID == id {
			delete(s.typing, key)
			delete(s.typingEpochs, key)
		}
	}
	for channelID, byKey := range s.receipts {
		for key := range byKey {
			if key.participantID == id {
				delete(byKey, key)
			}
		}
		if len(byKey) == 0 {
			delete(s.receipts, channelID)
		}
	}
	displayName := p.DisplayName
	online := s.onlineCountLocked()
	s.mu.Unlock()

	s.metrics.RecordPresenceEvent("removed")
	s.metrics.SetOnlineParticipants(online)
	s.publish([]events.Event{{
		Type: events.TypeParticipantRemoved,
		Participant: &events.ParticipantPayload{
			ParticipantID: id,
			DisplayName:   displayName,
		},
	}})
}

// UpdateStatus changes a participant's status. No-op for unknown ids and
// unchanged statuses. source is recorded on the emitted events for
// diagnostics only.
func (s *Store) UpdateStatus(id string, status Status, source Source) {
	if !status.Valid() {
		s.logger.Warn("ignoring unknown status",
			"participant_id", id,
			"status", string(status),
		)
		return
	}

	s.mu.Lock()
	p, exists := s.participants[id]
	if !exists || p.Status == status {
		s.mu.Unlock()
		return
	}

	now := s.now()
	evs := s.applyStatusLocked(p, status, source, now, true)
	online := s.onlineCountLocked()
	s.mu.Unlock()

	s.metrics.RecordPresenceEvent("status")
	s.metrics.SetOnlineParticipants(online)
	s.publish(evs)
}

// SetTyping upserts or clears a typing indicator for (participant,
// channel). A repeated start within the timeout refreshes the expiry
// rather than stacking a second indicator.
func (s *Store) SetTyping(id, channelID string, isTyping bool) {
	if strings.TrimSpace(channelID) == "" {
		s.logger.Warn("ignoring typing update without channel", "participant_id", id)
		return
	}

	s.mu.Lock()
	p, exists := s.participants[id]
	if !exists {
		s.mu.Unlock()
		s.logger.Warn("ignoring typing update for unknown participant", "participant_id", id)
		return
	}

	now := s.now()
	key := typingKey{participantID: id, channelID: channelID}

	if isTyping {
		indicator, present := s.typing[key]
		if !present {
			indicator = &TypingIndicator{
				ParticipantID: id,
				DisplayName:   p.DisplayName,
				ChannelID:     channelID,
				StartedAt:     now,
			}
			s.typing[key] = indicator
		}
		indicator.ExpiresAt = now.Add(s.config.TypingTimeout)
		s.typingEpochs[key]++
		s.deadlines.push(&deadline{
			at:            indicator.ExpiresAt,
			kind:          deadlineTyping,
			participantID: id,
			channelID:     channelID,
			epoch:         s.typingEpochs[key],
		})
		p.IsTyping = true
		s.markActivityLocked(p, now)
	} else {
		if _, present := s.typing[key]; !present {
			s.mu.Unlock()
			return
		}
		delete(s.typing, key)
		delete(s.typingEpochs, key)
		p.IsTyping = s.participantTypingLocked(id)
		s.markActivityLocked(p, now)
	}
	displayName := p.DisplayName
	s.mu.Unlock()

	s.metrics.RecordPresenceEvent("typing")
	s.publish([]events.Event{{
		Type: events.TypeTypingUpdated,
		Typing: &events.TypingPayload{
			ParticipantID: id,
			DisplayName:   displayName,
			ChannelID:     channelID,
			IsTyping:      isTyping,
		},
	}})
}

// MarkRead upserts a read receipt keyed by (participant, message) within
// the channel. Last write wins.
func (s *Store) MarkRead(id, messageID, channelID string) {
	if strings.TrimSpace(messageID) == "" || strings.TrimSpace(channelID) == "" {
		s.logger.Warn("ignoring malformed read receipt",
			"participant_id", id,
			"message_id", messageID,
			"channel_id", channelID,
		)
		return
	}

	s.mu.Lock()
	p, exists := s.participants[id]
	if !exists {
		s.mu.Unlock()
		s.logger.Warn("ignoring read receipt for unknown participant", "participant_id", id)
		return
	}

	now := s.now()
	byKey := s.receipts[channelID]
	if byKey == nil {
		byKey = make(map[receiptKey]ReadReceipt)
		s.receipts[channelID] = byKey
	}
	byKey[receiptKey{participantID: id, messageID: messageID}] = ReadReceipt{
		MessageID:     messageID,
		ParticipantID: id,
		ChannelID:     channelID,
		ReadAt:        now,
	}
	p.LastReadMessageID = messageID
	s.markActivityLocked(p, now)
	s.mu.Unlock()

	s.metrics.RecordPresenceEvent("read")
	s.publish([]events.Event{{
		Type: events.TypeMessageRead,
		Receipt: &events.ReceiptPayload{
			ParticipantID: id,
			ChannelID:     channelID,
			MessageID:     messageID,
			ReadAt:        now,
		},
	}})
}

// Participant returns a copy of the participant, if present.
func (s *Store) Participant(id string) (Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.participants[id]
	if !exists {
		return Participant{}, false
	}
	return *p, true
}

// OnlineParticipants returns copies of all participants with online
// status, ordered by id.
func (s *Store) OnlineParticipants() []Participant {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Participant
	for _, p := range s.participants {
		if p.IsOnline() {
			out = append(out, *p)
		}
	}
	slices.SortFunc(out, func(a, b Participant) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// TypingParticipants returns the active, unexpired typing indicators for
// a channel, ordered by participant id.
func (s *Store) TypingParticipants(channelID string) []TypingIndicator {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []TypingIndicator
	for key, indicator := range s.typing {
		if key.channelID != channelID {
			continue
		}
		if !indicator.ExpiresAt.After(now) {
			continue
		}
		out = append(out, *indicator)
	}
	slices.SortFunc(out, func(a, b TypingIndicator) int {
		return strings.Compare(a.ParticipantID, b.ParticipantID)
	})
	return out
}

// ReadReceipts returns the receipts for a message within a channel,
// ordered by participant id.
func (s *Store) ReadReceipts(messageID, channelID string) []ReadReceipt {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ReadReceipt
	for key, receipt := range s.receipts[channelID] {
		if key.messageID == messageID {
			out = append(out, receipt)
		}
	}
	slices.SortFunc(out, func(a, b ReadReceipt) int {
		return strings.Compare(a.ParticipantID, b.ParticipantID)
	})
	return out
}

// applyStatusLocked performs the status transition and returns the events
// to publish after unlock. touchActivity is false for automatic downgrades
// (sweep, activity timeout) so inactivity keeps accruing toward the next
// threshold.
func (s *Store) applyStatusLocked(p *Participant, status Status, source Source, now time.Time, touchActivity bool) []events.Event {
	previous := p.Status
	p.Status = status
	if status == StatusOffline {
		p.LastSeenAt = now
	}
	if touchActivity {
		s.markActivityLocked(p, now)
	}

	payload := func() *events.ParticipantPayload {
		return &events.ParticipantPayload{
			ParticipantID: p.ID,
			DisplayName:   p.DisplayName,
			Status:        string(status),
			Previous:      string(previous),
			Source:        string(source),
		}
	}
	return []events.Event{
		{Type: events.TypeStatusUpdated, Participant: payload()},
		{Type: events.TypeParticipantUpdated, Participant: payload()},
	}
}

// markActivityLocked refreshes the activity clock and reschedules the
// precise away deadline.
func (s *Store) markActivityLocked(p *Participant, now time.Time) {
	p.LastActivity = now
	s.epochs[p.ID]++
	s.scheduleAwayLocked(p)
}

// scheduleAwayLocked arms the away deadline for an online participant.
func (s *Store) scheduleAwayLocked(p *Participant) {
	if p.Status != StatusOnline {
		return
	}
	s.deadlines.push(&deadline{
		at:            p.LastActivity.Add(s.config.AwayThreshold),
		kind:          deadlineAway,
		participantID: p.ID,
		epoch:         s.epochs[p.ID],
	})
}

// expireDeadlinesLocked drains all due deadlines, skipping entries
// invalidated by later activity.
func (s *Store) expireDeadlinesLocked(now time.Time) []events.Event {
	var evs []events.Event
	for {
		d := s.deadlines.popDue(now)
		if d == nil {
			return evs
		}

		switch d.kind {
		case deadlineAway:
			p, exists := s.participants[d.participantID]
			if !exists || s.epochs[d.participantID] != d.epoch {
				continue
			}
			inactive := now.Sub(p.LastActivity)
			if p.Status != StatusOnline || inactive < s.config.AwayThreshold {
				continue
			}
			// A deadline surfacing after the offline threshold (delayed
			// evaluation) skips the intermediate away state.
			target := StatusAway
			if inactive >= s.config.OfflineThreshold {
				target = StatusOffline
			}
			evs = append(evs, s.applyStatusLocked(p, target, SourceActivityTimeout, now, false)...)

		case deadlineTyping:
			key := typingKey{participantID: d.participantID, channelID: d.channelID}
			indicator, present := s.typing[key]
			if !present || s.typingEpochs[key] != d.epoch {
				continue
			}
			if indicator.ExpiresAt.After(now) {
				continue
			}
			delete(s.typing, key)
			delete(s.typingEpochs, key)
			displayName := indicator.DisplayName
			if p, exists := s.participants[d.participantID]; exists {
				p.IsTyping = s.participantTypingLocked(d.participantID)
				displayName = p.DisplayName
			}
			evs = append(evs, events.Event{
				Type: events.TypeTypingUpdated,
				Typing: &events.TypingPayload{
					ParticipantID: d.participantID,
					DisplayName:   displayName,
					ChannelID:     d.channelID,
					IsTyping:      false,
				},
			})
		}
	}
}

// sweepLocked is the heartbeat backstop: it reconciles every participant
// against the away/offline thresholds regardless of individual deadline
// precision, reclaiming state when a client crashed without a clean
// disconnect.
func (s *Store) sweepLocked(now time.Time) []events.Event {
	var evs []events.Event
	for _, p := range s.participants {
		inactive := now.Sub(p.LastActivity)
		switch p.Status {
		case StatusOnline:
			if inactive >= s.config.OfflineThreshold {
				evs = append(evs, s.applyStatusLocked(p, StatusOffline, SourceHeartbeatSweep, now, false)...)
			} else if inactive >= s.config.AwayThreshold {
				evs = append(evs, s.applyStatusLocked(p, StatusAway, SourceHeartbeatSweep, now, false)...)
			}
		case StatusAway:
			if inactive >= s.config.OfflineThreshold {
				evs = append(evs, s.applyStatusLocked(p, StatusOffline, SourceHeartbeatSweep, now, false)...)
			}
		}
	}
	return evs
}

// participantTypingLocked reports whether any channel still has a typing
// indicator for the participant.
func (s *Store) participantTypingLocked(id string) bool {
	for key := range s.typing {
		if key.participantID == id {
			return true
		}
	}
	return false
}

// onlineCountLocked counts online participants for the population gauge.
func (s *Store) onlineCountLocked() int {
	count := 0
	for _, p := range s.participants {
		if p.IsOnline() {
			count++
		}
	}
	return count
}

func (s *Store) publish(evs []events.Event) {
	if s.bus == nil {
		return
	}
	for _, e := range evs {
		s.bus.Publish(e)
	}
}
