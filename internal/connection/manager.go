// Package connection establishes and maintains the persistent session
// against the external messaging backend. It owns the connect state
// machine, the fallback-strategy loop with retry budget, the per-attempt
// timeout/backoff arithmetic, and post-connect health monitoring.
package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crewline/realtime/internal/backend"
	"github.com/crewline/realtime/internal/backoff"
	"github.com/crewline/realtime/internal/diagnostics"
	"github.com/crewline/realtime/internal/events"
	"github.com/crewline/realtime/internal/observability"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateDegraded     State = "degraded"
	StateFailed       State = "failed"
)

// AllStates lists every state, used for one-hot state metrics.
func AllStates() []string {
	return []string{
		string(StateDisconnected),
		string(StateConnecting),
		string(StateConnected),
		string(StateReconnecting),
		string(StateDegraded),
		string(StateFailed),
	}
}

// Config configures the connection manager.
type Config struct {
	// MaxRetries is the attempt budget per strategy.
	MaxRetries int
	// HealthInterval is the cadence of post-connect liveness checks.
	HealthInterval time.Duration
	// HealthTimeout bounds a single liveness probe.
	HealthTimeout time.Duration
	// HistorySize bounds the attempt history ring.
	HistorySize int
	// Selector enables/disables optional fallback strategies.
	Selector SelectorConfig
	// Scheduler drives per-attempt timeouts and retry delays.
	Scheduler SchedulerConfig
}

// DefaultConfig returns baseline manager settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		HealthInterval: 30 * time.Second,
		HealthTimeout:  5 * time.Second,
		HistorySize:    50,
		Selector: SelectorConfig{
			EnableLongPoll:       true,
			EnableStreamFallback: true,
		},
		Scheduler: DefaultSchedulerConfig(),
	}
}

// Manager orchestrates diagnostics, strategy selection, and the retry
// scheduler to establish a session, then monitors its health. One manager
// instance is reused across many connect/disconnect cycles.
type Manager struct {
	config    Config
	backend   backend.Backend
	prober    *diagnostics.Prober
	scheduler *Scheduler
	bus       *events.Bus
	logger    *slog.Logger
	metrics   *observability.Metrics
	history   *attemptHistory

	mu          sync.Mutex
	state       State
	quality     Quality
	session     backend.Session
	identity    backend.Identity
	credentials backend.Credentials
	connecting  bool

	sequenceCancel context.CancelFunc
	healthCancel   context.CancelFunc
	healthDone     chan struct{}
}

// NewManager creates a connection manager. prober, bus, logger, and
// metrics may be nil; a nil prober skips diagnostics and assumes an
// unrestricted network.
func NewManager(
	config Config,
	b backend.Backend,
	prober *diagnostics.Prober,
	bus *events.Bus,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Manager {
	defaults := DefaultConfig()
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.HealthInterval <= 0 {
		config.HealthInterval = defaults.HealthInterval
	}
	if config.HealthTimeout <= 0 {
		config.HealthTimeout = defaults.HealthTimeout
	}
	if config.HistorySize <= 0 {
		config.HistorySize = defaults.HistorySize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config:    config,
		backend:   b,
		prober:    prober,
		scheduler: NewScheduler(config.Scheduler),
		bus:       bus,
		logger:    logger,
		metrics:   metrics,
		history:   newAttemptHistory(config.HistorySize),
		state:     StateDisconnected,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Quality returns the quality assessed on the most recent successful
// attempt. Empty until the first successful connect.
func (m *Manager) Quality() Quality {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quality
}

// Session returns the live backend session, or nil when not connected.
// Callers use this to wire the backend event stream into the presence
// store; the session handle itself stays owned by the manager.
func (m *Manager) Session() backend.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// History returns a copy of the bounded attempt history.
func (m *Manager) History() []Attempt {
	return m.history.snapshot()
}

// Scheduler exposes the retry scheduler, mainly so tests and tooling can
// inspect computed timeouts.
func (m *Manager) Scheduler() *Scheduler {
	return m.scheduler
}

// Connect runs the full connect sequence: probe the network once, compute
// the strategy order, and work through the strategy/retry budget. Only the
// outcome of the whole sequence is returned; individual attempt failures
// surface as history records and log lines.
func (m *Manager) Connect(ctx context.Context, identity backend.Identity, credentials backend.Credentials) error {
	m.mu.Lock()
	if m.connecting || (m.state != StateDisconnected && m.state != StateFailed) {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.connecting = true
	m.identity = identity
	m.credentials = credentials
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.connecting = false
		m.mu.Unlock()
	}()

	m.setState(StateConnecting)

	if err := validateCredentials(credentials); err != nil {
		m.setState(StateFailed)
		m.publishError(err, 0, "")
		return err
	}

	return m.establish(ctx)
}

// Reconnect recovers from the degraded state. Recovery is strictly
// caller-initiated: health-check failures only flag the session, so
// caller-level retry logic never races an automatic reconnect.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateDegraded {
		m.mu.Unlock()
		return ErrNotDegraded
	}
	m.connecting = true
	session := m.session
	m.session = nil
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.connecting = false
		m.mu.Unlock()
	}()

	m.metrics.RecordReconnect()
	m.setState(StateReconnecting)
	m.stopHealthMonitor()
	m.closeSession(ctx, session)

	return m.establish(ctx)
}

// Disconnect tears the connection down: cancels any pending retry delays
// and the health monitor, gracefully closes the session (close failures
// are logged, not propagated), and transitions to disconnected. Idempotent.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	session := m.session
	m.session = nil
	sequenceCancel := m.sequenceCancel
	m.sequenceCancel = nil
	alreadyDown := m.state == StateDisconnected && session == nil
	m.mu.Unlock()

	if alreadyDown {
		return nil
	}

	if sequenceCancel != nil {
		sequenceCancel()
	}
	m.stopHealthMonitor()
	m.closeSession(ctx, session)

	m.setState(StateDisconnected)
	m.publish(events.Event{
		Type:       events.TypeDisconnected,
		Connection: &events.ConnectionPayload{State: string(StateDisconnected)},
	})
	return nil
}

// CheckHealth performs one liveness probe against the live session. A
// failed probe transitions connected to degraded and emits an event; it
// never triggers reconnection on its own. Exposed so callers can force a
// check between monitor ticks.
func (m *Manager) CheckHealth(ctx context.Context) error {
	m.mu.Lock()
	session := m.session
	state := m.state
	m.mu.Unlock()

	if session == nil || (state != StateConnected && state != StateDegraded) {
		return nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, m.config.HealthTimeout)
	defer cancel()

	err := session.Ping(pingCtx)
	if err == nil {
		return nil
	}

	m.logger.Warn("health check failed", "error", err)

	m.mu.Lock()
	degradedNow := m.state == StateConnected
	if degradedNow {
		m.state = StateDegraded
	}
	m.mu.Unlock()

	if degradedNow {
		m.metrics.SetConnectionState(string(StateDegraded), AllStates())
		m.publish(events.Event{
			Type: events.TypeConnectionStateChanged,
			Connection: &events.ConnectionPayload{
				State:    string(StateDegraded),
				Previous: string(StateConnected),
			},
		})
		m.publish(events.Event{
			Type:       events.TypeConnectionDegraded,
			Connection: &events.ConnectionPayload{State: string(StateDegraded)},
		})
	}
	return err
}

// establish probes the network, orders the strategies, and works through
// the retry budget. Shared by Connect and Reconnect.
func (m *Manager) establish(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.sequenceCancel = cancel
	m.mu.Unlock()
	defer func() {
		cancel()
		m.mu.Lock()
		m.sequenceCancel = nil
		m.mu.Unlock()
	}()

	start := time.Now()
	diag := m.probe(ctx)
	strategies := SelectStrategies(diag, m.config.Selector)

	m.logger.Info("starting connect sequence",
		"connectivity", string(diag.Connectivity),
		"websocket_blocked", diag.WebSocketBlocked,
		"strategies", len(strategies),
	)

	var (
		lastErr       error
		lastStrategy  Strategy
		totalAttempts int
	)

	for _, strategy := range strategies {
		for attempt := 1; attempt <= m.config.MaxRetries; attempt++ {
			totalAttempts++
			lastStrategy = strategy

			session, record, err := m.attempt(ctx, strategy, attempt, diag)
			m.history.add(record)

			if err == nil {
				return m.succeed(session, record, totalAttempts, time.Since(start))
			}
			lastErr = err

			if ctx.Err() != nil {
				m.setState(StateDisconnected)
				return ctx.Err()
			}
			if IsPermanent(err) {
				m.setState(StateFailed)
				m.publishError(err, totalAttempts, strategy)
				return err
			}

			if attempt < m.config.MaxRetries {
				delay := m.scheduler.DelayBeforeRetry(attempt)
				if err := backoff.Sleep(ctx, delay); err != nil {
					m.setState(StateDisconnected)
					return err
				}
			}
		}
	}

	m.setState(StateFailed)
	connectErr := &ConnectError{
		LastStrategy: lastStrategy,
		Attempts:     totalAttempts,
		Elapsed:      time.Since(start),
		Err:          lastErr,
	}
	m.publishError(connectErr, totalAttempts, lastStrategy)
	return connectErr
}

// attempt races one backend connect against its computed timeout.
func (m *Manager) attempt(ctx context.Context, strategy Strategy, number int, diag diagnostics.Result) (backend.Session, Attempt, error) {
	timeout := m.scheduler.TimeoutFor(strategy, number, diag)
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	record := Attempt{
		ID:          uuid.New().String(),
		Strategy:    strategy,
		Number:      number,
		StartedAt:   time.Now(),
		Diagnostics: diag,
	}

	session, err := m.backend.Connect(attemptCtx, m.identity, m.credentials)
	record.Duration = time.Since(record.StartedAt)

	if err != nil {
		record.Err = err
		record.TimedOut = errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
		outcome := "failure"
		if record.TimedOut {
			outcome = "timeout"
		}
		m.metrics.RecordAttempt(string(strategy), outcome, record.Duration)
		m.logger.Warn("connection attempt failed",
			"strategy", string(strategy),
			"attempt", number,
			"duration", record.Duration,
			"timed_out", record.TimedOut,
			"error", err,
		)
		return nil, record, err
	}

	record.Success = true
	record.Quality = QualityFor(record.Duration)
	m.metrics.RecordAttempt(string(strategy), "success", record.Duration)
	return session, record, nil
}

// succeed installs the session, records quality, starts health
// monitoring, and emits the connected event. A dial can complete in the
// same window Disconnect tears the sequence down; Disconnect nils the
// sequence cancel under the lock, so a nil cancel here means the session
// must be discarded, not installed.
func (m *Manager) succeed(session backend.Session, record Attempt, attempts int, elapsed time.Duration) error {
	m.mu.Lock()
	if m.sequenceCancel == nil {
		m.mu.Unlock()
		m.logger.Info("discarding session established after disconnect",
			"strategy", string(record.Strategy),
		)
		m.closeSession(context.Background(), session)
		return context.Canceled
	}
	m.session = session
	m.quality = record.Quality
	m.mu.Unlock()

	m.setState(StateConnected)
	m.startHealthMonitor()

	m.logger.Info("connected",
		"strategy", string(record.Strategy),
		"quality", string(record.Quality),
		"attempts", attempts,
		"elapsed", elapsed,
	)
	m.publish(events.Event{
		Type: events.TypeConnected,
		Connection: &events.ConnectionPayload{
			State:    string(StateConnected),
			Strategy: string(record.Strategy),
			Quality:  string(record.Quality),
			Attempts: attempts,
			Elapsed:  elapsed,
		},
	})
	return nil
}

func (m *Manager) probe(ctx context.Context) diagnostics.Result {
	if m.prober == nil {
		return diagnostics.Result{
			Connectivity: diagnostics.ConnectivityExcellent,
			CheckedAt:    time.Now(),
		}
	}
	return m.prober.Probe(ctx)
}

// setState transitions the state machine and emits the state-change
// event. Event publication happens outside the lock.
func (m *Manager) setState(next State) {
	m.mu.Lock()
	previous := m.state
	if previous == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	m.mu.Unlock()

	m.metrics.SetConnectionState(string(next), AllStates())
	m.publish(events.Event{
		Type: events.TypeConnectionStateChanged,
		Connection: &events.ConnectionPayload{
			State:    string(next),
			Previous: string(previous),
		},
	})
}

func (m *Manager) publish(event events.Event) {
	if m.bus != nil {
		m.bus.Publish(event)
	}
}

func (m *Manager) publishError(err error, attempts int, strategy Strategy) {
	m.publish(events.Event{
		Type: events.TypeConnectionError,
		Error: &events.ErrorPayload{
			Message:      err.Error(),
			Permanent:    IsPermanent(err),
			LastStrategy: string(strategy),
			Attempts:     attempts,
		},
	})
}

func (m *Manager) startHealthMonitor() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.healthCancel = cancel
	m.healthDone = done
	m.mu.Unlock()

	go m.healthLoop(ctx, done)
}

func (m *Manager) healthLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.config.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = m.CheckHealth(ctx)
		}
	}
}

func (m *Manager) stopHealthMonitor() {
	m.mu.Lock()
	cancel := m.healthCancel
	done := m.healthDone
	m.healthCancel = nil
	m.healthDone = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (m *Manager) closeSession(ctx context.Context, session backend.Session) {
	if session == nil {
		return
	}
	if err := session.Close(ctx); err != nil {
		m.logger.Warn("session close failed", "error", err)
	}
}
