package connection

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/crewline/realtime/internal/backend"
	"github.com/crewline/realtime/internal/backoff"
	"github.com/crewline/realtime/internal/events"
)

type fakeSession struct {
	mu      sync.Mutex
	pingErr error
	closes  int
	events  chan backend.Event
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan backend.Event)}
}

func (s *fakeSession) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSession) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

func (s *fakeSession) Events() <-chan backend.Event {
	return s.events
}

func (s *fakeSession) setPingErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type fakeBackend struct {
	mu      sync.Mutex
	calls   int
	connect func(call int) (backend.Session, error)
}

func (f *fakeBackend) Connect(ctx context.Context, identity backend.Identity, credentials backend.Credentials) (backend.Session, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	fn := f.connect
	f.mu.Unlock()
	return fn(call)
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// testConfig keeps retry delays near-zero so failure paths finish fast.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	cfg.Selector = SelectorConfig{}
	cfg.Scheduler.Backoff = backoff.Policy{InitialMs: 1, MaxMs: 2, Factor: 1, Jitter: 0}
	return cfg
}

func testIdentity() backend.Identity {
	return backend.Identity{UserID: "u1", DisplayName: "Skipper"}
}

func testCredentials() backend.Credentials {
	return backend.Credentials{Token: "opaque-token"}
}

func expiredJWT(t *testing.T) string {
	t.Helper()
	encode := func(v any) string {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal claims: %v", err)
		}
		return base64.RawURLEncoding.EncodeToString(data)
	}
	header := encode(map[string]string{"alg": "HS256", "typ": "JWT"})
	claims := encode(map[string]int64{"exp": time.Now().Add(-time.Hour).Unix()})
	return fmt.Sprintf("%s.%s.%s", header, claims, base64.RawURLEncoding.EncodeToString([]byte("sig")))
}

func TestManager_ConnectSuccess(t *testing.T) {
	session := newFakeSession()
	b := &fakeBackend{connect: func(call int) (backend.Session, error) {
		return session, nil
	}}
	bus := events.NewBus(nil)

	var connected []events.Event
	bus.Subscribe(events.TypeConnected, func(e events.Event) {
		connected = append(connected, e)
	})

	m := NewManager(testConfig(), b, nil, bus, nil, nil)
	if err := m.Connect(context.Background(), testIdentity(), testCredentials()); err != nil {
		t.Fatalf("Connect() error = %v, want nil", err)
	}
	defer m.Disconnect(context.Background())

	if m.State() != StateConnected {
		t.Errorf("State() = %v, want connected", m.State())
	}
	if m.Quality() != QualityExcellent {
		t.Errorf("Quality() = %v, want excellent", m.Quality())
	}
	if m.Session() == nil {
		t.Error("Session() = nil, want live session")
	}
	if len(connected) != 1 {
		t.Fatalf("connected events = %d, want 1", len(connected))
	}
	if connected[0].Connection.Strategy != string(StrategyDirect) {
		t.Errorf("connected strategy = %v, want direct", connected[0].Connection.Strategy)
	}

	history := m.History()
	if len(history) != 1 || !history[0].Success {
		t.Errorf("History() = %+v, want one successful attempt", history)
	}
}

func TestManager_ConnectExhaustsBudget(t *testing.T) {
	connectErr := errors.New("refused")
	b := &fakeBackend{connect: func(call int) (backend.Session, error) {
		return nil, connectErr
	}}
	bus := events.NewBus(nil)

	var errorEvents []events.Event
	bus.Subscribe(events.TypeConnectionError, func(e events.Event) {
		errorEvents = append(errorEvents, e)
	})

	m := NewManager(testConfig(), b, nil, bus, nil, nil)
	err := m.Connect(context.Background(), testIdentity(), testCredentials())

	var cErr *ConnectError
	if !errors.As(err, &cErr) {
		t.Fatalf("Connect() error = %v, want *ConnectError", err)
	}
	// Two strategies (direct, extended-timeout) at two retries each.
	if cErr.Attempts != 4 {
		t.Errorf("ConnectError.Attempts = %d, want 4", cErr.Attempts)
	}
	if cErr.LastStrategy != StrategyExtendedTimeout {
		t.Errorf("ConnectError.LastStrategy = %v, want extended-timeout", cErr.LastStrategy)
	}
	if !errors.Is(err, connectErr) {
		t.Errorf("Connect() error does not wrap the last failure: %v", err)
	}
	if m.State() != StateFailed {
		t.Errorf("State() = %v, want failed", m.State())
	}
	if len(errorEvents) != 1 {
		t.Errorf("error events = %d, want 1", len(errorEvents))
	}
	if len(m.History()) != 4 {
		t.Errorf("History() length = %d, want 4", len(m.History()))
	}
}

func TestManager_PermanentErrorShortCircuits(t *testing.T) {
	authErr := Permanent(errors.New("invalid credentials"))
	b := &fakeBackend{connect: func(call int) (backend.Session, error) {
		return nil, authErr
	}}

	m := NewManager(testConfig(), b, nil, nil, nil, nil)
	err := m.Connect(context.Background(), testIdentity(), testCredentials())

	if !IsPermanent(err) {
		t.Errorf("Connect() error = %v, want permanent", err)
	}
	if b.callCount() != 1 {
		t.Errorf("backend called %d times, want 1 (no retries on permanent failure)", b.callCount())
	}
	if m.State() != StateFailed {
		t.Errorf("State() = %v, want failed", m.State())
	}
}

func TestManager_ExpiredTokenFailsBeforeDialing(t *testing.T) {
	b := &fakeBackend{connect: func(call int) (backend.Session, error) {
		return newFakeSession(), nil
	}}

	m := NewManager(testConfig(), b, nil, nil, nil, nil)
	err := m.Connect(context.Background(), testIdentity(), backend.Credentials{Token: expiredJWT(t)})

	if !errors.Is(err, ErrExpiredCredentials) {
		t.Fatalf("Connect() error = %v, want ErrExpiredCredentials", err)
	}
	if !IsPermanent(err) {
		t.Error("expired token error not classified permanent")
	}
	if b.callCount() != 0 {
		t.Errorf("backend called %d times, want 0", b.callCount())
	}
	if m.State() != StateFailed {
		t.Errorf("State() = %v, want failed", m.State())
	}
}

func TestManager_ReconnectableAfterFailure(t *testing.T) {
	attempts := 0
	b := &fakeBackend{connect: func(call int) (backend.Session, error) {
		attempts++
		if attempts <= 4 {
			return nil, errors.New("refused")
		}
		return newFakeSession(), nil
	}}

	m := NewManager(testConfig(), b, nil, nil, nil, nil)
	if err := m.Connect(context.Background(), testIdentity(), testCredentials()); err == nil {
		t.Fatal("first Connect() succeeded, want failure")
	}
	if m.State() != StateFailed {
		t.Fatalf("State() = %v, want failed", m.State())
	}

	// A fresh connect call re-enters the machine from failed.
	if err := m.Connect(context.Background(), testIdentity(), testCredentials()); err != nil {
		t.Fatalf("second Connect() error = %v, want nil", err)
	}
	defer m.Disconnect(context.Background())

	if m.State() != StateConnected {
		t.Errorf("State() = %v, want connected", m.State())
	}
}

func TestManager_DisconnectNeverConnectedIsNoop(t *testing.T) {
	b := &fakeBackend{connect: func(call int) (backend.Session, error) {
		return newFakeSession(), nil
	}}
	bus := events.NewBus(nil)

	published := 0
	bus.Subscribe(events.TypeDisconnected, func(e events.Event) { published++ })
	bus.Subscribe(events.TypeConnectionStateChanged, func(e events.Event) { published++ })

	m := NewManager(testConfig(), b, nil, bus, nil, nil)
	if err := m.Disconnect(context.Background()); err != nil {
		t.Errorf("Disconnect() error = %v, want nil", err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", m.State())
	}
	if published != 0 {
		t.Errorf("events published = %d, want 0", published)
	}
}

func TestManager_DisconnectIdempotent(t *testing.T) {
	session := newFakeSession()
	b := &fakeBackend{connect: func(call int) (backend.Session, error) {
		return session, nil
	}}
	bus := events.NewBus(nil)

	disconnects := 0
	bus.Subscribe(events.TypeDisconnected, func(e events.Event) { disconnects++ })

	m := NewManager(testConfig(), b, nil, bus, nil, nil)
	if err := m.Connect(context.Background(), testIdentity(), testCredentials()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := m.Disconnect(context.Background()); err != nil {
		t.Errorf("first Disconnect() error = %v", err)
	}
	if err := m.Disconnect(context.Background()); err != nil {
		t.Errorf("second Disconnect() error = %v", err)
	}

	if session.closeCount() != 1 {
		t.Errorf("session closed %d times, want exactly 1", session.closeCount())
	}
	if disconnects != 1 {
		t.Errorf("disconnected events = %d, want 1", disconnects)
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", m.State())
	}
}

func TestManager_ConnectWhileConnected(t *testing.T) {
	b := &fakeBackend{connect: func(call int) (backend.Session, error) {
		return newFakeSession(), nil
	}}

	m := NewManager(testConfig(), b, nil, nil, nil, nil)
	if err := m.Connect(context.Background(), testIdentity(), testCredentials()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer m.Disconnect(context.Background())

	if err := m.Connect(context.Background(), testIdentity(), testCredentials()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("Connect() while connected = %v, want ErrAlreadyConnected", err)
	}
}

func TestManager_HealthCheckDegrades(t *testing.T) {
	session := newFakeSession()
	b := &fakeBackend{connect: func(call int) (backend.Session, error) {
		return session, nil
	}}
	bus := events.NewBus(nil)

	degraded := 0
	bus.Subscribe(events.TypeConnectionDegraded, func(e events.Event) { degraded++ })

	m := NewManager(testConfig(), b, nil, bus, nil, nil)
	if err := m.Connect(context.Background(), testIdentity(), testCredentials()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer m.Disconnect(context.Background())

	session.setPingErr(errors.New("ping lost"))
	if err := m.CheckHealth(context.Background()); err == nil {
		t.Error("CheckHealth() = nil, want ping error")
	}

	if m.State() != StateDegraded {
		t.Errorf("State() = %v, want degraded", m.State())
	}
	if degraded != 1 {
		t.Errorf("degraded events = %d, want 1", degraded)
	}

	// Degraded requires explicit caller action; a second failed check
	// must not emit again or change state.
	if err := m.CheckHealth(context.Background()); err == nil {
		t.Error("CheckHealth() = nil, want ping error")
	}
	if degraded != 1 {
		t.Errorf("degraded events after second check = %d, want still 1", degraded)
	}
}

func TestManager_ReconnectFromDegraded(t *testing.T) {
	first := newFakeSession()
	second := newFakeSession()
	b := &fakeBackend{connect: func(call int) (backend.Session, error) {
		if call == 1 {
			return first, nil
		}
		return second, nil
	}}

	m := NewManager(testConfig(), b, nil, nil, nil, nil)
	if err := m.Connect(context.Background(), testIdentity(), testCredentials()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer m.Disconnect(context.Background())

	first.setPingErr(errors.New("ping lost"))
	_ = m.CheckHealth(context.Background())
	if m.State() != StateDegraded {
		t.Fatalf("State() = %v, want degraded", m.State())
	}

	if err := m.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect() error = %v, want nil", err)
	}
	if m.State() != StateConnected {
		t.Errorf("State() = %v, want connected", m.State())
	}
	if first.closeCount() != 1 {
		t.Errorf("old session closed %d times, want 1", first.closeCount())
	}
	if m.Session() != second {
		t.Error("Session() still the old session after reconnect")
	}
}

func TestManager_ReconnectOutsideDegraded(t *testing.T) {
	b := &fakeBackend{connect: func(call int) (backend.Session, error) {
		return newFakeSession(), nil
	}}

	m := NewManager(testConfig(), b, nil, nil, nil, nil)
	if err := m.Reconnect(context.Background()); !errors.Is(err, ErrNotDegraded) {
		t.Errorf("Reconnect() while disconnected = %v, want ErrNotDegraded", err)
	}
}

func TestManager_ConnectCancelledDuringRetryDelay(t *testing.T) {
	b := &fakeBackend{connect: func(call int) (backend.Session, error) {
		return nil, errors.New("refused")
	}}

	cfg := testConfig()
	cfg.Scheduler.Backoff = backoff.Policy{InitialMs: 60000, MaxMs: 60000, Factor: 1, Jitter: 0}

	m := NewManager(cfg, b, nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Connect(ctx, testIdentity(), testCredentials())
	}()

	// Give the first attempt time to fail and enter the retry delay.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Connect() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect() did not return after cancellation")
	}

	if m.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected after cancel", m.State())
	}
}

func TestManager_DisconnectDuringInFlightDial(t *testing.T) {
	session := newFakeSession()
	dialing := make(chan struct{})
	release := make(chan struct{})
	b := &fakeBackend{connect: func(call int) (backend.Session, error) {
		close(dialing)
		<-release
		return session, nil
	}}
	bus := events.NewBus(nil)

	connected := 0
	bus.Subscribe(events.TypeConnected, func(e events.Event) { connected++ })

	m := NewManager(testConfig(), b, nil, bus, nil, nil)

	done := make(chan error, 1)
	go func() {
		done <- m.Connect(context.Background(), testIdentity(), testCredentials())
	}()

	// Tear down while the dial is still blocked, then let it complete
	// successfully.
	<-dialing
	if err := m.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	close(release)

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Connect() = nil, want error after disconnect")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect() did not return")
	}

	if m.State() != StateDisconnected {
		t.Errorf("State() after Disconnect+late success = %v, want disconnected", m.State())
	}
	if m.Session() != nil {
		t.Error("Session() non-nil after Disconnect: late attempt installed a session")
	}
	if session.closeCount() != 1 {
		t.Errorf("late session closed %d times, want 1", session.closeCount())
	}
	if connected != 0 {
		t.Errorf("connected events = %d, want 0", connected)
	}
}

func TestValidateCredentials_OpaqueTokenPasses(t *testing.T) {
	if err := validateCredentials(backend.Credentials{Token: "opaque-token"}); err != nil {
		t.Errorf("validateCredentials(opaque) = %v, want nil", err)
	}
}

func TestValidateCredentials_EmptyTokenPermanent(t *testing.T) {
	err := validateCredentials(backend.Credentials{})
	if !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("validateCredentials(empty) = %v, want ErrMissingCredentials", err)
	}
	if !IsPermanent(err) {
		t.Error("missing credentials not classified permanent")
	}
}
