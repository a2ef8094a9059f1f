// handlers.go implements the command handlers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crewline/realtime/internal/backend"
	"github.com/crewline/realtime/internal/backoff"
	"github.com/crewline/realtime/internal/config"
	"github.com/crewline/realtime/internal/connection"
	"github.com/crewline/realtime/internal/diagnostics"
	"github.com/crewline/realtime/internal/events"
	"github.com/crewline/realtime/internal/observability"
	"github.com/crewline/realtime/internal/presence"
	"github.com/prometheus/client_golang/prometheus"
)

func runDoctor(ctx context.Context, configPath, url, wsURL string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, debug)

	probeCfg := proberConfig(cfg)
	if url != "" {
		probeCfg.ReachabilityURL = url
	}
	if wsURL != "" {
		probeCfg.WebSocketURL = wsURL
	}
	if probeCfg.ReachabilityURL == "" && probeCfg.WebSocketURL == "" {
		return errors.New("no probe endpoints configured; set diagnostics.reachability_url or pass --url")
	}

	prober := diagnostics.NewProber(probeCfg, logger)
	result := prober.Probe(ctx)

	fmt.Printf("Connectivity:       %s\n", result.Connectivity)
	if result.Latency > 0 {
		fmt.Printf("Latency:            %s\n", result.Latency.Round(time.Millisecond))
	} else {
		fmt.Printf("Latency:            unmeasured\n")
	}
	fmt.Printf("WebSocket blocked:  %v\n", result.WebSocketBlocked)
	fmt.Printf("Firewall suspected: %v\n", result.FirewallSuspected)
	if len(result.BlockedEndpoints) > 0 {
		fmt.Printf("Blocked endpoints:\n")
		for _, ep := range result.BlockedEndpoints {
			fmt.Printf("  - %s\n", ep)
		}
	}

	if result.Connectivity == diagnostics.ConnectivityOffline {
		return errors.New("network unreachable")
	}
	return nil
}

func runSimulate(ctx context.Context, configPath string, failures int, duration time.Duration, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, debug)

	bus := events.NewBus(logger)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logBusEvents(bus, logger)

	store := presence.NewStore(presenceConfig(cfg), bus, logger, metrics)
	store.Start()
	defer store.Close()

	sim := newSimBackend(failures, []backend.Event{
		{Type: backend.EventPresence, ParticipantID: "guide-1", Status: "online"},
		{Type: backend.EventTyping, ParticipantID: "guide-1", ChannelID: "trip-1", IsTyping: true},
		{Type: backend.EventRead, ParticipantID: "guide-1", ChannelID: "trip-1", MessageID: "msg-1"},
	})
	manager := connection.NewManager(managerConfig(cfg), sim, nil, bus, logger, metrics)

	store.AddParticipant(presence.Participant{
		ID:          "captain-1",
		DisplayName: "Captain",
		Role:        presence.RoleCaptain,
		Status:      presence.StatusOnline,
	})
	store.AddParticipant(presence.Participant{
		ID:          "guide-1",
		DisplayName: "Guide",
		Role:        presence.RoleGuide,
	})

	identity := backend.Identity{UserID: cfg.Backend.UserID, DisplayName: cfg.Backend.DisplayName}
	if identity.UserID == "" {
		identity = backend.Identity{UserID: "captain-1", DisplayName: "Captain"}
	}
	credentials := backend.Credentials{Token: cfg.Backend.Token}
	if credentials.Token == "" {
		credentials.Token = "simulated-token"
	}

	if err := manager.Connect(ctx, identity, credentials); err != nil {
		printHistory(manager)
		return err
	}
	defer manager.Disconnect(context.Background())

	store.AttachStream(manager.Session().Events())

	// Local activity alongside the streamed backend events.
	store.SetTyping("captain-1", "trip-1", true)
	store.MarkRead("captain-1", "msg-1", "trip-1")

	select {
	case <-ctx.Done():
	case <-time.After(duration):
	}

	fmt.Printf("\nOnline participants: %d\n", len(store.OnlineParticipants()))
	for _, p := range store.OnlineParticipants() {
		fmt.Printf("  - %s (%s) last active %s\n", p.DisplayName, p.Role, p.LastActivity.Format(time.TimeOnly))
	}
	printHistory(manager)
	return nil
}

// logBusEvents prints every bus event so a simulate run shows the full
// lifecycle.
func logBusEvents(bus *events.Bus, logger *slog.Logger) {
	types := []events.Type{
		events.TypeConnectionStateChanged,
		events.TypeConnected,
		events.TypeDisconnected,
		events.TypeConnectionDegraded,
		events.TypeConnectionError,
		events.TypeParticipantAdded,
		events.TypeParticipantRemoved,
		events.TypeStatusUpdated,
		events.TypeTypingUpdated,
		events.TypeMessageRead,
	}
	for _, et := range types {
		bus.Subscribe(et, func(e events.Event) {
			args := []any{"sequence", e.Sequence}
			switch {
			case e.Connection != nil:
				args = append(args, "state", e.Connection.State, "previous", e.Connection.Previous)
			case e.Error != nil:
				args = append(args, "message", e.Error.Message, "permanent", e.Error.Permanent)
			case e.Participant != nil:
				args = append(args, "participant", e.Participant.ParticipantID, "status", e.Participant.Status)
			case e.Typing != nil:
				args = append(args, "participant", e.Typing.ParticipantID, "channel", e.Typing.ChannelID, "typing", e.Typing.IsTyping)
			case e.Receipt != nil:
				args = append(args, "participant", e.Receipt.ParticipantID, "message", e.Receipt.MessageID)
			}
			logger.Info(string(e.Type), args...)
		})
	}
}

func printHistory(manager *connection.Manager) {
	history := manager.History()
	if len(history) == 0 {
		return
	}
	fmt.Printf("\nAttempt history:\n")
	for _, a := range history {
		outcome := "failed"
		if a.Success {
			outcome = fmt.Sprintf("succeeded (%s)", a.Quality)
		} else if a.TimedOut {
			outcome = "timed out"
		}
		fmt.Printf("  #%d %-17s %-10s %s\n", a.Number, a.Strategy, a.Duration.Round(time.Millisecond), outcome)
	}
}

func managerConfig(cfg *config.Config) connection.Config {
	return connection.Config{
		MaxRetries:     cfg.Connection.MaxRetries,
		HealthInterval: cfg.Connection.HealthInterval,
		HealthTimeout:  cfg.Connection.HealthTimeout,
		HistorySize:    cfg.Connection.HistorySize,
		Selector: connection.SelectorConfig{
			EnableLongPoll:       cfg.Connection.EnableLongPoll,
			EnableStreamFallback: cfg.Connection.EnableStreamFallback,
		},
		Scheduler: connection.SchedulerConfig{
			BaseTimeout:     cfg.Connection.BaseTimeout,
			ExtendedTimeout: cfg.Connection.ExtendedTimeout,
			MaxTimeout:      cfg.Connection.MaxTimeout,
			Backoff: backoff.Policy{
				InitialMs: float64(cfg.Connection.Backoff.Initial.Milliseconds()),
				MaxMs:     float64(cfg.Connection.Backoff.Max.Milliseconds()),
				Factor:    cfg.Connection.Backoff.Factor,
				Jitter:    cfg.Connection.Backoff.Jitter,
			},
		},
	}
}

func presenceConfig(cfg *config.Config) presence.Config {
	return presence.Config{
		TypingTimeout:    cfg.Presence.TypingTimeout,
		AwayThreshold:    cfg.Presence.AwayThreshold,
		OfflineThreshold: cfg.Presence.OfflineThreshold,
		SweepInterval:    cfg.Presence.SweepInterval,
		TickInterval:     cfg.Presence.TickInterval,
	}
}

func proberConfig(cfg *config.Config) diagnostics.Config {
	return diagnostics.Config{
		ReachabilityURL:     cfg.Diagnostics.ReachabilityURL,
		WebSocketURL:        cfg.Diagnostics.WebSocketURL,
		ReachabilityTimeout: cfg.Diagnostics.ReachabilityTimeout,
		UpgradeTimeout:      cfg.Diagnostics.UpgradeTimeout,
	}
}
