// Package diagnostics probes basic network reachability, latency, and
// transport restrictions ahead of a connection attempt sequence. Results
// are heuristic: they bias strategy ordering but never gate a strategy
// outright, since corporate networks routinely lie to probes.
package diagnostics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Connectivity classifies overall network reachability.
type Connectivity string

const (
	ConnectivityExcellent Connectivity = "excellent"
	ConnectivityGood      Connectivity = "good"
	ConnectivityPoor      Connectivity = "poor"
	ConnectivityOffline   Connectivity = "offline"
)

// Latency thresholds for connectivity classification.
const (
	excellentLatency = 150 * time.Millisecond
	goodLatency      = 500 * time.Millisecond
)

// Result is a point-in-time network assessment. Produced fresh before
// every connection attempt sequence and never cached, because conditions
// can change between attempts.
type Result struct {
	Connectivity Connectivity
	// Latency is the measured round-trip of the reachability probe.
	// Zero when the probe failed.
	Latency time.Duration
	// WebSocketBlocked indicates the persistent-connection upgrade was
	// refused while plain HTTP succeeded.
	WebSocketBlocked bool
	// FirewallSuspected is set when the restriction pattern matches a
	// corporate proxy (HTTP fine, upgrade refused).
	FirewallSuspected bool
	// BlockedEndpoints lists probe endpoints that were unreachable.
	BlockedEndpoints []string
	CheckedAt        time.Time
}

// Config configures the prober.
type Config struct {
	// ReachabilityURL is hit with a HEAD request to measure latency.
	ReachabilityURL string
	// WebSocketURL is dialed to verify persistent-connection upgrades.
	WebSocketURL string
	// ReachabilityTimeout bounds the latency probe.
	ReachabilityTimeout time.Duration
	// UpgradeTimeout bounds the websocket capability probe.
	UpgradeTimeout time.Duration
}

// DefaultConfig returns baseline probe settings.
func DefaultConfig() Config {
	return Config{
		ReachabilityTimeout: 2 * time.Second,
		UpgradeTimeout:      5 * time.Second,
	}
}

// Prober runs the two outbound probe calls. Side effects are limited to
// those calls; probe failures fold into the result and are never returned
// as errors.
type Prober struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// NewProber creates a prober. logger may be nil.
func NewProber(config Config, logger *slog.Logger) *Prober {
	if config.ReachabilityTimeout <= 0 {
		config.ReachabilityTimeout = DefaultConfig().ReachabilityTimeout
	}
	if config.UpgradeTimeout <= 0 {
		config.UpgradeTimeout = DefaultConfig().UpgradeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		config: config,
		client: &http.Client{Timeout: config.ReachabilityTimeout},
		logger: logger,
	}
}

// Probe assesses the network. It performs at most two outbound calls: a
// lightweight HEAD for reachability/latency and a websocket dial for
// upgrade capability. Absence of connectivity is itself a valid result.
func (p *Prober) Probe(ctx context.Context) Result {
	result := Result{
		Connectivity: ConnectivityOffline,
		CheckedAt:    time.Now(),
	}

	reachable := p.probeReachability(ctx, &result)
	p.probeUpgrade(ctx, &result, reachable)

	p.logger.Debug("network probe complete",
		"connectivity", string(result.Connectivity),
		"latency", result.Latency,
		"websocket_blocked", result.WebSocketBlocked,
		"firewall_suspected", result.FirewallSuspected,
	)

	return result
}

func (p *Prober) probeReachability(ctx context.Context, result *Result) bool {
	if p.config.ReachabilityURL == "" {
		return false
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.config.ReachabilityTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, p.config.ReachabilityURL, nil)
	if err != nil {
		result.BlockedEndpoints = append(result.BlockedEndpoints, p.config.ReachabilityURL)
		return false
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("reachability probe failed", "url", p.config.ReachabilityURL, "error", err)
		result.BlockedEndpoints = append(result.BlockedEndpoints, p.config.ReachabilityURL)
		return false
	}
	resp.Body.Close()

	result.Latency = time.Since(start)
	switch {
	case result.Latency < excellentLatency:
		result.Connectivity = ConnectivityExcellent
	case result.Latency < goodLatency:
		result.Connectivity = ConnectivityGood
	default:
		result.Connectivity = ConnectivityPoor
	}
	return true
}

func (p *Prober) probeUpgrade(ctx context.Context, result *Result, httpReachable bool) {
	if p.config.WebSocketURL == "" {
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.config.UpgradeTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: p.config.UpgradeTimeout}
	conn, resp, err := dialer.DialContext(dialCtx, p.config.WebSocketURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		p.logger.Debug("websocket probe failed", "url", p.config.WebSocketURL, "error", err)
		result.WebSocketBlocked = true
		// HTTP working while the upgrade is refused is the classic
		// corporate-proxy signature.
		result.FirewallSuspected = httpReachable
		result.BlockedEndpoints = append(result.BlockedEndpoints, p.config.WebSocketURL)
		return
	}
	conn.Close()
}
