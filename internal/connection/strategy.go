package connection

import (
	"slices"

	"github.com/crewline/realtime/internal/diagnostics"
)

// Strategy names a transport/timeout configuration attempted when
// establishing a connection.
type Strategy string

const (
	// StrategyDirect is the plain persistent connection, always tried first.
	StrategyDirect Strategy = "direct"
	// StrategyExtendedTimeout retries the direct transport with a larger
	// timeout budget for slow links.
	StrategyExtendedTimeout Strategy = "extended-timeout"
	// StrategyMultiEndpoint rotates across alternate backend endpoints.
	StrategyMultiEndpoint Strategy = "multi-endpoint"
	// StrategyLongPoll falls back to HTTP long-polling where upgrades are
	// blocked.
	StrategyLongPoll Strategy = "long-poll"
	// StrategyStreamFallback is the degraded server-stream transport of
	// last resort.
	StrategyStreamFallback Strategy = "stream-fallback"
)

// SelectorConfig enables or disables the optional fallback strategies.
type SelectorConfig struct {
	EnableLongPoll       bool
	EnableStreamFallback bool
}

// SelectStrategies produces the ordered strategy list for one connect
// sequence. Deterministic and pure. Cheap strategies come before expensive
// ones, and diagnostics bias the order rather than skip strategies
// outright, since probes are heuristic and may be wrong.
func SelectStrategies(diag diagnostics.Result, cfg SelectorConfig) []Strategy {
	strategies := []Strategy{StrategyDirect}

	if diag.Connectivity == diagnostics.ConnectivityPoor {
		strategies = append(strategies, StrategyExtendedTimeout)
	}

	if diag.WebSocketBlocked {
		strategies = append(strategies, StrategyMultiEndpoint)
		if cfg.EnableLongPoll {
			strategies = append(strategies, StrategyLongPoll)
		}
	} else if !slices.Contains(strategies, StrategyExtendedTimeout) {
		strategies = append(strategies, StrategyExtendedTimeout)
	}

	if cfg.EnableStreamFallback {
		strategies = append(strategies, StrategyStreamFallback)
	}

	return strategies
}
