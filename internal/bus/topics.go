package bus

import "fmt"

// Topic builders for the fixed set of topics spec §4.5 names. Centralizing
// these keeps every service's subscribe/publish calls in sync rather than
// hand-formatting the same strings at each call site.

func PriceTopic(venue string, marketID uint16) string {
	return fmt.Sprintf("prices.%s.%d", venue, marketID)
}

// PricePattern matches every venue's price topic for marketID, used by
// components that don't care which venue a snapshot came from.
func PricePattern(marketID uint16) string {
	return fmt.Sprintf("prices.*.%d", marketID)
}

func SignalTopic(signalID string) string {
	return fmt.Sprintf("signals.trade.%s", signalID)
}

// SignalPattern matches every signal, for the signal processor's single
// long-lived subscription.
const SignalPattern = "signals.trade.*"

func ExecRequestTopic(requestID string) string {
	return fmt.Sprintf("execution.requests.%s", requestID)
}

// ExecRequestPattern matches every execution request, for the execution
// engine's single long-lived subscription.
const ExecRequestPattern = "execution.requests.*"

func ExecResultTopic(requestID string) string {
	return fmt.Sprintf("execution.results.%s", requestID)
}

// ExecResultPattern matches every execution result, for the position
// tracker's (and dashboards') single long-lived subscription.
const ExecResultPattern = "execution.results.*"

func ShardHeartbeatTopic(shardID string) string {
	return fmt.Sprintf("shard.%s.heartbeat", shardID)
}

// ShardHeartbeatPattern matches every shard's heartbeat, for the
// orchestrator's service registry.
const ShardHeartbeatPattern = "shard.*.heartbeat"

func ShardCommandTopic(shardID string) string {
	return fmt.Sprintf("shard.%s.command", shardID)
}

const DiscoveryResultsTopic = "discovery.results"

// KillSwitchTopic and KillSwitchStatusTopic implement the control channel
// of spec §6.
const (
	KillSwitchTopic       = "trading:kill_switch"
	KillSwitchStatusTopic = "trading:kill_switch_status"
)

// ResolutionTopic carries market-resolution events from the orchestrator
// to the position tracker (spec §4.12).
func ResolutionTopic(marketID uint16) string {
	return fmt.Sprintf("resolution.%d", marketID)
}

const ResolutionPattern = "resolution.*"

// PositionTopic carries position lifecycle updates from the tracker to
// dashboards and audit consumers (spec §4.12).
func PositionTopic(marketID uint16) string {
	return fmt.Sprintf("positions.%d", marketID)
}

const PositionPattern = "positions.*"

// AlertTopic carries the orchestrator's critical-alert escalations (spec
// §4.13: all shards unhealthy, or no healthy discovery service) to
// operator-facing consumers.
const AlertTopic = "alerts.critical"
