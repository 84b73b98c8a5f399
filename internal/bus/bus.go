// Package bus provides the sequenced publish/subscribe transport that
// every service (shard, signal processor, execution engine, position
// tracker, orchestrator) uses to exchange signals, execution results, and
// control messages. Grounded on original_source/rust_core/src/redis/bus.rs
// (RedisBus: ConnectionManager-backed publish/subscribe with retry and a
// health check) and the teacher's internal/engine/engine.go dispatch
// goroutines, which fan inbound events out to per-market channels the same
// way Bus fans inbound envelopes out to per-topic subscriber channels.
package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"arbees/internal/config"
)

// New builds the Bus every service binary runs against: InProcBus when
// cfg.InProcess is set (tests and single-binary dev), RedisBus otherwise.
func New(cfg config.BusConfig, logger *slog.Logger) Bus {
	if cfg.InProcess {
		return NewInProcBus(cfg.Source)
	}
	return NewRedisBus(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.Source, logger)
}

// Envelope wraps every message crossing the bus with a monotonic sequence
// number, a wall-clock timestamp, and the publishing source, matching the
// wire shape used throughout rust_core's redis channels.
type Envelope struct {
	Seq         uint64          `json:"seq"`
	TimestampMs int64           `json:"timestamp_ms"`
	Source      string          `json:"source"`
	Topic       string          `json:"topic"`
	Payload     json.RawMessage `json:"payload"`
}

// Bus is the transport every service programs against. Implementations:
// RedisBus (production, backed by go-redis) and InProcBus (tests and
// single-process deployments).
type Bus interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(ctx context.Context, topic string) (<-chan Envelope, func(), error)
	// SubscribePattern subscribes to every topic matching a glob pattern
	// (e.g. "signals.trade.*"), for topics like signals.trade.<signal_id>
	// that are minted per-message rather than known up front.
	SubscribePattern(ctx context.Context, pattern string) (<-chan Envelope, func(), error)
	HealthCheck(ctx context.Context) bool
	Close() error
}

// Stats mirrors RedisBusStats: publish/failure/reconnect counters for
// dashboards, kept as plain counters guarded by a mutex since publish rate
// here is orders of magnitude below the hot-path cell/scanner path.
type Stats struct {
	mu                sync.Mutex
	MessagesPublished uint64
	PublishFailures   uint64
	ReconnectAttempts uint64
}

func (s *Stats) recordSuccess() {
	s.mu.Lock()
	s.MessagesPublished++
	s.mu.Unlock()
}

func (s *Stats) recordFailure() {
	s.mu.Lock()
	s.PublishFailures++
	s.mu.Unlock()
}

func (s *Stats) recordReconnect() {
	s.mu.Lock()
	s.ReconnectAttempts++
	s.mu.Unlock()
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() (published, failures, reconnects uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.MessagesPublished, s.PublishFailures, s.ReconnectAttempts
}
