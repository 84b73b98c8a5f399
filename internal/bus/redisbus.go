package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus is the production Bus, backed by go-redis's client, which
// already pools connections and reconnects transparently the way
// rust_core's ConnectionManager does. Publish makes up to three attempts
// with the same 50ms*2^attempt backoff as RedisBus::publish_str.
type RedisBus struct {
	client *redis.Client
	source string
	logger *slog.Logger
	stats  Stats
	seq    atomic.Uint64
}

// NewRedisBus dials addr (e.g. "localhost:6379") and returns a bus that
// stamps every published envelope with source as its origin tag.
func NewRedisBus(addr, password string, db int, source string, logger *slog.Logger) *RedisBus {
	return &RedisBus{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		source: source,
		logger: logger.With("component", "redis_bus"),
	}
}

// Publish marshals payload, wraps it in an Envelope with the next sequence
// number, and publishes it to topic with retry-with-backoff on transient
// failures, mirroring RedisBus::publish_str's three-attempt loop.
func (b *RedisBus) Publish(ctx context.Context, topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	env := Envelope{
		Seq:         b.seq.Add(1),
		TimestampMs: time.Now().UnixMilli(),
		Source:      b.source,
		Topic:       topic,
		Payload:     raw,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := b.client.Publish(ctx, topic, data).Err(); err != nil {
			lastErr = err
			b.stats.recordFailure()
			if attempt < 2 {
				delay := 50 * time.Millisecond * time.Duration(1<<attempt)
				b.logger.Warn("publish failed, retrying", "topic", topic, "attempt", attempt+1, "delay", delay, "error", err)
				b.stats.recordReconnect()
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			continue
		}
		b.stats.recordSuccess()
		return nil
	}
	return fmt.Errorf("publish to %s after 3 attempts: %w", topic, lastErr)
}

// Subscribe opens a dedicated pub/sub connection for topic and returns a
// channel of decoded envelopes plus a cancel func that unsubscribes and
// releases the connection. Malformed envelopes are logged and dropped
// rather than propagated, so one bad publisher can't wedge a subscriber.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (<-chan Envelope, func(), error) {
	sub := b.client.Subscribe(ctx, topic)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	out := make(chan Envelope, 256)
	msgCh := sub.Channel()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					b.logger.Warn("dropping malformed envelope", "topic", topic, "error", err)
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}

// SubscribePattern opens a dedicated PSUBSCRIBE connection for pattern and
// returns a channel of decoded envelopes plus a cancel func, mirroring
// Subscribe but for glob patterns like "signals.trade.*".
func (b *RedisBus) SubscribePattern(ctx context.Context, pattern string) (<-chan Envelope, func(), error) {
	sub := b.client.PSubscribe(ctx, pattern)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("psubscribe to %s: %w", pattern, err)
	}

	out := make(chan Envelope, 256)
	msgCh := sub.Channel()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					b.logger.Warn("dropping malformed envelope", "pattern", pattern, "error", err)
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}

// HealthCheck sends a PING and reports whether the reply was PONG.
func (b *RedisBus) HealthCheck(ctx context.Context) bool {
	res, err := b.client.Ping(ctx).Result()
	return err == nil && res == "PONG"
}

// Close releases the underlying connection pool.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

// StatsSnapshot exposes publish/failure/reconnect counters for dashboards.
func (b *RedisBus) StatsSnapshot() (published, failures, reconnects uint64) {
	return b.stats.Snapshot()
}
