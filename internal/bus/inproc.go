package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"
)

// InProcBus is a Bus implementation that fans envelopes out over Go
// channels within a single process, for tests and single-binary
// deployments where a Redis instance isn't worth standing up. Grounded on
// the teacher's internal/engine/engine.go dispatchMarketEvents/
// dispatchUserEvents goroutines, which fan one inbound channel out to
// per-market/per-kind destinations the same way this fans one Publish
// call out to every topic subscriber.
type InProcBus struct {
	mu       sync.RWMutex
	subs     map[string][]chan Envelope
	patterns map[string][]chan Envelope
	source   string
	seq      atomic.Uint64
	stats    Stats
	closed   bool
}

// NewInProcBus returns an empty in-process bus stamping source as origin.
func NewInProcBus(source string) *InProcBus {
	return &InProcBus{
		subs:     make(map[string][]chan Envelope),
		patterns: make(map[string][]chan Envelope),
		source:   source,
	}
}

// Publish marshals payload, wraps it in a sequenced Envelope, and delivers
// it (non-blocking, dropping on a full subscriber channel) to every
// current subscriber of topic.
func (b *InProcBus) Publish(ctx context.Context, topic string, payload any) error {
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

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus closed")
	}
	for _, ch := range b.subs[topic] {
		select {
		case ch <- env:
			b.stats.recordSuccess()
		default:
			b.stats.recordFailure()
		}
	}
	for pattern, chans := range b.patterns {
		ok, err := path.Match(pattern, topic)
		if err != nil || !ok {
			continue
		}
		for _, ch := range chans {
			select {
			case ch <- env:
				b.stats.recordSuccess()
			default:
				b.stats.recordFailure()
			}
		}
	}
	return nil
}

// Subscribe registers a new buffered channel for topic and returns it
// along with a cancel func that deregisters and closes it.
func (b *InProcBus) Subscribe(ctx context.Context, topic string) (<-chan Envelope, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, fmt.Errorf("bus closed")
	}

	ch := make(chan Envelope, 256)
	b.subs[topic] = append(b.subs[topic], ch)

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, c := range list {
			if c == ch {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, cancel, nil
}

// SubscribePattern registers a new buffered channel for every topic
// matching pattern (glob syntax, e.g. "signals.trade.*") and returns it
// along with a cancel func that deregisters and closes it.
func (b *InProcBus) SubscribePattern(ctx context.Context, pattern string) (<-chan Envelope, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, fmt.Errorf("bus closed")
	}

	ch := make(chan Envelope, 256)
	b.patterns[pattern] = append(b.patterns[pattern], ch)

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.patterns[pattern]
		for i, c := range list {
			if c == ch {
				b.patterns[pattern] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, cancel, nil
}

// HealthCheck always reports healthy: there is no external dependency.
func (b *InProcBus) HealthCheck(ctx context.Context) bool {
	return true
}

// Close marks the bus closed; further Publish/Subscribe calls fail.
func (b *InProcBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// StatsSnapshot exposes publish/failure counters for dashboards.
func (b *InProcBus) StatsSnapshot() (published, failures, reconnects uint64) {
	return b.stats.Snapshot()
}
