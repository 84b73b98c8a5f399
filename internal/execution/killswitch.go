// Package execution implements the execution engine (C13): the ordered
// gate chain between signalproc's ExecutionRequest and a venue fill,
// plus the kill switch, idempotency tracker, rate limiter, and daily P&L
// guard it depends on. Grounded on spec §4.11's nine-gate chain, with the
// kill-switch's dual bus/sentinel-file trigger and event-channel
// broadcast carried over from original_source's execution_service_rust/
// src/kill_switch.rs (see SPEC_FULL.md's supplemented-features list).
package execution

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"

	"arbees/internal/bus"
)

// KillSwitch latches an atomic in-memory flag, tripped by either a bus
// command or the presence of a sentinel file, and broadcasts every
// transition on an event channel so other components (dashboards, the
// orchestrator) can react instead of polling IsActive.
type KillSwitch struct {
	sentinelPath string
	logger       *slog.Logger

	mu     sync.RWMutex
	active bool
	reason string

	subsMu sync.Mutex
	subs   []chan bool
}

// NewKillSwitch constructs a kill switch checking sentinelPath on demand.
func NewKillSwitch(sentinelPath string, logger *slog.Logger) *KillSwitch {
	return &KillSwitch{sentinelPath: sentinelPath, logger: logger.With("component", "kill_switch")}
}

// Watch subscribes to trading:kill_switch and applies ENABLE/ON/HALT/STOP
// vs DISABLE/OFF/RESUME/START commands (case-insensitive) until ctx is
// cancelled, publishing the resulting state to trading:kill_switch_status.
func (k *KillSwitch) Watch(ctx context.Context, b bus.Bus) error {
	ch, cancel, err := b.Subscribe(ctx, bus.KillSwitchTopic)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-ch:
			if !ok {
				return nil
			}
			var payload string
			_ = unmarshal(env.Payload, &payload)
			k.applyCommand(payload)
			_ = b.Publish(ctx, bus.KillSwitchStatusTopic, k.statusString())
		}
	}
}

func (k *KillSwitch) applyCommand(payload string) {
	switch strings.ToUpper(strings.TrimSpace(payload)) {
	case "ENABLE", "ON", "HALT", "STOP":
		k.trip("bus command: " + payload)
	case "DISABLE", "OFF", "RESUME", "START":
		k.Clear()
	}
}

// Trip activates the kill switch with the given audit reason.
func (k *KillSwitch) Trip(reason string) {
	k.trip(reason)
}

func (k *KillSwitch) trip(reason string) {
	k.mu.Lock()
	already := k.active
	k.active = true
	k.reason = reason
	k.mu.Unlock()
	if !already {
		k.logger.Error("kill switch engaged", "reason", reason)
	}
	k.notify(true)
}

// Clear releases the latch. It does not remove the sentinel file: the
// file-based trigger is independent and must be removed out-of-band.
func (k *KillSwitch) Clear() {
	k.mu.Lock()
	wasActive := k.active
	k.active = false
	k.reason = ""
	k.mu.Unlock()
	if wasActive {
		k.logger.Info("kill switch cleared")
	}
	k.notify(false)
}

// IsActive reports whether the switch is tripped, checking both the
// latched flag and the sentinel file.
func (k *KillSwitch) IsActive() (bool, string) {
	k.mu.RLock()
	active, reason := k.active, k.reason
	k.mu.RUnlock()
	if active {
		return true, reason
	}
	if k.sentinelPath != "" {
		if _, err := os.Stat(k.sentinelPath); err == nil {
			return true, "sentinel file present: " + k.sentinelPath
		}
	}
	return false, ""
}

func (k *KillSwitch) statusString() string {
	active, _ := k.IsActive()
	if active {
		return "enabled"
	}
	return "disabled"
}

// Events returns a channel that receives true/false on every latch
// transition (sentinel-file-only trips are not observed here, since
// those are polled at IsActive() call sites instead).
func (k *KillSwitch) Events() <-chan bool {
	ch := make(chan bool, 4)
	k.subsMu.Lock()
	k.subs = append(k.subs, ch)
	k.subsMu.Unlock()
	return ch
}

func (k *KillSwitch) notify(active bool) {
	k.subsMu.Lock()
	defer k.subsMu.Unlock()
	for _, ch := range k.subs {
		select {
		case ch <- active:
		default:
		}
	}
}
