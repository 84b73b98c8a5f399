package execution

import (
	"sync"
	"time"
)

// SlidingWindowLimiter enforces two caps simultaneously over rolling
// minute/hour windows, computing retry_after_secs from the oldest
// timestamp inside the binding window — ground in original_source's
// rate_limiter.rs rather than the teacher's token-bucket
// (internal/exchange/ratelimit.go), since spec §4.11 point 4 requires
// exact caps per rolling window, not a smoothed refill rate.
type SlidingWindowLimiter struct {
	perMinute int
	perHour   int

	mu        sync.Mutex
	timestamps []time.Time
}

// NewSlidingWindowLimiter constructs a limiter with the given caps.
func NewSlidingWindowLimiter(perMinute, perHour int) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{perMinute: perMinute, perHour: perHour}
}

// Allow reports whether a new order may be placed now. If not, it also
// returns the number of seconds until the binding window's oldest entry
// ages out.
func (l *SlidingWindowLimiter) Allow(now time.Time) (ok bool, retryAfterSecs float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(now)

	minuteCount, hourCount := 0, 0
	var oldestInMinute, oldestInHour time.Time
	for _, ts := range l.timestamps {
		if now.Sub(ts) <= time.Hour {
			hourCount++
			if oldestInHour.IsZero() || ts.Before(oldestInHour) {
				oldestInHour = ts
			}
		}
		if now.Sub(ts) <= time.Minute {
			minuteCount++
			if oldestInMinute.IsZero() || ts.Before(oldestInMinute) {
				oldestInMinute = ts
			}
		}
	}

	if minuteCount >= l.perMinute {
		return false, time.Minute.Seconds() - now.Sub(oldestInMinute).Seconds()
	}
	if hourCount >= l.perHour {
		return false, time.Hour.Seconds() - now.Sub(oldestInHour).Seconds()
	}

	l.timestamps = append(l.timestamps, now)
	return true, 0
}

// prune drops timestamps older than an hour; callers must hold l.mu.
func (l *SlidingWindowLimiter) prune(now time.Time) {
	kept := l.timestamps[:0]
	for _, ts := range l.timestamps {
		if now.Sub(ts) <= time.Hour {
			kept = append(kept, ts)
		}
	}
	l.timestamps = kept
}
