package pipeline

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/justapithecus/flume/cache"
	"github.com/justapithecus/flume/types"
)

// Throttle strategies.
const (
	ThrottleStrategyDrop   = "drop"
	ThrottleStrategySample = "sample"
)

// throttleSampleRate is the admission probability under the sample
// strategy once a key is over its rate.
const throttleSampleRate = 0.1

// throttleSweepThreshold is the cache utilization above which a sweep
// of expired keys runs inline.
const throttleSweepThreshold = 0.8

// ThrottleConfig configures the per-key rate limiter.
type ThrottleConfig struct {
	// MaxRate is the events admitted per key per window.
	MaxRate int
	// Window is the sliding window duration.
	Window time.Duration
	// KeyField is the event field the key derives from. Events missing
	// the field share the "default" key.
	KeyField string
	// Strategy is drop or sample (default drop).
	Strategy string
	// MaxKeys caps the number of tracked keys; LRU eviction beyond it
	// simply resets the evicted key's rate.
	MaxKeys int
}

// Throttler caps per-key event rate in a sliding window. Per-key state
// lives in an LRU cache; updates run under a per-key named lock so
// concurrent producers on the same key never race.
type Throttler struct {
	cfg   ThrottleConfig
	cache *cache.Cache
	locks *cache.LockRegistry
	draw  func() float64 // test hook
	now   func() time.Time
}

// NewThrottler validates the config and creates a throttler backed by
// the given lock registry.
func NewThrottler(cfg ThrottleConfig, locks *cache.LockRegistry) (*Throttler, error) {
	if cfg.MaxRate <= 0 {
		return nil, fmt.Errorf("throttle max_rate must be positive, got %d", cfg.MaxRate)
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("throttle window_seconds must be positive, got %v", cfg.Window)
	}
	if cfg.KeyField == "" {
		return nil, fmt.Errorf("throttle key_field must be a non-empty string")
	}
	switch cfg.Strategy {
	case "":
		cfg.Strategy = ThrottleStrategyDrop
	case ThrottleStrategyDrop, ThrottleStrategySample:
	default:
		return nil, fmt.Errorf("throttle strategy must be %q or %q, got %q",
			ThrottleStrategyDrop, ThrottleStrategySample, cfg.Strategy)
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 10000
	}
	if locks == nil {
		locks = cache.NewLockRegistry()
	}

	return &Throttler{
		cfg:   cfg,
		cache: cache.New(cfg.MaxKeys, cfg.Window),
		locks: locks,
		draw:  rand.Float64,
		now:   time.Now,
	}, nil
}

// Name implements Processor.
func (t *Throttler) Name() string { return "throttler" }

// Process implements Processor.
func (t *Throttler) Process(_ context.Context, event types.Event) (types.Event, error) {
	key := t.extractKey(event)
	now := t.now()

	unlock := t.locks.Lock("throttle:" + key)
	admitted := t.admit(key, now)
	unlock()

	if !admitted && t.cfg.Strategy == ThrottleStrategySample {
		if t.draw() < throttleSampleRate {
			admitted = true
		}
	}

	if t.cache.Utilization() > throttleSweepThreshold {
		t.cache.CleanupExpired()
	}

	if !admitted {
		return nil, nil
	}
	return event, nil
}

// admit prunes expired timestamps for key and records the event when
// under the rate. Caller must hold the key's lock.
func (t *Throttler) admit(key string, now time.Time) bool {
	cutoff := now.Add(-t.cfg.Window)

	var stamps []time.Time
	if v, ok := t.cache.Get(key); ok {
		stamps = v.([]time.Time)
	}

	// Drop timestamps older than the window. The slice is bounded by
	// MaxRate, so this stays O(max_rate), not O(cache size).
	live := stamps[:0]
	for _, ts := range stamps {
		if !ts.Before(cutoff) {
			live = append(live, ts)
		}
	}

	if len(live) >= t.cfg.MaxRate {
		t.cache.Set(key, live)
		return false
	}

	live = append(live, now)
	t.cache.Set(key, live)
	return true
}

func (t *Throttler) extractKey(event types.Event) string {
	if v, ok := event[t.cfg.KeyField]; ok && v != nil {
		return fmt.Sprintf("%v", v)
	}
	return "default"
}

// CurrentRate reports how many events key has in its current window.
func (t *Throttler) CurrentRate(key string) int {
	unlock := t.locks.Lock("throttle:" + key)
	defer unlock()

	v, ok := t.cache.Get(key)
	if !ok {
		return 0
	}
	cutoff := t.now().Add(-t.cfg.Window)
	n := 0
	for _, ts := range v.([]time.Time) {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}
