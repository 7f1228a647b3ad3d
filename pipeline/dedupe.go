package pipeline

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"sync/atomic"
	"time"

	"github.com/justapithecus/flume/cache"
	"github.com/justapithecus/flume/types"
)

// dedupeSweepThreshold is the cache utilization above which a sweep of
// expired signatures runs inline.
const dedupeSweepThreshold = 0.8

// DedupeConfig configures the duplicate suppressor.
type DedupeConfig struct {
	// Window is how long a signature suppresses repeats.
	Window time.Duration
	// Fields are the signature fields; missing fields are omitted from
	// the signature.
	Fields []string
	// MaxCacheSize bounds the signature cache (LRU beyond it).
	MaxCacheSize int
	// HashAlgorithm is md5, sha1, or sha256 (default md5).
	HashAlgorithm string
}

// dedupeEntry tracks one signature's occurrence record.
type dedupeEntry struct {
	firstSeen time.Time
	lastSeen  time.Time
	count     int64
}

// Deduplicator suppresses recurring events carrying the same signature
// inside the window. The check-and-insert is a single critical section
// per signature: under concurrent producers exactly one event with a
// given signature passes per window.
type Deduplicator struct {
	cfg     DedupeConfig
	cache   *cache.Cache
	locks   *cache.LockRegistry
	newHash func() hash.Hash
	now     func() time.Time

	duplicates atomic.Int64
}

// NewDeduplicator validates the config and creates a deduplicator
// backed by the given lock registry.
func NewDeduplicator(cfg DedupeConfig, locks *cache.LockRegistry) (*Deduplicator, error) {
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("dedupe window_seconds must be positive, got %v", cfg.Window)
	}
	if len(cfg.Fields) == 0 {
		return nil, fmt.Errorf("dedupe fields cannot be empty")
	}
	if cfg.MaxCacheSize <= 0 {
		cfg.MaxCacheSize = 10000
	}

	var newHash func() hash.Hash
	switch cfg.HashAlgorithm {
	case "", "md5":
		newHash = md5.New
	case "sha1":
		newHash = sha1.New
	case "sha256":
		newHash = sha256.New
	default:
		return nil, fmt.Errorf("dedupe hash_algorithm must be md5, sha1, or sha256, got %q", cfg.HashAlgorithm)
	}

	if locks == nil {
		locks = cache.NewLockRegistry()
	}

	return &Deduplicator{
		cfg:     cfg,
		cache:   cache.New(cfg.MaxCacheSize, cfg.Window),
		locks:   locks,
		newHash: newHash,
		now:     time.Now,
	}, nil
}

// Name implements Processor.
func (d *Deduplicator) Name() string { return "deduplicator" }

// Process implements Processor.
func (d *Deduplicator) Process(_ context.Context, event types.Event) (types.Event, error) {
	sig, err := d.signature(event)
	if err != nil {
		// Unsignable events pass through rather than blocking the chain.
		return event, nil
	}
	now := d.now()

	unlock := d.locks.Lock("dedupe:" + sig)
	fresh := d.checkAndInsert(sig, now)
	unlock()

	if d.cache.Utilization() > dedupeSweepThreshold {
		d.cache.CleanupExpired()
	}

	if !fresh {
		return nil, nil
	}
	return event, nil
}

// checkAndInsert is the atomic duplicate check. Caller must hold the
// signature's lock.
func (d *Deduplicator) checkAndInsert(sig string, now time.Time) bool {
	if v, ok := d.cache.Get(sig); ok {
		entry := v.(*dedupeEntry)
		if now.Sub(entry.firstSeen) <= d.cfg.Window {
			entry.count++
			entry.lastSeen = now
			d.duplicates.Add(1)
			return false
		}
	}

	d.cache.Set(sig, &dedupeEntry{firstSeen: now, lastSeen: now, count: 1})
	return true
}

// signature hashes the canonical JSON of the configured fields.
// Missing fields are omitted, so {a:1} and {a:1,b:2} collide only
// when b is not configured.
func (d *Deduplicator) signature(event types.Event) (string, error) {
	sigData := make(map[string]any, len(d.cfg.Fields))
	for _, f := range d.cfg.Fields {
		if v, ok := event[f]; ok {
			sigData[f] = v
		}
	}

	// encoding/json sorts map keys, giving a deterministic rendering.
	data, err := json.Marshal(sigData)
	if err != nil {
		return "", err
	}

	h := d.newHash()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Duplicates reports how many events were suppressed as repeats.
func (d *Deduplicator) Duplicates() int64 {
	return d.duplicates.Load()
}
