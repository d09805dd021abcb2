package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rate limiter defaults
const (
	DefaultRateLimitMaxEntries      = 10000
	DefaultRateLimitCleanupInterval = 5 * time.Minute
	DefaultRateLimitIdleTimeout     = 30 * time.Minute
)

// RateLimitConfig configures a RateLimiter.
type RateLimitConfig struct {
	// Rate is the sustained number of requests per second per identifier
	Rate float64

	// Burst is the bucket size
	Burst int

	// MaxEntries bounds the number of tracked identifiers (0 = default).
	// The least recently used identifier is evicted when full.
	MaxEntries int

	// CleanupInterval is how often idle identifiers are dropped (0 = default)
	CleanupInterval time.Duration

	// IdleTimeout is how long an identifier may be idle before cleanup (0 = default)
	IdleTimeout time.Duration
}

type limiterEntry struct {
	key        string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter is a token bucket limiter keyed by an identifier (usually the
// client IP), with LRU eviction so distributed traffic cannot grow it without
// bound.
type RateLimiter struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	lru      *list.List
	config   RateLimitConfig
	logger   *slog.Logger
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once

	evictions int64
}

// NewRateLimiter creates a limiter and starts its cleanup goroutine.
// Callers must call Stop.
func NewRateLimiter(config RateLimitConfig, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultRateLimitMaxEntries
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultRateLimitCleanupInterval
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultRateLimitIdleTimeout
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}

	rl := &RateLimiter{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		config:  config,
		logger:  logger,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow reports whether a request from key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	if elem, ok := rl.entries[key]; ok {
		rl.lru.MoveToFront(elem)
		entry := elem.Value.(*limiterEntry)
		entry.lastAccess = now
		return entry.limiter.AllowN(now, 1)
	}

	if len(rl.entries) >= rl.config.MaxEntries {
		rl.evictOldest()
	}

	entry := &limiterEntry{
		key:        key,
		limiter:    rate.NewLimiter(rate.Limit(rl.config.Rate), rl.config.Burst),
		lastAccess: now,
	}
	rl.entries[key] = rl.lru.PushFront(entry)
	return entry.limiter.AllowN(now, 1)
}

// evictOldest must be called with mu held.
func (rl *RateLimiter) evictOldest() {
	elem := rl.lru.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*limiterEntry)
	delete(rl.entries, entry.key)
	rl.lru.Remove(elem)
	rl.evictions++

	rl.logger.Debug("Rate limiter evicted least recently used entry",
		"total_evictions", rl.evictions,
		"current_entries", len(rl.entries))
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-rl.stop:
			return
		}
	}
}

// Cleanup drops identifiers idle for longer than the configured idle
// timeout and returns how many were removed.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.config.IdleTimeout)
	removed := 0

	// The list is ordered most recent first, so walk from the back.
	for elem := rl.lru.Back(); elem != nil; {
		entry := elem.Value.(*limiterEntry)
		if !entry.lastAccess.Before(cutoff) {
			break
		}
		prev := elem.Prev()
		delete(rl.entries, entry.key)
		rl.lru.Remove(elem)
		removed++
		elem = prev
	}

	if removed > 0 {
		rl.logger.Debug("Rate limiter cleanup completed",
			"removed", removed,
			"remaining", len(rl.entries))
	}
	return removed
}

// Len returns the number of tracked identifiers
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
