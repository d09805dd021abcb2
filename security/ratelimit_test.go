package security

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, config RateLimitConfig) (*RateLimiter, *time.Time) {
	t.Helper()
	rl := NewRateLimiter(config, nil)
	t.Cleanup(rl.Stop)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Rate: 1}, nil)
	defer rl.Stop()

	if rl.config.MaxEntries != DefaultRateLimitMaxEntries {
		t.Errorf("MaxEntries = %d, want %d", rl.config.MaxEntries, DefaultRateLimitMaxEntries)
	}
	if rl.config.CleanupInterval != DefaultRateLimitCleanupInterval {
		t.Errorf("CleanupInterval = %v, want %v", rl.config.CleanupInterval, DefaultRateLimitCleanupInterval)
	}
	if rl.config.IdleTimeout != DefaultRateLimitIdleTimeout {
		t.Errorf("IdleTimeout = %v, want %v", rl.config.IdleTimeout, DefaultRateLimitIdleTimeout)
	}
	if rl.config.Burst != 1 {
		t.Errorf("Burst = %d, want 1", rl.config.Burst)
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl, now := newTestLimiter(t, RateLimitConfig{Rate: 1, Burst: 3})

	for i := 0; i < 3; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Fatal("request beyond burst should be rejected")
	}

	if !rl.Allow("5.6.7.8") {
		t.Error("other identifiers should have their own bucket")
	}

	*now = now.Add(time.Second)
	if !rl.Allow("1.2.3.4") {
		t.Error("bucket should refill after one second")
	}
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	rl, now := newTestLimiter(t, RateLimitConfig{Rate: 1, Burst: 1, MaxEntries: 2})

	rl.Allow("a")
	*now = now.Add(time.Millisecond)
	rl.Allow("b")
	*now = now.Add(time.Millisecond)
	rl.Allow("a") // a is now most recent
	*now = now.Add(time.Millisecond)
	rl.Allow("c") // evicts b

	if rl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", rl.Len())
	}
	if rl.evictions != 1 {
		t.Errorf("evictions = %d, want 1", rl.evictions)
	}
	if _, ok := rl.entries["b"]; ok {
		t.Error("least recently used entry should have been evicted")
	}
	if _, ok := rl.entries["a"]; !ok {
		t.Error("recently used entry should be kept")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl, now := newTestLimiter(t, RateLimitConfig{Rate: 1, Burst: 1, IdleTimeout: time.Minute})

	rl.Allow("old")
	*now = now.Add(2 * time.Minute)
	rl.Allow("fresh")

	if removed := rl.Cleanup(); removed != 1 {
		t.Errorf("Cleanup() removed %d, want 1", removed)
	}
	if rl.Len() != 1 {
		t.Errorf("Len() = %d, want 1", rl.Len())
	}
	if _, ok := rl.entries["fresh"]; !ok {
		t.Error("active entry should survive cleanup")
	}
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Rate: 1000, Burst: 1000, MaxEntries: 50}, nil)
	defer rl.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				rl.Allow(fmt.Sprintf("id-%d-%d", i, j%10))
			}
		}(i)
	}
	wg.Wait()

	if rl.Len() > 50 {
		t.Errorf("Len() = %d, exceeds MaxEntries", rl.Len())
	}
}

func TestRateLimiter_StopIdempotent(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Rate: 1, Burst: 1}, nil)
	rl.Stop()
	rl.Stop()
}
