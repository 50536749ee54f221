package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestLimiterBurstThenRefill(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	limiter := newLimiter(10, 3, clock.Now)

	for i := 0; i < 3; i++ {
		if !limiter.Allow() {
			t.Fatalf("Request %d should be allowed within burst", i)
		}
	}
	if limiter.Allow() {
		t.Error("Request beyond burst should be rejected")
	}

	clock.Advance(100 * time.Millisecond)
	if !limiter.Allow() {
		t.Error("One token should be refilled after 100ms at 10/s")
	}
	if limiter.Allow() {
		t.Error("Only one token should have been refilled")
	}
}

func TestLimiterCapsAtBurst(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	limiter := newLimiter(100, 2, clock.Now)

	clock.Advance(time.Hour)
	if !limiter.AllowN(2) {
		t.Error("Full burst should be available")
	}
	if limiter.Allow() {
		t.Error("Tokens should not accumulate beyond burst")
	}
}

func TestUserLimitersShareBucketPerUser(t *testing.T) {
	ul := NewUserLimiters(1, 1)
	defer ul.Stop()

	if ul.Get("alice") != ul.Get("alice") {
		t.Error("Same user should get the same limiter")
	}
	if ul.Get("alice") == ul.Get("bob") {
		t.Error("Different users should get different limiters")
	}

	if !ul.Get("alice").Allow() {
		t.Error("First request should pass")
	}
	if ul.Get("alice").Allow() {
		t.Error("Reconnecting user should not get a fresh bucket")
	}
}

func TestUserLimitersEvictIdle(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	ul := NewUserLimiters(1, 1)
	defer ul.Stop()
	ul.now = clock.Now

	ul.Get("idle")
	clock.Advance(10 * time.Minute)
	ul.Get("active").Allow()

	if evicted := ul.evictIdle(); evicted != 1 {
		t.Errorf("Expected 1 eviction, got %d", evicted)
	}
	if ul.Len() != 1 {
		t.Errorf("Expected 1 limiter left, got %d", ul.Len())
	}
}
