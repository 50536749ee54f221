// Package ratelimit implements token-bucket limiting for inbound client frames.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a token bucket refilled at rate tokens per second up to burst.
type Limiter struct {
	rate     float64
	burst    int
	tokens   float64
	lastSeen time.Time
	now      func() time.Time
	mu       sync.Mutex
}

func NewLimiter(rate float64, burst int) *Limiter {
	return newLimiter(rate, burst, time.Now)
}

func newLimiter(rate float64, burst int, now func() time.Time) *Limiter {
	return &Limiter{
		rate:     rate,
		burst:    burst,
		tokens:   float64(burst),
		lastSeen: now(),
		now:      now,
	}
}

// Allow takes one token if available.
func (l *Limiter) Allow() bool {
	return l.AllowN(1)
}

// AllowN takes n tokens if available.
func (l *Limiter) AllowN(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens >= float64(n) {
		l.tokens -= float64(n)
		return true
	}
	return false
}

// refill must be called with mu held.
func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastSeen).Seconds()
	l.lastSeen = now

	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
}

// idleSince reports whether the bucket has been untouched since t.
func (l *Limiter) idleSince(t time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeen.Before(t)
}

// UserLimiters hands out one Limiter per user so a user's budget survives
// reconnects. Buckets idle for longer than the idle timeout are evicted.
type UserLimiters struct {
	limiters map[string]*Limiter
	rate     float64
	burst    int
	idle     time.Duration
	now      func() time.Time
	mu       sync.Mutex
	stop     chan struct{}
	stopOnce sync.Once
}

func NewUserLimiters(rate float64, burst int) *UserLimiters {
	ul := &UserLimiters{
		limiters: make(map[string]*Limiter),
		rate:     rate,
		burst:    burst,
		idle:     5 * time.Minute,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go ul.cleanup()
	return ul
}

// Get returns the limiter for userID, creating it on first use.
func (ul *UserLimiters) Get(userID string) *Limiter {
	ul.mu.Lock()
	defer ul.mu.Unlock()

	limiter, ok := ul.limiters[userID]
	if !ok {
		limiter = newLimiter(ul.rate, ul.burst, ul.now)
		ul.limiters[userID] = limiter
	}
	return limiter
}

func (ul *UserLimiters) Len() int {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	return len(ul.limiters)
}

func (ul *UserLimiters) Stop() {
	ul.stopOnce.Do(func() { close(ul.stop) })
}

func (ul *UserLimiters) cleanup() {
	ticker := time.NewTicker(ul.idle)
	defer ticker.Stop()

	for {
		select {
		case <-ul.stop:
			return
		case <-ticker.C:
			ul.evictIdle()
		}
	}
}

func (ul *UserLimiters) evictIdle() int {
	cutoff := ul.now().Add(-ul.idle)

	ul.mu.Lock()
	defer ul.mu.Unlock()

	evicted := 0
	for id, limiter := range ul.limiters {
		if limiter.idleSince(cutoff) {
			delete(ul.limiters, id)
			evicted++
		}
	}
	return evicted
}
