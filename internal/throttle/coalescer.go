// Package throttle coalesces high-frequency updates into at most one
// delivery per key per window, always carrying the latest payload.
package throttle

import (
	"sync"
	"time"
)

type pending[T any] struct {
	latest T
	timer  *time.Timer
}

// Coalescer arms one timer per key. Updates submitted while a timer is
// pending overwrite the stored payload instead of arming another timer; when
// the timer fires the latest payload is handed to the flush callback.
type Coalescer[T any] struct {
	mu      sync.Mutex
	pending map[string]*pending[T]
	flush   func(key string, latest T)
	stopped bool
}

// New creates a Coalescer that calls flush from the timer goroutine.
func New[T any](flush func(key string, latest T)) *Coalescer[T] {
	return &Coalescer[T]{
		pending: make(map[string]*pending[T]),
		flush:   flush,
	}
}

// Submit stores v as the latest payload for key. It arms a timer for window
// and returns true when no timer was pending; otherwise it only overwrites
// the payload and returns false.
func (c *Coalescer[T]) Submit(key string, window time.Duration, v T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return false
	}
	if p, ok := c.pending[key]; ok {
		p.latest = v
		return false
	}

	p := &pending[T]{latest: v}
	p.timer = time.AfterFunc(window, func() { c.fire(key, p) })
	c.pending[key] = p
	return true
}

func (c *Coalescer[T]) fire(key string, p *pending[T]) {
	c.mu.Lock()
	if c.pending[key] != p {
		c.mu.Unlock()
		return
	}
	delete(c.pending, key)
	latest := p.latest
	c.mu.Unlock()

	c.flush(key, latest)
}

// Cancel drops the pending payload for key. It reports whether one was pending.
func (c *Coalescer[T]) Cancel(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(c.pending, key)
	return true
}

// Pending returns the number of keys with an armed timer.
func (c *Coalescer[T]) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Stop cancels every pending timer and rejects further submissions.
func (c *Coalescer[T]) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	for key, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, key)
	}
}
