package throttle

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	flushed map[string][]int
}

func newRecorder() *recorder {
	return &recorder{flushed: make(map[string][]int)}
}

func (r *recorder) flush(key string, v int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushed[key] = append(r.flushed[key], v)
}

func (r *recorder) get(key string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.flushed[key]...)
}

func TestCoalescerDeliversLatestOncePerWindow(t *testing.T) {
	rec := newRecorder()
	c := New(rec.flush)

	armed := 0
	for i := 1; i <= 10; i++ {
		if c.Submit("room:cursor:alice", 40*time.Millisecond, i) {
			armed++
		}
	}
	assert.Equal(t, 1, armed, "only the first submit arms a timer")

	require.Eventually(t, func() bool { return len(rec.get("room:cursor:alice")) == 1 },
		time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, []int{10}, rec.get("room:cursor:alice"))
	assert.Zero(t, c.Pending())
}

func TestCoalescerKeysAreIndependent(t *testing.T) {
	rec := newRecorder()
	c := New(rec.flush)

	c.Submit("a", 10*time.Millisecond, 1)
	c.Submit("b", 10*time.Millisecond, 2)
	c.Submit("a", 10*time.Millisecond, 3)

	require.Eventually(t, func() bool {
		return len(rec.get("a")) == 1 && len(rec.get("b")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{3}, rec.get("a"))
	assert.Equal(t, []int{2}, rec.get("b"))
}

func TestCoalescerRearmsAfterFire(t *testing.T) {
	rec := newRecorder()
	c := New(rec.flush)

	c.Submit("k", 5*time.Millisecond, 1)
	require.Eventually(t, func() bool { return len(rec.get("k")) == 1 }, time.Second, time.Millisecond)

	assert.True(t, c.Submit("k", 5*time.Millisecond, 2), "a new window starts after the flush")
	require.Eventually(t, func() bool { return len(rec.get("k")) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []int{1, 2}, rec.get("k"))
}

func TestCoalescerCancel(t *testing.T) {
	rec := newRecorder()
	c := New(rec.flush)

	c.Submit("k", 20*time.Millisecond, 1)
	assert.True(t, c.Cancel("k"))
	assert.False(t, c.Cancel("k"))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.get("k"))
}

func TestCoalescerStop(t *testing.T) {
	rec := newRecorder()
	c := New(rec.flush)

	c.Submit("k", 20*time.Millisecond, 1)
	c.Stop()
	assert.False(t, c.Submit("k", 20*time.Millisecond, 2))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.get("k"))
	assert.Zero(t, c.Pending())
}
