package room

import (
	"encoding/json"
	"time"
)

// Canvas is the authoritative shape history of one room. Shapes are opaque
// JSON payloads replayed in order.
//
// A Canvas is not safe for concurrent use; it is owned by the hub's event loop.
type Canvas struct {
	shapes    []json.RawMessage
	updatedAt time.Time
}

// NewCanvas creates an empty canvas
func NewCanvas() *Canvas {
	return &Canvas{
		shapes:    make([]json.RawMessage, 0),
		updatedAt: time.Now(),
	}
}

// Appends a completed shape to the history
func (c *Canvas) Append(shape json.RawMessage) {
	c.shapes = append(c.shapes, cloneShape(shape))
	c.touch()
}

// Removes every shape
func (c *Canvas) Clear() {
	c.shapes = make([]json.RawMessage, 0)
	c.touch()
}

// Delete removes the shapes at the given indices, keeping the order of the
// rest. Out-of-range and repeated indices are ignored. It returns the number
// of shapes removed.
func (c *Canvas) Delete(indices []int) int {
	if len(indices) == 0 {
		return 0
	}
	drop := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		if i >= 0 && i < len(c.shapes) {
			drop[i] = struct{}{}
		}
	}

	kept := make([]json.RawMessage, 0, len(c.shapes)-len(drop))
	for i, shape := range c.shapes {
		if _, ok := drop[i]; !ok {
			kept = append(kept, shape)
		}
	}
	c.shapes = kept
	c.touch()
	return len(drop)
}

// Replace swaps the whole history for shapes. Used by undo and redo, which
// submit the client's full list.
func (c *Canvas) Replace(shapes []json.RawMessage) {
	next := make([]json.RawMessage, 0, len(shapes))
	for _, shape := range shapes {
		next = append(next, cloneShape(shape))
	}
	c.shapes = next
	c.touch()
}

// Returns a copy of the history for late joiners
func (c *Canvas) Snapshot() []json.RawMessage {
	snapshot := make([]json.RawMessage, len(c.shapes))
	copy(snapshot, c.shapes)
	return snapshot
}

func (c *Canvas) Len() int { return len(c.shapes) }

func (c *Canvas) UpdatedAt() time.Time { return c.updatedAt }

func (c *Canvas) touch() { c.updatedAt = time.Now() }

func cloneShape(shape json.RawMessage) json.RawMessage {
	out := make(json.RawMessage, len(shape))
	copy(out, shape)
	return out
}
