package synckit

import "sync"

// Cell is a single mutable slot with linearizable read-modify-write. Under
// any interleaving of concurrent callers no update is lost; the final value
// is the fold of all deltas and update functions in some serial order.
type Cell struct {
	mu    sync.Mutex
	value int64
}

// NewCell constructs a cell holding initial.
func NewCell(initial int64) *Cell {
	return &Cell{value: initial}
}

// Increment adds delta and returns the new value.
func (c *Cell) Increment(delta int64) int64 {
	c.mu.Lock()
	c.value += delta
	v := c.value
	c.mu.Unlock()
	return v
}

// Update applies fn to the current value inside the critical section and
// returns the new value. fn is called exactly once and must not block.
func (c *Cell) Update(fn func(current int64) int64) int64 {
	c.mu.Lock()
	c.value = fn(c.value)
	v := c.value
	c.mu.Unlock()
	return v
}

// Load returns the current value.
func (c *Cell) Load() int64 {
	c.mu.Lock()
	v := c.value
	c.mu.Unlock()
	return v
}

// Store replaces the current value.
func (c *Cell) Store(v int64) {
	c.mu.Lock()
	c.value = v
	c.mu.Unlock()
}

// CompareAndSwap sets the value to next only if it currently equals old,
// reporting whether the swap happened.
func (c *Cell) CompareAndSwap(old, next int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value != old {
		return false
	}
	c.value = next
	return true
}
