package synckit

import (
	"context"
	"sync"

	"pkt.systems/synckit/api"
)

// Barrier is a reusable rendezvous for a fixed number of parties. Each
// generation releases all parties together once the last one arrives.
type Barrier struct {
	mu      sync.Mutex
	parties int
	arrived int
	gen     int
	current *barrierGen
}

// barrierGen carries the outcome of one generation. gate is closed exactly
// once, on trip or destruction; err is set before the close.
type barrierGen struct {
	gate chan struct{}
	err  error
}

// NewBarrier constructs a barrier for parties > 0.
func NewBarrier(parties int) *Barrier {
	if parties <= 0 {
		panic("synckit: barrier parties must be > 0")
	}
	return &Barrier{
		parties: parties,
		current: &barrierGen{gate: make(chan struct{})},
	}
}

// Await registers an arrival and blocks until the generation trips or ctx is
// done. It returns the generation number that tripped. The arrival of the
// final party releases every waiter of that generation atomically.
func (b *Barrier) Await(ctx context.Context) (int, error) {
	b.mu.Lock()
	if b.current == nil {
		b.mu.Unlock()
		return 0, &api.PoolShutdownError{Primitive: "barrier"}
	}
	gen := b.gen
	g := b.current
	b.arrived++
	if b.arrived == b.parties {
		// Trip: release this generation and open the next one.
		b.arrived = 0
		b.gen++
		b.current = &barrierGen{gate: make(chan struct{})}
		close(g.gate)
		b.mu.Unlock()
		return gen, nil
	}
	b.mu.Unlock()

	select {
	case <-g.gate:
		if g.err != nil {
			return 0, g.err
		}
		return gen, nil
	case <-ctx.Done():
		b.mu.Lock()
		// Only retract the arrival if this generation has not tripped.
		if b.current == g {
			b.arrived--
			b.mu.Unlock()
			return 0, ctx.Err()
		}
		b.mu.Unlock()
		if g.err != nil {
			return 0, g.err
		}
		return gen, nil
	}
}

// Parties returns the configured party count.
func (b *Barrier) Parties() int {
	return b.parties
}

// Arrived returns the number of parties waiting in the current generation.
func (b *Barrier) Arrived() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.arrived
}

// Generation returns the current generation number.
func (b *Barrier) Generation() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen
}

// Destroy fails all current-generation waiters and rejects future Await
// calls.
func (b *Barrier) Destroy() {
	b.mu.Lock()
	if b.current == nil {
		b.mu.Unlock()
		return
	}
	g := b.current
	b.current = nil
	b.arrived = 0
	g.err = &api.PoolShutdownError{Primitive: "barrier"}
	close(g.gate)
	b.mu.Unlock()
}
