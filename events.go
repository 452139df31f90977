package synckit

import (
	"sync"

	"pkt.systems/synckit/api"
)

// Observer receives kernel events synchronously. Implementations must be
// fast and must not call back into the kernel from the handler.
type Observer interface {
	HandleEvent(api.Event)
}

// eventBus fans kernel events out to channel subscribers and observers.
// Sends never block: a subscriber whose buffer is full misses the event.
// The feed carries diagnostics, not durable state.
type eventBus struct {
	mu        sync.RWMutex
	subs      map[int]chan api.Event
	next      int
	observers []Observer
	closed    bool
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[int]chan api.Event)}
}

// Emit delivers evt to all subscribers and observers.
func (b *eventBus) Emit(evt api.Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	observers := b.observers
	b.mu.RUnlock()
	for _, o := range observers {
		o.HandleEvent(evt)
	}
}

// subscribe registers a buffered channel subscriber and returns it with its
// cancel function.
func (b *eventBus) subscribe(buffer int) (<-chan api.Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan api.Event, buffer)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

func (b *eventBus) addObserver(o Observer) {
	if o == nil {
		return
	}
	b.mu.Lock()
	b.observers = append(b.observers, o)
	b.mu.Unlock()
}

// close shuts the bus; all subscriber channels are closed.
func (b *eventBus) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	b.observers = nil
	b.mu.Unlock()
}
