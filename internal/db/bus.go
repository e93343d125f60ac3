package db

import "sync"

// Bus is the process-wide change notification fan-out. Every successful
// mutation in either backend pulses it; downstream caching treats any pulse
// as "invalidate everything". Notifications carry no payload. A false
// positive costs a refetch; a missed notification would be a correctness
// bug, so both backends notify unconditionally on success.
type Bus struct {
	mu        sync.Mutex
	listeners map[int]func()
	nextID    int
}

func NewBus() *Bus {
	return &Bus{listeners: make(map[int]func())}
}

// OnChange registers a listener invoked synchronously on every notification.
// The returned function unsubscribes.
func (b *Bus) OnChange(fn func()) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// NotifyChange fans out to all listeners.
func (b *Bus) NotifyChange() {
	b.mu.Lock()
	fns := make([]func(), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
