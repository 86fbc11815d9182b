package events

import (
	"sync"
)

// Handler reacts to a published value.
type Handler[T any] func(value T)

type subscription[T any] struct {
	id      uint64
	handler Handler[T]
}

// Notifier provides in-process pub/sub for a single value type.
type Notifier[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription[T]
}

// NewNotifier constructs an empty notifier.
func NewNotifier[T any]() *Notifier[T] {
	return &Notifier[T]{}
}

// Subscribe registers a handler and returns its disposer.
// Calling the disposer more than once is a no-op.
func (n *Notifier[T]) Subscribe(handler Handler[T]) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	id := n.nextID
	n.subs = append(n.subs, subscription[T]{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { n.unsubscribe(id) })
	}
}

func (n *Notifier[T]) unsubscribe(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, s := range n.subs {
		if s.id == id {
			n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
			return
		}
	}
}

// Publish notifies subscribers in subscription order.
func (n *Notifier[T]) Publish(value T) {
	if n == nil {
		return
	}

	n.mu.RLock()
	handlers := make([]Handler[T], len(n.subs))
	for i, s := range n.subs {
		handlers[i] = s.handler
	}
	n.mu.RUnlock()

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		handler(value)
	}
}

// Len returns the number of active subscriptions.
func (n *Notifier[T]) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}
