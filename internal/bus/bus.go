// Package bus is a typed in-process publish/subscribe channel used to fan
// prediction updates out to interested listeners without a global registry.
package bus

import (
	"sync"

	"github.com/google/uuid"
)

const defaultBuffer = 16

// Bus fans values of one event type out to all current subscribers.
// Publish never blocks: when a subscriber's buffer is full, its oldest
// pending event is dropped to make room for the newest.
type Bus[T any] struct {
	mu     sync.RWMutex
	buffer int
	subs   map[string]chan T
	closed bool
}

type Option[T any] func(*Bus[T])

func WithBuffer[T any](n int) Option[T] {
	return func(b *Bus[T]) {
		if n > 0 {
			b.buffer = n
		}
	}
}

func New[T any](opts ...Option[T]) *Bus[T] {
	b := &Bus[T]{
		buffer: defaultBuffer,
		subs:   make(map[string]chan T),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a listener and returns its id and receive channel.
// The channel is closed on Unsubscribe or Close.
func (b *Bus[T]) Subscribe() (string, <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan T, b.buffer)
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subs[id] = ch
	return id, ch
}

func (b *Bus[T]) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers event to every subscriber, dropping each subscriber's
// oldest buffered event if it is not keeping up.
func (b *Bus[T]) Publish(event T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		for {
			select {
			case ch <- event:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Close closes every subscriber channel and rejects further publishes.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Len reports the current subscriber count.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
