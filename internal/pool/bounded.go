package pool

import (
	"fmt"
	"sync"
)

// ChannelBackend is a Backend over a buffered channel. The channel buffer is
// a hard upper bound; the limit passed by the pool is applied on top of it.
// Ordering is FIFO.
type ChannelBackend[T any] struct {
	items  chan *T
	mu     sync.RWMutex
	closed bool
}

// NewChannelBackend constructs a channel backend holding at most size items.
func NewChannelBackend[T any](size int) *ChannelBackend[T] {
	if size <= 0 {
		panic(fmt.Sprintf("pool: channel backend size must be positive, got %d", size))
	}
	return &ChannelBackend[T]{items: make(chan *T, size)}
}

// Store enqueues item without blocking when fewer than limit items are held.
func (c *ChannelBackend[T]) Store(item *T, limit int) bool {
	if item == nil || len(c.items) >= limit {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.items <- item:
		return true
	default:
		return false
	}
}

// Retrieve dequeues an item without blocking, or returns nil.
func (c *ChannelBackend[T]) Retrieve() *T {
	if len(c.items) == 0 {
		return nil
	}
	select {
	case item := <-c.items:
		return item
	default:
		return nil
	}
}

// Count reports the number of buffered items.
func (c *ChannelBackend[T]) Count() int {
	return len(c.items)
}

// Close refuses further stores and drops buffered items.
func (c *ChannelBackend[T]) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	for {
		select {
		case <-c.items:
		default:
			return
		}
	}
}
