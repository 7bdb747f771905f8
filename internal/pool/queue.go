package pool

import (
	"sync"
	"sync/atomic"

	"github.com/gammazero/deque"
)

// QueueBackend is a FIFO Backend guarded by a single mutex. Operations are
// O(1) so the lock is only ever held for a push or a pop.
type QueueBackend[T any] struct {
	mu     sync.Mutex
	items  deque.Deque[*T]
	count  atomic.Int64
	closed bool
}

// NewQueueBackend constructs an empty queue.
func NewQueueBackend[T any]() *QueueBackend[T] {
	return new(QueueBackend[T])
}

// Store enqueues item when fewer than limit items are queued at entry. The
// count is read before taking the lock, so concurrent stores may push the
// queue a few items past limit.
func (q *QueueBackend[T]) Store(item *T, limit int) bool {
	if item == nil || q.Count() >= limit {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items.PushBack(item)
	q.count.Add(1)
	return true
}

// Retrieve dequeues the oldest item, or returns nil when empty.
func (q *QueueBackend[T]) Retrieve() *T {
	if q.count.Load() == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.items.Len() == 0 {
		return nil
	}
	item := q.items.PopFront()
	q.count.Add(-1)
	return item
}

// Count reports the number of queued items.
func (q *QueueBackend[T]) Count() int {
	return int(q.count.Load())
}

// Close drops the queued items without discarding them.
func (q *QueueBackend[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items.Clear()
	q.count.Store(0)
}
