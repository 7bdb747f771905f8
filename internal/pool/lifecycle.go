package pool

import "github.com/coachpo/pocketpool/internal/observability"

// Dispose closes the pool. Capacity drops to zero so later gives are
// discarded, stored items are drained through the discarder, and the backend
// is closed. Items still held by callers are not reclaimed; giving them back
// later runs the recycler and discarder as usual. Calling Dispose more than
// once has no further effect.
func (p *Pool[T]) Dispose() {
	if !p.disposed.CompareAndSwap(false, true) {
		return
	}
	p.maxSize.Store(0)

	drained := p.drain()
	p.backend.Close()
	// A give that passed the capacity check before it dropped to zero can
	// still land in the pocket.
	drained += p.drain()

	p.log().Debug("pool disposed",
		observability.F("pool", p.name),
		observability.F("pool_id", p.id),
		observability.F("drained", drained))
}

// Disposed reports whether Dispose has been called.
func (p *Pool[T]) Disposed() bool {
	return p.disposed.Load()
}

func (p *Pool[T]) drain() int {
	n := 0
	for {
		item := p.pocket.TryRetrieve()
		if item == nil {
			item = p.backend.Retrieve()
		}
		if item == nil {
			return n
		}
		p.debug.recordRelease(item)
		n++
		p.discard(item)
	}
}

// remove pulls up to n items out of the pool, oldest first, and discards
// them. The pocket is emptied last.
func (p *Pool[T]) remove(n int) int {
	removed := 0
	for removed < n {
		item := p.backend.Retrieve()
		if item == nil {
			item = p.pocket.TryRetrieve()
		}
		if item == nil {
			break
		}
		p.debug.recordRelease(item)
		removed++
		p.discard(item)
	}
	return removed
}
