package pool

import "sync/atomic"

// Pocket is a single-slot holder checked before the backend on both Give and
// Take. Save and retrieve are atomic exchanges, so at most one caller can fill
// an empty pocket and at most one caller can empty a full one.
type Pocket[T any] struct {
	slot atomic.Pointer[T]
}

// TrySave stores item if the pocket is empty. Nil items are refused.
func (p *Pocket[T]) TrySave(item *T) bool {
	if item == nil {
		return false
	}
	return p.slot.CompareAndSwap(nil, item)
}

// TryRetrieve empties the pocket and returns its occupant, or nil.
func (p *Pocket[T]) TryRetrieve() *T {
	if p.slot.Load() == nil {
		return nil
	}
	return p.slot.Swap(nil)
}

// Count returns 1 when the pocket is occupied.
func (p *Pocket[T]) Count() int {
	if p.slot.Load() == nil {
		return 0
	}
	return 1
}
