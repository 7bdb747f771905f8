// Package pool contains a bounded, thread-safe pool of reusable objects.
//
// A Pool keeps returned items so later callers can reuse them instead of
// constructing new ones. The most recently returned item sits in a single
// lock-free pocket; the rest live in a Backend such as QueueBackend. Capacity
// is a soft ceiling for memory pressure, not a hard bound.
package pool

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/coachpo/pocketpool/errs"
	"github.com/coachpo/pocketpool/internal/observability"
)

// DefaultCapacity is the capacity used when Options.Capacity is zero.
const DefaultCapacity = 64

const component = "pool"

// Options configures a Pool. The zero value selects DefaultCapacity and no
// callbacks.
type Options[T any] struct {
	// Name labels logs and metrics. Defaults to the pool ID.
	Name string
	// Capacity caps pocket plus backend occupancy. Zero means DefaultCapacity.
	Capacity int
	// Recycler prepares a returned item for reuse before it is stored.
	Recycler func(*T)
	// Discarder receives every item the pool cannot keep.
	Discarder func(*T)
	// Hooks overrides admission and observes traffic.
	Hooks Hooks
	// Logger overrides the global observability logger.
	Logger observability.Logger
	// Trim enables background trimming of idle items.
	Trim TrimPolicy
}

// Pool is a bounded object pool. It never blocks: Take falls back to the
// factory when empty and Give discards when full.
type Pool[T any] struct {
	name      string
	id        string
	maxSize   atomic.Int64
	factory   func() *T
	recycler  func(*T)
	discarder func(*T)
	hooks     Hooks
	logger    observability.Logger
	pocket    Pocket[T]
	backend   Backend[T]
	disposed  atomic.Bool
	trim      trimState
	stats     counters
	debug     *debugState
}

// New constructs a pool storing overflow from the pocket in backend.
func New[T any](factory func() *T, backend Backend[T], opts Options[T]) (*Pool[T], error) {
	capacity := opts.Capacity
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if capacity < 1 {
		return nil, errs.New(component, errs.CodeInvalid,
			errs.WithField("capacity"),
			errs.WithMessage("must be at least 1"),
			errs.WithMetadataField("given", strconv.Itoa(capacity)))
	}
	if factory == nil {
		return nil, errs.Invalid(component, "factory", "factory required")
	}
	if backend == nil {
		return nil, errs.Invalid(component, "backend", "backend required")
	}
	if err := opts.Trim.validate(); err != nil {
		return nil, err
	}

	p := new(Pool[T])
	p.id = uuid.NewString()
	p.name = opts.Name
	if p.name == "" {
		p.name = p.id
	}
	p.maxSize.Store(int64(capacity))
	p.factory = factory
	p.recycler = opts.Recycler
	p.discarder = opts.Discarder
	p.hooks = opts.Hooks
	if p.hooks == nil {
		p.hooks = NopHooks{}
	}
	p.logger = opts.Logger
	p.backend = backend
	p.trim.policy = opts.Trim
	p.debug = newDebugState(p.name)
	return p, nil
}

// NewQueue constructs a pool backed by a FIFO QueueBackend.
func NewQueue[T any](factory func() *T, opts Options[T]) (*Pool[T], error) {
	return New(factory, NewQueueBackend[T](), opts)
}

// Name returns the pool label.
func (p *Pool[T]) Name() string { return p.name }

// ID returns the unique instance identifier assigned at construction.
func (p *Pool[T]) ID() string { return p.id }

// Capacity returns the current maximum occupancy. It is zero once disposed.
func (p *Pool[T]) Capacity() int { return int(p.maxSize.Load()) }

// Count returns the number of pooled items across pocket and backend.
func (p *Pool[T]) Count() int {
	return p.pocket.Count() + p.backend.Count()
}

// Generate constructs a fresh item, bypassing the pool.
func (p *Pool[T]) Generate() *T {
	p.stats.generated.Add(1)
	return p.factory()
}

// Give returns item to the pool. The recycler runs first; the item then goes
// to the pocket, then to the backend, and to the discarder when neither has
// room or admission is refused. Callbacks run on the caller's goroutine
// without pool locks held, so a panicking callback leaves the item unstored.
func (p *Pool[T]) Give(item *T) {
	if p.prepareToReceive(item) {
		p.debug.recordStore(item)
		if p.saveToPocket(item) || p.backend.Store(item, p.Capacity()-p.pocket.Count()) {
			p.stats.received.Add(1)
			p.hooks.OnReceived()
			return
		}
		p.debug.recordRelease(item)
	}
	p.discard(item)
}

// TryTake returns a pooled item without ever calling the factory.
func (p *Pool[T]) TryTake() (*T, bool) {
	item := p.pocket.TryRetrieve()
	if item != nil {
		p.stats.pocketHits.Add(1)
	} else {
		item = p.backend.Retrieve()
	}
	if item == nil {
		return nil, false
	}
	p.debug.recordRelease(item)
	p.stats.hits.Add(1)
	p.trim.observe(p.Count())
	p.hooks.OnReleased()
	return item, true
}

// Take returns a pooled item, constructing a new one when the pool is empty.
func (p *Pool[T]) Take() *T {
	if item, ok := p.TryTake(); ok {
		return item
	}
	p.stats.misses.Add(1)
	return p.factory()
}

func (p *Pool[T]) canReceive() bool {
	return p.hooks.CanReceive()
}

func (p *Pool[T]) prepareToReceive(item *T) bool {
	if item == nil || !p.canReceive() {
		return false
	}
	if p.recycler != nil {
		p.recycler(item)
		// Recycling may be slow enough for admission to change.
		if !p.canReceive() {
			return false
		}
	}
	return true
}

func (p *Pool[T]) saveToPocket(item *T) bool {
	return p.Count() < p.Capacity() && p.pocket.TrySave(item)
}

func (p *Pool[T]) discard(item *T) {
	if item == nil {
		return
	}
	p.stats.discarded.Add(1)
	if p.discarder != nil {
		p.discarder(item)
	}
}

func (p *Pool[T]) log() observability.Logger {
	if p.logger != nil {
		return p.logger
	}
	return observability.Log()
}
