package pool

import (
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/pocketpool/errs"
)

type buffer struct {
	id       int
	recycled bool
	held     atomic.Int32
}

type factoryCounter struct {
	calls atomic.Int64
}

func (f *factoryCounter) build() *buffer {
	n := f.calls.Add(1)
	return &buffer{id: -int(n)}
}

type discardLog struct {
	mu    sync.Mutex
	items []*buffer
}

func (d *discardLog) record(b *buffer) {
	d.mu.Lock()
	d.items = append(d.items, b)
	d.mu.Unlock()
}

func (d *discardLog) snapshot() []*buffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*buffer(nil), d.items...)
}

func newTestPool(t *testing.T, capacity int, opts Options[buffer]) (*Pool[buffer], *factoryCounter) {
	t.Helper()
	f := new(factoryCounter)
	opts.Capacity = capacity
	p, err := NewQueue(f.build, opts)
	require.NoError(t, err)
	return p, f
}

func TestNewRejectsInvalidArguments(t *testing.T) {
	f := new(factoryCounter)

	_, err := NewQueue(f.build, Options[buffer]{Capacity: -1})
	require.Error(t, err)
	require.True(t, errs.HasCode(err, errs.CodeInvalid))
	var e *errs.E
	require.True(t, errors.As(err, &e))
	require.Equal(t, "capacity", e.Field)

	_, err = NewQueue[buffer](nil, Options[buffer]{})
	require.True(t, errors.As(err, &e))
	require.Equal(t, "factory", e.Field)

	_, err = New(f.build, nil, Options[buffer]{})
	require.True(t, errors.As(err, &e))
	require.Equal(t, "backend", e.Field)

	_, err = NewQueue(f.build, Options[buffer]{Trim: TrimPolicy{Floor: -1}})
	require.True(t, errs.HasCode(err, errs.CodeInvalid))
}

func TestNewDefaultsCapacityAndName(t *testing.T) {
	p, _ := newTestPool(t, 0, Options[buffer]{})
	require.Equal(t, DefaultCapacity, p.Capacity())
	require.NotEmpty(t, p.ID())
	require.Equal(t, p.ID(), p.Name())
	require.Equal(t, 0, p.Count())
}

func TestGiveThenTakeUsesPocket(t *testing.T) {
	p, f := newTestPool(t, 5, Options[buffer]{})
	a := &buffer{id: 1}

	p.Give(a)
	require.Equal(t, 1, p.Count())

	got := p.Take()
	require.Same(t, a, got)
	require.Equal(t, 0, p.Count())
	require.Equal(t, int64(0), f.calls.Load())

	stats := p.Stats()
	require.Equal(t, int64(1), stats.PocketHits)
	require.Equal(t, int64(1), stats.Hits)
	require.Equal(t, int64(1), stats.Received)
}

func TestGiveBeyondCapacityDiscards(t *testing.T) {
	discarded := new(discardLog)
	p, _ := newTestPool(t, 2, Options[buffer]{Discarder: discarded.record})
	a, b, c := &buffer{id: 1}, &buffer{id: 2}, &buffer{id: 3}

	p.Give(a)
	p.Give(b)
	p.Give(c)

	require.Equal(t, 2, p.Count())
	require.Equal(t, []*buffer{c}, discarded.snapshot())
	require.Equal(t, int64(1), p.Stats().Discarded)
}

func TestGiveBeyondCapacityWithoutDiscarder(t *testing.T) {
	p, _ := newTestPool(t, 2, Options[buffer]{})
	for i := 0; i < 3; i++ {
		p.Give(&buffer{id: i})
	}
	require.Equal(t, 2, p.Count())
}

func TestPooledItemsPreferredOverFactory(t *testing.T) {
	p, f := newTestPool(t, 4, Options[buffer]{})
	a, b := &buffer{id: 1}, &buffer{id: 2}
	p.Give(a)
	p.Give(b)

	first := p.Take()
	second := p.Take()
	require.ElementsMatch(t, []*buffer{a, b}, []*buffer{first, second})
	require.Equal(t, int64(0), f.calls.Load())

	fresh := p.Take()
	require.NotNil(t, fresh)
	require.Equal(t, int64(1), f.calls.Load())
	require.Equal(t, int64(1), p.Stats().Misses)
}

func TestPocketServedBeforeBackendInFIFOOrder(t *testing.T) {
	p, _ := newTestPool(t, 5, Options[buffer]{})
	a, b, c := &buffer{id: 1}, &buffer{id: 2}, &buffer{id: 3}
	p.Give(a) // pocket
	p.Give(b) // backend
	p.Give(c) // backend

	require.Same(t, a, p.Take())
	require.Same(t, b, p.Take())
	require.Same(t, c, p.Take())
}

func TestRecyclerRunsBeforeStore(t *testing.T) {
	p, _ := newTestPool(t, 5, Options[buffer]{
		Recycler: func(b *buffer) { b.recycled = true },
	})
	x := &buffer{id: 7}

	p.Give(x)
	got := p.Take()

	require.Same(t, x, got)
	require.True(t, got.recycled)
}

func TestGiveNilIsIgnored(t *testing.T) {
	discarded := new(discardLog)
	recycled := 0
	p, _ := newTestPool(t, 2, Options[buffer]{
		Recycler:  func(*buffer) { recycled++ },
		Discarder: discarded.record,
	})

	p.Give(nil)

	require.Equal(t, 0, p.Count())
	require.Equal(t, 0, recycled)
	require.Empty(t, discarded.snapshot())
}

func TestTryTakeOnEmptyPoolNeverConstructs(t *testing.T) {
	p, f := newTestPool(t, 2, Options[buffer]{})
	item, ok := p.TryTake()
	require.False(t, ok)
	require.Nil(t, item)
	require.Equal(t, int64(0), f.calls.Load())
}

func TestGenerateBypassesPool(t *testing.T) {
	p, f := newTestPool(t, 2, Options[buffer]{})
	a := &buffer{id: 1}
	p.Give(a)

	fresh := p.Generate()
	require.NotSame(t, a, fresh)
	require.Equal(t, 1, p.Count())
	require.Equal(t, int64(1), f.calls.Load())
	require.Equal(t, int64(1), p.Stats().Generated)
}

type toggleHooks struct {
	admit    atomic.Bool
	received atomic.Int32
	released atomic.Int32
}

func (h *toggleHooks) CanReceive() bool { return h.admit.Load() }
func (h *toggleHooks) OnReceived()      { h.received.Add(1) }
func (h *toggleHooks) OnReleased()      { h.released.Add(1) }

func TestHooksObserveTrafficAndGateAdmission(t *testing.T) {
	hooks := new(toggleHooks)
	hooks.admit.Store(true)
	discarded := new(discardLog)
	p, _ := newTestPool(t, 4, Options[buffer]{Hooks: hooks, Discarder: discarded.record})

	a := &buffer{id: 1}
	p.Give(a)
	require.Equal(t, int32(1), hooks.received.Load())
	p.Take()
	require.Equal(t, int32(1), hooks.released.Load())

	hooks.admit.Store(false)
	p.Give(a)
	require.Equal(t, 0, p.Count())
	require.Equal(t, []*buffer{a}, discarded.snapshot())
	require.Equal(t, int32(1), hooks.received.Load())
}

func TestAdmissionRecheckedAfterRecycling(t *testing.T) {
	hooks := new(toggleHooks)
	hooks.admit.Store(true)
	discarded := new(discardLog)
	p, _ := newTestPool(t, 4, Options[buffer]{
		Hooks:     hooks,
		Discarder: discarded.record,
		Recycler:  func(*buffer) { hooks.admit.Store(false) },
	})

	a := &buffer{id: 1}
	p.Give(a)

	require.Equal(t, 0, p.Count())
	require.Equal(t, []*buffer{a}, discarded.snapshot())
}

func TestPanickingRecyclerLeavesPoolConsistent(t *testing.T) {
	p, _ := newTestPool(t, 4, Options[buffer]{
		Recycler: func(*buffer) { panic("recycle failed") },
	})

	require.Panics(t, func() { p.Give(&buffer{id: 1}) })
	require.Equal(t, 0, p.Count())
	_, ok := p.TryTake()
	require.False(t, ok)
}

func TestCountNeverExceedsCapacity(t *testing.T) {
	const capacity = 3
	p, _ := newTestPool(t, capacity, Options[buffer]{})
	rng := rand.New(rand.NewPCG(1, 2))

	var held []*buffer
	for i := 0; i < 2000; i++ {
		if rng.IntN(2) == 0 || len(held) == 0 {
			held = append(held, p.Take())
		} else {
			idx := rng.IntN(len(held))
			p.Give(held[idx])
			held = append(held[:idx], held[idx+1:]...)
		}
		if rng.IntN(10) == 0 {
			p.Give(&buffer{id: i})
		}
		require.LessOrEqual(t, p.Count(), capacity)
	}
}

func TestDisposeDrainsThroughDiscarderOnce(t *testing.T) {
	discarded := new(discardLog)
	p, _ := newTestPool(t, 4, Options[buffer]{Discarder: discarded.record})
	items := []*buffer{{id: 1}, {id: 2}, {id: 3}}
	for _, it := range items {
		p.Give(it)
	}

	p.Dispose()
	require.True(t, p.Disposed())
	require.Equal(t, 0, p.Capacity())
	require.Equal(t, 0, p.Count())
	require.ElementsMatch(t, items, discarded.snapshot())

	p.Dispose()
	require.Len(t, discarded.snapshot(), 3)
}

func TestGiveAfterDisposeStillRecyclesAndDiscards(t *testing.T) {
	discarded := new(discardLog)
	recycled := 0
	p, _ := newTestPool(t, 4, Options[buffer]{
		Recycler:  func(*buffer) { recycled++ },
		Discarder: discarded.record,
	})
	p.Dispose()

	late := &buffer{id: 9}
	p.Give(late)

	require.Equal(t, 1, recycled)
	require.Equal(t, []*buffer{late}, discarded.snapshot())
	require.Equal(t, 0, p.Count())
}

func TestTakeAfterDisposeConstructs(t *testing.T) {
	p, f := newTestPool(t, 4, Options[buffer]{})
	p.Give(&buffer{id: 1})
	p.Dispose()

	for i := 0; i < 3; i++ {
		got := p.Take()
		require.NotNil(t, got)
		require.Less(t, got.id, 0)
	}
	require.Equal(t, int64(3), f.calls.Load())
	_, ok := p.TryTake()
	require.False(t, ok)
}

func TestConcurrentGiveTakeNeverSharesItems(t *testing.T) {
	const (
		workers = 8
		cycles  = 2000
	)
	p, _ := newTestPool(t, 4, Options[buffer]{})

	var violations atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < cycles; i++ {
				item := p.Take()
				if !item.held.CompareAndSwap(0, 1) {
					violations.Add(1)
				}
				item.held.Store(0)
				p.Give(item)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(0), violations.Load())
	// Capacity is soft: racing stores may overshoot by at most one per worker.
	require.LessOrEqual(t, p.Count(), 4+workers)
}
