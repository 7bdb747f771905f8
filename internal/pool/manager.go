package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	concpool "github.com/sourcegraph/conc/pool"

	"github.com/coachpo/pocketpool/errs"
	"github.com/coachpo/pocketpool/internal/observability"
)

var (
	// ErrPoolNotRegistered indicates the requested pool has not been registered.
	ErrPoolNotRegistered = errors.New("pool manager: pool not registered")
	// ErrManagerClosed indicates the manager is shutting down and cannot service requests.
	ErrManagerClosed = errors.New("pool manager: shutdown in progress")
)

const defaultShutdownTimeout = 5 * time.Second

// Managed is the type-erased view of a Pool held by a Manager.
type Managed interface {
	StatsSource
	Name() string
	Dispose()
	RunTrimmer(ctx context.Context) error
}

// Manager coordinates named pools of any item type, providing lookup,
// background trimming, and a single idempotent shutdown.
type Manager struct {
	mu           sync.RWMutex
	pools        map[string]Managed
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// NewManager constructs an empty manager ready for registration.
func NewManager() *Manager {
	m := new(Manager)
	m.pools = make(map[string]Managed)
	m.shutdownCh = make(chan struct{})
	return m
}

// Register adds p under its name.
func (m *Manager) Register(p Managed) error {
	if p == nil {
		return errs.Invalid("pool manager", "pool", "pool required")
	}
	name := p.Name()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed() {
		return ErrManagerClosed
	}
	if _, exists := m.pools[name]; exists {
		return errs.New("pool manager", errs.CodeConflict,
			errs.WithMessage(fmt.Sprintf("pool %s already registered", name)),
			errs.WithMetadataField("pool", name))
	}
	m.pools[name] = p
	return nil
}

// Lookup returns the pool registered under name.
func (m *Manager) Lookup(name string) (Managed, error) {
	if m.closed() {
		return nil, ErrManagerClosed
	}
	m.mu.RLock()
	p, ok := m.pools[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotRegistered, name)
	}
	return p, nil
}

// Get returns the pool registered under name as a *Pool[T].
func Get[T any](m *Manager, name string) (*Pool[T], error) {
	managed, err := m.Lookup(name)
	if err != nil {
		return nil, err
	}
	p, ok := managed.(*Pool[T])
	if !ok {
		var zero T
		return nil, errs.New("pool manager", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("pool %s does not hold %T", name, &zero)),
			errs.WithMetadataField("pool", name))
	}
	return p, nil
}

// Snapshots returns stats for every registered pool, ordered by name.
func (m *Manager) Snapshots() []Snapshot {
	pools := m.list()
	out := make([]Snapshot, 0, len(pools))
	for _, p := range pools {
		out = append(out, p.Stats())
	}
	return out
}

// RunTrimmers runs each pool's trimmer until ctx is done or the manager
// shuts down. Pools registered afterwards are not picked up.
func (m *Manager) RunTrimmers(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.shutdownCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	workers := concpool.New().WithContext(ctx)
	for _, p := range m.list() {
		workers.Go(func(ctx context.Context) error {
			if err := p.RunTrimmer(ctx); err != nil {
				return fmt.Errorf("trim %s: %w", p.Name(), err)
			}
			return nil
		})
	}
	return workers.Wait()
}

// Shutdown disposes every registered pool concurrently. It waits for the
// disposals or until ctx expires, defaulting to 5 seconds when ctx has no
// deadline. Later calls return nil without doing anything.
func (m *Manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, defaultShutdownTimeout)
	}
	if cancel != nil {
		defer cancel()
	}

	first := false
	m.shutdownOnce.Do(func() {
		close(m.shutdownCh)
		first = true
	})
	if !first {
		return nil
	}

	pools := m.list()
	done := make(chan struct{})
	go func() {
		var wg conc.WaitGroup
		for _, p := range pools {
			wg.Go(p.Dispose)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		observability.Log().Info("pool manager shut down", observability.F("pools", len(pools)))
		return nil
	case <-ctx.Done():
		pending := 0
		for _, p := range pools {
			if s := p.Stats(); s.Count > 0 {
				pending++
			}
		}
		observability.Log().Error("pool manager shutdown timed out", observability.F("pending", pending))
		return fmt.Errorf("shutdown timeout: %d pools still draining: %w", pending, ctx.Err())
	}
}

func (m *Manager) closed() bool {
	select {
	case <-m.shutdownCh:
		return true
	default:
		return false
	}
}

func (m *Manager) list() []Managed {
	m.mu.RLock()
	out := make([]Managed, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, p)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
