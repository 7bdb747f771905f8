package pool

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/coachpo/pocketpool/errs"
	"github.com/coachpo/pocketpool/internal/observability"
)

// TrimPolicy shrinks a pool that holds more items than its callers use.
//
// Between trims the pool records its low-water mark, the smallest occupancy
// seen after a take. Items below that mark sat unused for the whole interval,
// so each trim discards that many items while keeping at least Floor.
type TrimPolicy struct {
	// Interval between background trims. Zero disables RunTrimmer.
	Interval time.Duration
	// Floor is the occupancy a trim never goes below.
	Floor int
}

func (t TrimPolicy) validate() error {
	if t.Interval < 0 {
		return errs.Invalid(component, "trim.interval", "must not be negative")
	}
	if t.Floor < 0 {
		return errs.Invalid(component, "trim.floor", "must not be negative")
	}
	return nil
}

// Enabled reports whether background trimming is configured.
func (t TrimPolicy) Enabled() bool {
	return t.Interval > 0
}

type trimState struct {
	policy   TrimPolicy
	lowWater atomic.Int64
}

func (t *trimState) observe(count int) {
	c := int64(count)
	for {
		cur := t.lowWater.Load()
		if c >= cur || t.lowWater.CompareAndSwap(cur, c) {
			return
		}
	}
}

// Trim discards items that went unused since the previous trim and returns
// how many were removed.
func (p *Pool[T]) Trim() int {
	count := p.Count()
	surplus := int(min(p.trim.lowWater.Load(), math.MaxInt32))
	if limit := count - p.trim.policy.Floor; surplus > limit {
		surplus = limit
	}
	removed := 0
	if surplus > 0 {
		removed = p.remove(surplus)
	}
	p.trim.lowWater.Store(int64(p.Count()))
	if removed > 0 {
		p.stats.trimmed.Add(int64(removed))
		p.log().Debug("pool trimmed",
			observability.F("pool", p.name),
			observability.F("removed", removed),
			observability.F("count", p.Count()))
	}
	return removed
}

// TrimTo discards items until at most n remain and returns how many were
// removed.
func (p *Pool[T]) TrimTo(n int) int {
	if n < 0 {
		n = 0
	}
	excess := p.Count() - n
	if excess <= 0 {
		return 0
	}
	removed := p.remove(excess)
	p.stats.trimmed.Add(int64(removed))
	return removed
}

// RunTrimmer calls Trim every policy interval until ctx is done or the pool
// is disposed. It returns immediately when no interval is configured.
func (p *Pool[T]) RunTrimmer(ctx context.Context) error {
	if !p.trim.policy.Enabled() {
		return nil
	}
	ticker := time.NewTicker(p.trim.policy.Interval)
	defer ticker.Stop()
	// The first window opens now.
	p.trim.lowWater.Store(int64(p.Count()))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if p.Disposed() {
				return nil
			}
			p.Trim()
		}
	}
}
