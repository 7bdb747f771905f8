package pool

import "sync/atomic"

type counters struct {
	hits       atomic.Int64
	pocketHits atomic.Int64
	misses     atomic.Int64
	generated  atomic.Int64
	received   atomic.Int64
	discarded  atomic.Int64
	trimmed    atomic.Int64
}

// Snapshot is a point-in-time view of pool occupancy and traffic.
type Snapshot struct {
	Name       string `json:"name"`
	ID         string `json:"id"`
	Capacity   int    `json:"capacity"`
	Count      int    `json:"count"`
	Hits       int64  `json:"hits"`
	PocketHits int64  `json:"pocket_hits"`
	Misses     int64  `json:"misses"`
	Generated  int64  `json:"generated"`
	Received   int64  `json:"received"`
	Discarded  int64  `json:"discarded"`
	Trimmed    int64  `json:"trimmed"`
	Disposed   bool   `json:"disposed"`
}

// HitRatio is the share of takes served from the pool rather than the factory.
func (s Snapshot) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// StatsSource is implemented by anything that can report a Snapshot.
type StatsSource interface {
	Stats() Snapshot
}

// Stats returns the current counters. Fields are read independently, so a
// snapshot taken under load is not a consistent cut.
func (p *Pool[T]) Stats() Snapshot {
	return Snapshot{
		Name:       p.name,
		ID:         p.id,
		Capacity:   p.Capacity(),
		Count:      p.Count(),
		Hits:       p.stats.hits.Load(),
		PocketHits: p.stats.pocketHits.Load(),
		Misses:     p.stats.misses.Load(),
		Generated:  p.stats.generated.Load(),
		Received:   p.stats.received.Load(),
		Discarded:  p.stats.discarded.Load(),
		Trimmed:    p.stats.trimmed.Load(),
		Disposed:   p.Disposed(),
	}
}
