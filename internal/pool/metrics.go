package pool

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SnapshotFunc yields the snapshots to export on each collection.
type SnapshotFunc func() []Snapshot

// Snapshots returns a SnapshotFunc over a fixed set of sources.
func Snapshots(sources ...StatsSource) SnapshotFunc {
	return func() []Snapshot {
		out := make([]Snapshot, 0, len(sources))
		for _, src := range sources {
			if src != nil {
				out = append(out, src.Stats())
			}
		}
		return out
	}
}

type statMetric struct {
	name    string
	help    string
	unit    string
	counter bool
	value   func(Snapshot) int64
}

var statMetrics = []statMetric{
	{name: "pocketpool_items", help: "Items currently stored (pocket + backend)", unit: "{item}",
		value: func(s Snapshot) int64 { return int64(s.Count) }},
	{name: "pocketpool_capacity", help: "Configured capacity; zero once disposed", unit: "{item}",
		value: func(s Snapshot) int64 { return int64(s.Capacity) }},
	{name: "pocketpool_hits_total", help: "Takes served from the pool", unit: "{take}", counter: true,
		value: func(s Snapshot) int64 { return s.Hits }},
	{name: "pocketpool_pocket_hits_total", help: "Takes served from the pocket", unit: "{take}", counter: true,
		value: func(s Snapshot) int64 { return s.PocketHits }},
	{name: "pocketpool_misses_total", help: "Takes that fell back to the factory", unit: "{take}", counter: true,
		value: func(s Snapshot) int64 { return s.Misses }},
	{name: "pocketpool_generated_total", help: "Items built through Generate", unit: "{item}", counter: true,
		value: func(s Snapshot) int64 { return s.Generated }},
	{name: "pocketpool_received_total", help: "Gives that stored the item", unit: "{give}", counter: true,
		value: func(s Snapshot) int64 { return s.Received }},
	{name: "pocketpool_discarded_total", help: "Items routed to the discarder", unit: "{item}", counter: true,
		value: func(s Snapshot) int64 { return s.Discarded }},
	{name: "pocketpool_trimmed_total", help: "Items removed by trimming", unit: "{item}", counter: true,
		value: func(s Snapshot) int64 { return s.Trimmed }},
}

// ObserveMetrics registers observable instruments that report every snapshot
// returned by snapshots, labelled with pool and pool_id. A nil meter uses the
// global provider. Unregister the returned registration to stop reporting.
func ObserveMetrics(meter metric.Meter, snapshots SnapshotFunc) (metric.Registration, error) {
	if snapshots == nil {
		return nil, fmt.Errorf("observe pool metrics: snapshot source required")
	}
	if meter == nil {
		meter = otel.Meter("github.com/coachpo/pocketpool/internal/pool")
	}

	instruments := make([]metric.Int64Observable, 0, len(statMetrics))
	for _, m := range statMetrics {
		var (
			inst metric.Int64Observable
			err  error
		)
		if m.counter {
			inst, err = meter.Int64ObservableCounter(m.name,
				metric.WithDescription(m.help),
				metric.WithUnit(m.unit))
		} else {
			inst, err = meter.Int64ObservableGauge(m.name,
				metric.WithDescription(m.help),
				metric.WithUnit(m.unit))
		}
		if err != nil {
			return nil, fmt.Errorf("create instrument %s: %w", m.name, err)
		}
		instruments = append(instruments, inst)
	}

	observables := make([]metric.Observable, len(instruments))
	for i, inst := range instruments {
		observables[i] = inst
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		for _, snap := range snapshots() {
			attrs := metric.WithAttributes(
				attribute.String("pool", snap.Name),
				attribute.String("pool_id", snap.ID),
			)
			for i, m := range statMetrics {
				observer.ObserveInt64(instruments[i], m.value(snap), attrs)
			}
		}
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register pool metrics callback: %w", err)
	}
	return reg, nil
}
