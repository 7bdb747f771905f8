package pool

import "github.com/prometheus/client_golang/prometheus"

// Collector exports pool snapshots to Prometheus.
type Collector struct {
	snapshots SnapshotFunc
	descs     []*prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector builds a collector over snapshots. Register it with a
// prometheus.Registerer.
func NewCollector(snapshots SnapshotFunc) *Collector {
	c := &Collector{snapshots: snapshots}
	c.descs = make([]*prometheus.Desc, len(statMetrics))
	for i, m := range statMetrics {
		c.descs[i] = prometheus.NewDesc(m.name, m.help, []string{"pool", "pool_id"}, nil)
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.snapshots == nil {
		return
	}
	for _, snap := range c.snapshots() {
		for i, m := range statMetrics {
			kind := prometheus.GaugeValue
			if m.counter {
				kind = prometheus.CounterValue
			}
			ch <- prometheus.MustNewConstMetric(c.descs[i], kind, float64(m.value(snap)), snap.Name, snap.ID)
		}
	}
}
