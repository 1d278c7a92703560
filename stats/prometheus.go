package stats

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// A Source can report its current counters.
type Source interface {
	Stats() Snapshot
}

// Collector exposes the counters of a Source as Prometheus metrics. Values
// are read from the Source at scrape time, so the collector never keeps its
// own copy of the counters.
type Collector struct {
	source Source

	hits          *prometheus.Desc
	misses        *prometheus.Desc
	invalidations *prometheus.Desc
	flushes       *prometheus.Desc
	hitRate       *prometheus.Desc
}

// NewCollector creates a Collector for source. Every metric carries the
// given constant labels, which lets several engines share one registry.
func NewCollector(source Source, constLabels prometheus.Labels) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName("coherence", "", name),
			help, nil, constLabels)
	}

	return &Collector{
		source:        source,
		hits:          desc("read_hits_total", "Reads served by the requesting agent's own line."),
		misses:        desc("read_misses_total", "Reads that required a fill from memory or a peer."),
		invalidations: desc("invalidations_total", "Peer lines invalidated by writes."),
		flushes:       desc("flushes_total", "Lines written back to the backing store."),
		hitRate:       desc("read_hit_ratio", "Hits over reads since the last reset."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.invalidations
	ch <- c.flushes
	ch <- c.hitRate
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()

	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(c.invalidations, prometheus.CounterValue, float64(s.Invalidations))
	ch <- prometheus.MustNewConstMetric(c.flushes, prometheus.CounterValue, float64(s.Flushes))
	ch <- prometheus.MustNewConstMetric(c.hitRate, prometheus.GaugeValue, s.HitRate())
}

// Register adds the collector to reg. Registering a collector that is already
// registered is not an error.
func Register(reg prometheus.Registerer, c *Collector) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*Collector); ok {
				return existing, nil
			}

			return nil, fmt.Errorf("coherence collector already registered with incompatible type")
		}

		return nil, err
	}

	return c, nil
}
