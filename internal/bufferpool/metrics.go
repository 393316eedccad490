package bufferpool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the pool's prometheus collectors.
type Metrics struct {
	Hits       prometheus.Counter
	Misses     prometheus.Counter
	Evictions  prometheus.Counter
	WriteBacks prometheus.Counter
	Reads      prometheus.Counter
	Allocs     prometheus.Counter
	Disposals  prometheus.Counter

	Occupied prometheus.Gauge
	Pinned   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{
			Namespace: "pagecache",
			Subsystem: "bufferpool",
			Name:      name,
			Help:      help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{
			Namespace: "pagecache",
			Subsystem: "bufferpool",
			Name:      name,
			Help:      help,
		})
	}

	return &Metrics{
		Hits:       counter("hits_total", "Fetches served from a resident frame."),
		Misses:     counter("misses_total", "Fetches that read the page from its file."),
		Evictions:  counter("evictions_total", "Frames reclaimed by the clock sweep."),
		WriteBacks: counter("write_backs_total", "Dirty frames written back to their file."),
		Reads:      counter("page_reads_total", "Pages read from files."),
		Allocs:     counter("allocations_total", "New pages allocated through the pool."),
		Disposals:  counter("disposals_total", "Pages deleted through the pool."),
		Occupied:   gauge("occupied_frames", "Frames holding a page."),
		Pinned:     gauge("pinned_frames", "Frames with at least one pin."),
	}
}
