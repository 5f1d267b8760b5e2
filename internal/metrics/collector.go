// Package metrics exposes the VFD layer's internal counters through
// Prometheus, adapted from the teacher's internal/metrics/collector.go.
// Every metric here mirrors a quantity named in spec §3's invariants or
// §8's laws, not a generic I/O metric — this package has nothing to say
// about byte counts or latency, since those belong to the back-ends'
// own (out-of-scope) observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the gauges and counters the vfd.Manager updates as it
// mutates the slot array, LRU ring, allocated-desc table, and temp-file
// set.
type Collector struct {
	registry *prometheus.Registry

	OpenSlots        prometheus.Gauge
	LRURingSize      prometheus.Gauge // nfile, invariant I1
	AllocatedDescs   prometheus.Gauge
	Evictions        prometheus.Counter
	ReopenFailures   prometheus.Counter
	TempFilesCreated prometheus.Counter
	TempFilesCleaned prometheus.Counter
	RemotePoolConns  *prometheus.GaugeVec // labeled by endpoint
}

// New constructs a Collector and registers its metrics against reg. If reg
// is nil, a private registry is created so importing this package never
// collides with the default global registry (the teacher's Collector binds
// to a fresh *prometheus.Registry per instance for the same reason).
func New(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: reg,
		OpenSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vfd",
			Name:      "open_slots",
			Help:      "Number of virtually-open VFD slots.",
		}),
		LRURingSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vfd",
			Name:      "lru_ring_size",
			Help:      "Number of local, physically-open slots currently in the LRU ring (nfile).",
		}),
		AllocatedDescs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vfd",
			Name:      "allocated_descs",
			Help:      "Number of entries in the allocated-desc table.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vfd",
			Name:      "evictions_total",
			Help:      "Total number of LRU evictions performed.",
		}),
		ReopenFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vfd",
			Name:      "reopen_failures_total",
			Help:      "Total number of failed re-opens after eviction.",
		}),
		TempFilesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vfd",
			Name:      "temp_files_created_total",
			Help:      "Total number of temp files created.",
		}),
		TempFilesCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vfd",
			Name:      "temp_files_cleaned_total",
			Help:      "Total number of temp files removed by cleanup paths.",
		}),
		RemotePoolConns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vfd",
			Name:      "remote_pool_connections",
			Help:      "Live remote connections held by the pool, labeled by endpoint.",
		}, []string{"endpoint"}),
	}

	reg.MustRegister(
		c.OpenSlots,
		c.LRURingSize,
		c.AllocatedDescs,
		c.Evictions,
		c.ReopenFailures,
		c.TempFilesCreated,
		c.TempFilesCleaned,
		c.RemotePoolConns,
	)

	return c
}

// Registry returns the underlying registry, e.g. to mount promhttp.Handler
// for an operator-facing /metrics endpoint outside this module.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
