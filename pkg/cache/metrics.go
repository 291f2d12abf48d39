package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the store's counters. Counters work unregistered, so a
// nil Registerer yields metrics that are counted but not exported.
type Metrics struct {
	Hits          prometheus.Counter
	Misses        prometheus.Counter
	Evictions     prometheus.Counter
	PersistErrors prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teamtrack_cache_hits_total",
			Help: "Fresh in-memory cache hits.",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teamtrack_cache_misses_total",
			Help: "Cache misses, including expired entries served as misses.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teamtrack_cache_evictions_total",
			Help: "Entries removed from memory by capacity, cleaner or invalidation.",
		}),
		PersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teamtrack_cache_persist_errors_total",
			Help: "Failed durable mirror writes.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Hits, m.Misses, m.Evictions, m.PersistErrors)
	}
	return m
}
