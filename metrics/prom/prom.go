package prom

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/reapcache/cache"
)

// Adapter implements cache.Metrics and exports Prometheus counters/gauges.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
//
// Per-shard series are labeled with the decimal shard index. Keep the shard
// count reasonable when scraping, or aggregate with sum() on the way in.
type Adapter struct {
	hits     prometheus.Counter
	misses   prometheus.Counter
	evicts   *prometheus.CounterVec
	sweeps   *prometheus.CounterVec
	unlinked *prometheus.CounterVec
	removed  *prometheus.CounterVec
	sizeEnt  *prometheus.GaugeVec
	sizeMem  *prometheus.GaugeVec
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Cache hits",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "misses_total",
			Help:        "Cache misses",
			ConstLabels: constLabels,
		}),
		evicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "evictions_total",
				Help:        "Entries expelled by the reapers, by reason",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		sweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "sweeps_total",
				Help:        "Completed reaper passes per shard",
				ConstLabels: constLabels,
			},
			[]string{"shard"},
		),
		unlinked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "unlinked_nodes_total",
				Help:        "Access list nodes unlinked by sweeps per shard",
				ConstLabels: constLabels,
			},
			[]string{"shard"},
		),
		removed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "removed_entries_total",
				Help:        "Entries deleted from the store by sweeps per shard",
				ConstLabels: constLabels,
			},
			[]string{"shard"},
		),
		sizeEnt: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "size_entries",
				Help:        "Resident entries per shard",
				ConstLabels: constLabels,
			},
			[]string{"shard"},
		),
		sizeMem: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "size_memory",
				Help:        "Summed value weight per shard (Options.Size units)",
				ConstLabels: constLabels,
			},
			[]string{"shard"},
		),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.sweeps, a.unlinked, a.removed, a.sizeEnt, a.sizeMem)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// Evict increments the eviction counter with a reason label.
func (a *Adapter) Evict(r cache.EvictReason) {
	a.evicts.WithLabelValues(r.String()).Inc()
}

// Sweep records one finished reaper pass.
func (a *Adapter) Sweep(shard, unlinked, removed int) {
	l := strconv.Itoa(shard)
	a.sweeps.WithLabelValues(l).Inc()
	a.unlinked.WithLabelValues(l).Add(float64(unlinked))
	a.removed.WithLabelValues(l).Add(float64(removed))
}

// Size updates the per-shard occupancy gauges.
func (a *Adapter) Size(shard int, entries int, memory int64) {
	l := strconv.Itoa(shard)
	a.sizeEnt.WithLabelValues(l).Set(float64(entries))
	a.sizeMem.WithLabelValues(l).Set(float64(memory))
}

// Compile-time check: ensure Adapter implements cache.Metrics.
var _ cache.Metrics = (*Adapter)(nil)
