// Package promhooks exports cache events as Prometheus counters.
//
//	reg := prometheus.NewRegistry()
//	hooks := promhooks.New(reg, "svr2")
//	cache, _ := slicecache.New(slicecache.Options{..., Hooks: hooks})
package promhooks

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/unkn0wn-root/slicecache"
)

type Hooks struct {
	hits          *prometheus.CounterVec
	records       *prometheus.CounterVec
	misses        *prometheus.CounterVec
	storeFailures *prometheus.CounterVec
	armed         prometheus.Counter
	armedCycles   prometheus.Histogram
	cycles        *prometheus.CounterVec
}

var _ slicecache.Hooks = (*Hooks)(nil)

// New registers the collectors on reg under namespace. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer, namespace string) *Hooks {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	const sub = "slicecache"
	return &Hooks{
		hits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "slice_hits_total",
			Help: "Complete slice sets served from the store",
		}, []string{"module"}),
		records: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "records_served_total",
			Help: "Records returned from cache hits",
		}, []string{"module"}),
		misses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "slice_misses_total",
			Help: "Reads that fell through to the producer",
		}, []string{"module", "reason"}),
		storeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "store_failures_total",
			Help: "Failed pipelines by selector and operation",
		}, []string{"selector", "op"}),
		armed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "refresh_armed_total",
			Help: "Keep-warm chains started",
		}),
		armedCycles: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: sub,
			Name:    "refresh_cycle_budget",
			Help:    "Cycles granted to each armed keep-warm chain",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "refresh_cycles_total",
			Help: "Refresh cycles by outcome",
		}, []string{"outcome"}),
	}
}

// module extracts the module segment of <ns>:<module>:<suffix>.
func module(storageKey string) string {
	parts := strings.SplitN(storageKey, ":", 3)
	if len(parts) < 3 {
		return "unknown"
	}
	return parts[1]
}

func (h *Hooks) SliceHit(storageKey string, records int) {
	m := module(storageKey)
	h.hits.WithLabelValues(m).Inc()
	h.records.WithLabelValues(m).Add(float64(records))
}

func (h *Hooks) SliceMiss(storageKey, reason string) {
	h.misses.WithLabelValues(module(storageKey), reason).Inc()
}

func (h *Hooks) StoreFailed(selector, op string, _ error) {
	h.storeFailures.WithLabelValues(selector, op).Inc()
}

func (h *Hooks) RefreshArmed(_ string, cycles int64, _ time.Duration) {
	h.armed.Inc()
	h.armedCycles.Observe(float64(cycles))
}

func (h *Hooks) RefreshCycle(_ string, _ int64, outcome string) {
	h.cycles.WithLabelValues(outcome).Inc()
}
