package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vg"

// Reload outcomes.
const (
	reloadCarried = "carried"
	reloadCold    = "cold"
	reloadFailed  = "failed"
)

// Metrics are the engine's prometheus collectors. Instances are shared by
// every session of an engine.
type Metrics struct {
	Ticks        prometheus.Counter
	TickDuration prometheus.Histogram
	Traps        prometheus.Counter
	Malformed    prometheus.Counter
	Calls        *prometheus.CounterVec
	Reloads      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Completed guest ticks.",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall-clock time spent inside guest ticks.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		Traps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traps_total",
			Help:      "Guest execution traps.",
		}),
		Malformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_calls_total",
			Help:      "Guest calls dropped because they could not be decoded.",
		}),
		Calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Guest calls dispatched, by kind.",
		}, []string{"kind"}),
		Reloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reloads_total",
			Help:      "Watch-mode reloads, by outcome.",
		}, []string{"outcome"}),
	}
}
