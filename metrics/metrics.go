// Package metrics exposes collector state on a dedicated prometheus
// registry, grounded on a production agent's own observability
// package: one registry, one set of descriptors per subsystem, served
// over a loopback-only HTTP listener with the Go/process collectors
// attached.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry holds every collector-specific metric plus the standard Go
// runtime/process collectors.
type Registry struct {
	reg *prometheus.Registry

	CostSpend      prometheus.Gauge
	CostUsageRatio prometheus.Gauge
	CostAlertLevel *prometheus.GaugeVec

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	CacheSize   prometheus.Gauge

	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec

	CollectionDuration prometheus.Histogram
	CollectionQuotes   prometheus.Counter
	CollectionFailed   prometheus.Counter

	uptimeStart time.Time
	uptime      prometheus.Gauge
}

// New builds and registers every descriptor on a fresh registry.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		CostSpend: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "collector", Subsystem: "cost", Name: "spend_dollars",
			Help: "Total monetary spend against the paid backend.",
		}),
		CostUsageRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "collector", Subsystem: "cost", Name: "usage_ratio",
			Help: "spend / budget, in [0,1].",
		}),
		CostAlertLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "collector", Subsystem: "cost", Name: "alert_level",
			Help: "1 if the named alert level is the current one, else 0.",
		}, []string{"level"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "collector", Subsystem: "cache", Name: "hits_total",
			Help: "Cache lookups served without a backend call.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "collector", Subsystem: "cache", Name: "misses_total",
			Help: "Cache lookups that required a backend call.",
		}),
		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "collector", Subsystem: "cache", Name: "entries",
			Help: "Total entries currently in the cache store.",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "collector", Subsystem: "breaker", Name: "state",
			Help: "Current breaker state: 0=CLOSED, 1=OPEN, 2=HALF_OPEN.",
		}, []string{"backend"}),
		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collector", Subsystem: "breaker", Name: "transitions_total",
			Help: "Lifetime state transitions per backend breaker.",
		}, []string{"backend"}),
		CollectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "collector", Subsystem: "scheduler", Name: "collection_duration_seconds",
			Help:    "Wall-clock duration of each collection tick.",
			Buckets: prometheus.DefBuckets,
		}),
		CollectionQuotes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "collector", Subsystem: "scheduler", Name: "quotes_total",
			Help: "Quotes successfully collected across all ticks.",
		}),
		CollectionFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "collector", Subsystem: "scheduler", Name: "unavailable_total",
			Help: "Per-symbol outcomes that produced no quote.",
		}),
		uptimeStart: time.Now(),
		uptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "collector", Name: "uptime_seconds",
			Help: "Seconds since process start.",
		}),
	}

	reg.MustRegister(
		r.CostSpend, r.CostUsageRatio, r.CostAlertLevel,
		r.CacheHits, r.CacheMisses, r.CacheSize,
		r.BreakerState, r.BreakerTransitions,
		r.CollectionDuration, r.CollectionQuotes, r.CollectionFailed,
		r.uptime,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return r
}

// Handler returns the /metrics HTTP handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// RunUptimeLoop updates the uptime gauge every interval until ctx is
// canceled. Intended to run as a background goroutine.
func (r *Registry) RunUptimeLoop(ctx context.Context, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.uptime.Set(time.Since(r.uptimeStart).Seconds())
		}
	}
}
