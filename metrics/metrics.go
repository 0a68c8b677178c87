// Package metrics defines the Prometheus instrumentation of the
// server. All collectors live in a private registry exposed over the
// HTTP handler, so tests can create disposable instances without
// colliding on the global default registry.
package metrics

import (
	"net/http"
	"reflect"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Label values of the family label.
const (
	Family4 = "4"
	Family6 = "6"
)

// Label values of the allocation outcome label.
const (
	OutcomeSuccess   = "success"
	OutcomeExhausted = "exhausted"
	OutcomeError     = "error"
)

// Label values of the configuration fetch result label.
const (
	FetchSuccess = "success"
	FetchError   = "error"
)

// Metrics of the allocation engine and the lease reclamation.
type EngineMetrics struct {
	// Lease allocations by family and outcome.
	Allocations *prometheus.CounterVec
	// Allocation candidates lost to a concurrent writer.
	AllocationConflicts prometheus.Counter
	// Successful lease renewals.
	Renewals prometheus.Counter
	// Leases put into the declined state.
	DeclinedLeases prometheus.Counter
	// Expired leases transitioned to the reclaimed state.
	ReclaimedLeases prometheus.Counter
	// Duration of the reclamation cycles.
	ReclaimCycleDuration prometheus.Histogram
	// Active leases by family, maintained by the engine and the
	// reclaimer.
	ActiveLeases *prometheus.GaugeVec
}

// Metrics of the configuration backend fetcher.
type FetcherMetrics struct {
	// Fetch cycles by result.
	ConfigFetches *prometheus.CounterVec
	// Committed configuration snapshots.
	SnapshotCommits prometheus.Counter
	// Configured pool capacity by family: addresses plus delegated
	// prefixes, recomputed on every snapshot commit. Large IPv6 pools
	// lose precision in the float64 value.
	PoolCapacity *prometheus.GaugeVec
}

// The set of the server metrics with the registry they live in.
type Metrics struct {
	Registry *prometheus.Registry

	Engine  *EngineMetrics
	Fetcher *FetcherMetrics
}

// Creates the metrics registered in a fresh private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	namespace := "tern"

	return &Metrics{
		Registry: registry,
		Engine: &EngineMetrics{
			Allocations: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "allocations_total",
				Help:      "Lease allocations by family and outcome",
			}, []string{"family", "outcome"}),
			AllocationConflicts: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "allocation_conflicts_total",
				Help:      "Allocation candidates lost to a concurrent writer",
			}),
			Renewals: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "renewals_total",
				Help:      "Successful lease renewals",
			}),
			DeclinedLeases: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "declined_leases_total",
				Help:      "Leases put into the declined state",
			}),
			ReclaimedLeases: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reclaimed_leases_total",
				Help:      "Expired leases transitioned to the reclaimed state",
			}),
			ReclaimCycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reclaim_cycle_duration_seconds",
				Help:      "Duration of the lease reclamation cycles",
				Buckets:   prometheus.DefBuckets,
			}),
			ActiveLeases: factory.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_leases",
				Help:      "Active leases by family",
			}, []string{"family"}),
		},
		Fetcher: &FetcherMetrics{
			ConfigFetches: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_fetches_total",
				Help:      "Configuration backend fetch cycles by result",
			}, []string{"result"}),
			SnapshotCommits: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshot_commits_total",
				Help:      "Committed configuration snapshots",
			}),
			PoolCapacity: factory.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_capacity",
				Help:      "Configured address and delegated prefix capacity by family",
			}, []string{"family"}),
		},
	}
}

// Creates the standard Prometheus HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
		ErrorLog: logrus.StandardLogger(),
	})
}

// Unregisters all metrics from the registry.
func (m *Metrics) UnregisterAll() {
	for _, group := range []any{*m.Engine, *m.Fetcher} {
		v := reflect.ValueOf(group)
		for i := 0; i < v.NumField(); i++ {
			fieldObj := v.Field(i)
			if !fieldObj.CanInterface() {
				continue
			}
			collector, ok := fieldObj.Interface().(prometheus.Collector)
			if !ok {
				continue
			}
			m.Registry.Unregister(collector)
		}
	}
}
