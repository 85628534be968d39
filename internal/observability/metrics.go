package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "report_sync"

// Metrics holds the Prometheus counters, histograms, and gauges for the report stores.
type Metrics struct {
	// Remote report service calls.
	RemoteRequests *prometheus.CounterVec   // labels: kind, op={list,create,confirm,resolve,update,delete}, outcome={success,error}
	RemoteDuration *prometheus.HistogramVec // labels: kind, op

	// Reconciliation.
	Reconciliations *prometheus.CounterVec // labels: kind, outcome={success,remote_error,persist_error}
	ReconciledItems *prometheus.CounterVec // labels: kind, result={replaced,appended,local_only}

	// Store state.
	StoreReady      *prometheus.GaugeVec   // labels: kind
	ReportsTracked  *prometheus.GaugeVec   // labels: kind
	UnsyncedReports *prometheus.GaugeVec   // labels: kind
	Mutations       *prometheus.CounterVec // labels: kind, action={created,confirmed,resolved,removed}, synced={true,false}
	Confirmations   *prometheus.CounterVec // labels: kind, outcome={accepted,already_today,not_found}

	// Change feed.
	EventsPublished *prometheus.CounterVec // labels: kind, outcome={success,error}

	// Background sync loop.
	SyncRunning prometheus.Gauge

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec // labels: outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec // labels: result={hit,miss}
	GeocodeAPIDuration prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.RemoteRequests,
		m.RemoteDuration,
		m.Reconciliations,
		m.ReconciledItems,
		m.StoreReady,
		m.ReportsTracked,
		m.UnsyncedReports,
		m.Mutations,
		m.Confirmations,
		m.EventsPublished,
		m.SyncRunning,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RemoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Remote report service requests by kind, operation and outcome.",
		}, []string{"kind", "op", "outcome"}),
		RemoteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_request_duration_seconds",
			Help:      "Remote report service request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind", "op"}),
		Reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Reconciliation passes by kind and outcome.",
		}, []string{"kind", "outcome"}),
		ReconciledItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciled_reports_total",
			Help:      "Reports touched by reconciliation, by result.",
		}, []string{"kind", "result"}),
		StoreReady: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_ready",
			Help:      "1 once the store for a kind has finished loading.",
		}, []string{"kind"}),
		ReportsTracked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reports",
			Help:      "Reports held in the local collection.",
		}, []string{"kind"}),
		UnsyncedReports: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unsynced_reports",
			Help:      "Local reports not known to exist remotely.",
		}, []string{"kind"}),
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Applied report mutations by action and whether the remote accepted them.",
		}, []string{"kind", "action", "synced"}),
		Confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmations_total",
			Help:      "Confirmation attempts by outcome.",
		}, []string{"kind", "outcome"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Change-feed events by outcome.",
		}, []string{"kind", "outcome"}),
		SyncRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_running",
			Help:      "1 when the periodic sync loop is active, 0 when shut down.",
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Reverse geocoding API requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Reverse geocoding cache lookups by result.",
		}, []string{"result"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}
