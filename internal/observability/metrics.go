package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flurisk"

// Metrics holds the Prometheus counters, histograms, and gauges for the
// refresh loop, the upstream gate and the harmonization batch.
type Metrics struct {
	// Upstream client metrics.
	UpstreamRequests *prometheus.CounterVec   // labels: endpoint={version,dataset,geojson}, outcome={success,error,rate_limited,empty,malformed}
	UpstreamDuration *prometheus.HistogramVec // labels: endpoint

	// Fetch gate metrics.
	GateOutcomes   *prometheus.CounterVec // labels: path={local,cache,cooldown,throttled,fetched,unchanged,failed}
	CooldownActive prometheus.Gauge
	RegionsScored  prometheus.Gauge

	// Normalization metrics.
	RecordsNormalized *prometheus.CounterVec // labels: kind={flu,vaccination}, outcome={kept,dropped}
	StageOutcomes     *prometheus.CounterVec // labels: stage, outcome={written,skipped,failed}

	// Refresh loop metrics.
	RefreshRunning     prometheus.Gauge
	RefreshDuration    prometheus.Histogram
	SnapshotsPublished prometheus.Counter
	DegradedSnapshot   prometheus.Gauge

	CentroidCache *prometheus.CounterVec // labels: result={memory,disk,fetched,error}
}

func newMetrics() *Metrics {
	return &Metrics{
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream HTTP requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"endpoint"}),
		GateOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_outcomes_total",
			Help:      "Regional intensity requests by the path that served them.",
		}, []string{"path"}),
		CooldownActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_cooldown_active",
			Help:      "1 while the upstream is in rate-limit cooldown, 0 otherwise.",
		}),
		RegionsScored: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "regions_scored",
			Help:      "Number of regions in the last committed intensity map.",
		}),
		RecordsNormalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_normalized_total",
			Help:      "Raw records by kind and normalization outcome.",
		}, []string{"kind", "outcome"}),
		StageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "etl_stage_outcomes_total",
			Help:      "Harmonization stages by outcome.",
		}, []string{"stage", "outcome"}),
		RefreshRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refresh_running",
			Help:      "1 when the refresh loop is active, 0 when shut down.",
		}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Duration of a complete risk map refresh.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		SnapshotsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_published_total",
			Help:      "Risk snapshots written to the broker.",
		}),
		DegradedSnapshot: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_degraded",
			Help:      "1 when the current risk map is the static fallback.",
		}),
		CentroidCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "centroid_loads_total",
			Help:      "Department centroid loads by source.",
		}, []string{"result"}),
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.GateOutcomes,
		m.CooldownActive,
		m.RegionsScored,
		m.RecordsNormalized,
		m.StageOutcomes,
		m.RefreshRunning,
		m.RefreshDuration,
		m.SnapshotsPublished,
		m.DegradedSnapshot,
		m.CentroidCache,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
