package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "road_hazard"

// Metrics holds the Prometheus counters, histograms, and gauges for the submission pipeline.
type Metrics struct {
	InboundMessages  *prometheus.CounterVec // labels: channel={web,chat,api}
	ReplayedMessages prometheus.Counter

	GateDecisions *prometheus.CounterVec // labels: outcome={accepted,rejected,unavailable,passthrough}

	// Report lifecycle metrics.
	Submissions       *prometheus.CounterVec // labels: outcome={created,confirmed}
	DedupScanDuration prometheus.Histogram
	Deletions         *prometheus.CounterVec // labels: outcome={deleted,review}
	StatusChanges     prometheus.Counter

	// Conversation metrics.
	Finalizations     *prometheus.CounterVec // labels: result={submitted,failed}
	SessionsAbandoned prometheus.Counter

	EventPublishFailures prometheus.Counter

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: method={reverse}, outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec   // labels: method={reverse}, result={hit,miss}
	GeocodeAPIDuration *prometheus.HistogramVec // labels: method={reverse}
	GeocodeEnabled     prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		InboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound submissions and chat messages by channel.",
		}, []string{"channel"}),
		ReplayedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replayed_messages_total",
			Help:      "Re-delivered chat messages answered from the idempotency history.",
		}),
		GateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Image validation gate decisions by outcome.",
		}, []string{"outcome"}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Finalized submissions by dedup outcome.",
		}, []string{"outcome"}),
		DedupScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dedup_scan_duration_seconds",
			Help:      "Duration of a nearby-report scan.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		Deletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletions_total",
			Help:      "Self-service deletion requests by outcome.",
		}, []string{"outcome"}),
		StatusChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_changes_total",
			Help:      "Administrative report status changes.",
		}),
		Finalizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_finalizations_total",
			Help:      "Chat drafts handed to the submission pipeline by result.",
		}, []string{"result"}),
		SessionsAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_abandoned_total",
			Help:      "Idle chat drafts cleared by the reaper.",
		}),
		EventPublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Report events that could not be published.",
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by method and outcome.",
		}, []string{"method", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by method and result.",
		}, []string{"method", "result"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when geocoding enrichment is enabled, 0 otherwise.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.InboundMessages,
		m.ReplayedMessages,
		m.GateDecisions,
		m.Submissions,
		m.DedupScanDuration,
		m.Deletions,
		m.StatusChanges,
		m.Finalizations,
		m.SessionsAbandoned,
		m.EventPublishFailures,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
	}
}
