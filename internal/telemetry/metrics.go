package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "oxibridge"

// Metrics holds the node's Prometheus counters on a private registry,
// so tests can create isolated instances without collector collisions.
type Metrics struct {
	registry *prometheus.Registry

	PacketsRelayed     prometheus.Counter
	PublishFailures    prometheus.Counter
	PublishRetries     prometheus.Counter
	FramesRejected     prometheus.Counter
	SamplesDropped     prometheus.Counter
	ConnectionAttempts prometheus.Counter
	Reconnections      prometheus.Counter
	ReleaseDirectives  prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		PacketsRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packets_relayed_total",
			Help:      "Vital-sign packets accepted by the ingest endpoint.",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "publish_failures_total",
			Help:      "Publish attempts that exhausted all retries.",
		}),
		PublishRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "publish_retries_total",
			Help:      "Individual publish attempts that failed and were retried.",
		}),
		FramesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_rejected_total",
			Help:      "Notification frames that failed validation.",
		}),
		SamplesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "samples_dropped_total",
			Help:      "Decoded samples discarded before reaching the ingest endpoint.",
		}),
		ConnectionAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connection_attempts_total",
			Help:      "BLE connection attempts.",
		}),
		Reconnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnections_total",
			Help:      "Links torn down and later re-established.",
		}),
		ReleaseDirectives: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "release_directives_total",
			Help:      "Release directives received from the coordination endpoint.",
		}),
	}

	registry.MustRegister(
		m.PacketsRelayed,
		m.PublishFailures,
		m.PublishRetries,
		m.FramesRejected,
		m.SamplesDropped,
		m.ConnectionAttempts,
		m.Reconnections,
		m.ReleaseDirectives,
	)
	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
