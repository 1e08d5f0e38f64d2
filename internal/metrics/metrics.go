package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors shared by the bot components.
type Metrics struct {
	registry *prometheus.Registry

	OrderAPIRequests *prometheus.CounterVec
	OrderAPILatency  *prometheus.HistogramVec
	GeminiRequests   *prometheus.CounterVec
	GeminiLatency    *prometheus.HistogramVec
	IncomingMessages *prometheus.CounterVec
	Intents          *prometheus.CounterVec
	Errors           *prometheus.CounterVec
}

// New registers all collectors on a dedicated registry under namespace.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		OrderAPIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_api_requests_total",
			Help:      "Requests sent to the manufacturing order API.",
		}, []string{"endpoint", "status"}),
		OrderAPILatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_api_request_duration_seconds",
			Help:      "Latency of manufacturing order API requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "status"}),
		GeminiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gemini_requests_total",
			Help:      "Text analysis calls to Gemini by result.",
		}, []string{"result"}),
		GeminiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gemini_request_duration_seconds",
			Help:      "Latency of Gemini requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		IncomingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incoming_messages_total",
			Help:      "Operator messages received per channel.",
		}, []string{"channel"}),
		Intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_total",
			Help:      "Classified intents.",
		}, []string{"intent"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by component.",
		}, []string{"component"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.OrderAPIRequests,
		m.OrderAPILatency,
		m.GeminiRequests,
		m.GeminiLatency,
		m.IncomingMessages,
		m.Intents,
		m.Errors,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
