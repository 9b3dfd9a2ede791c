// Package metrics exposes Prometheus instruments for the proxy's HTTP surface
// and its upstream calls.
//
// Metrics:
//   - <ns>_http_requests_total: responses by route and status code
//   - <ns>_http_request_duration_seconds: handler latency by route
//   - <ns>_upstream_requests_total: upstream completions by model and outcome
//   - <ns>_upstream_duration_seconds: upstream latency by model
//   - <ns>_upstream_tokens_total: tokens reported by the provider
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"advisor-proxy/internal/domain"
)

const DefaultNamespace = "advisor"

// Collector owns the registry and every instrument registered on it.
type Collector struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	upstreamTokens   *prometheus.CounterVec
}

// New creates and registers the instruments. A nil registry gets a fresh one.
func New(namespace string, registry *prometheus.Registry) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP responses by route and status code",
			},
			[]string{"route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		upstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "requests_total",
				Help:      "Total number of upstream chat completions by model and outcome",
			},
			[]string{"model", "outcome"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "duration_seconds",
				Help:      "Duration of upstream chat completions in seconds",
				// LLM calls run from sub-second to well past a minute.
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"model"},
		),
		upstreamTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "tokens_total",
				Help:      "Total number of tokens reported by the upstream provider",
			},
			[]string{"model", "type"},
		),
	}

	registry.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.upstreamRequests,
		c.upstreamDuration,
		c.upstreamTokens,
	)
	return c
}

// ObserveRequest records one HTTP response.
func (c *Collector) ObserveRequest(route string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// ObserveCompletion records one upstream round-trip. Usage is only counted
// when the provider reported it.
func (c *Collector) ObserveCompletion(model, outcome string, duration time.Duration, usage domain.Usage) {
	if c == nil {
		return
	}
	c.upstreamRequests.WithLabelValues(model, outcome).Inc()
	c.upstreamDuration.WithLabelValues(model).Observe(duration.Seconds())
	if usage.PromptTokens > 0 {
		c.upstreamTokens.WithLabelValues(model, "prompt").Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		c.upstreamTokens.WithLabelValues(model, "completion").Add(float64(usage.CompletionTokens))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
