// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency. Downloads can run long,
// so the upper buckets reach further than a typical API would need.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	RequestsAborted  *prometheus.CounterVec

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	DownloadsTotal *prometheus.CounterVec
	BytesRelayed   prometheus.Counter
	RelayFailures  *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cecilefy_proxy_http_requests_total",
			Help: "Total inbound HTTP requests by matched route.",
		}, []string{"method", "status_code", "route"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cecilefy_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds, including the relayed body.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "route"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cecilefy_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		RequestsAborted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cecilefy_proxy_http_requests_aborted_total",
			Help: "Requests whose connection was dropped after the response headers were sent.",
		}, []string{"method", "route"}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cecilefy_proxy_upstream_request_duration_seconds",
			Help:    "Time until upstream response headers arrived, in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cecilefy_proxy_upstream_responses_total",
			Help: "Total upstream responses by method and status code.",
		}, []string{"method", "status_code"}),

		DownloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cecilefy_proxy_downloads_total",
			Help: "Completed downloads by resolved extension and the signal that produced it.",
		}, []string{"extension", "signal"}),

		BytesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cecilefy_proxy_relayed_bytes_total",
			Help: "Body bytes written to clients.",
		}),

		RelayFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cecilefy_proxy_relay_failures_total",
			Help: "Relay failures by the state they happened in.",
		}, []string{"state", "headers_sent"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.RequestsAborted,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.DownloadsTotal,
		m.BytesRelayed,
		m.RelayFailures,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// RouteLabel returns the route label for a matched route template such as
// "/proxy" or "/*". Templates come from registered routes, so the label set
// is bounded. Requests that matched nothing get "unmatched".
func RouteLabel(route string) string {
	if route == "" {
		return "unmatched"
	}
	return route
}

// knownExtensions lists the extension label values kept as-is. Extensions
// taken from upstream headers are arbitrary, so the rest collapse to "other".
var knownExtensions = map[string]bool{
	"mp4": true, "webm": true, "mp3": true, "ogg": true,
	"png": true, "jpg": true, "gif": true, "pdf": true, "bin": true,
}

// NormalizeExtension returns a bounded extension label. An empty extension
// means the download fell back to "bin".
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(ext)
	if ext == "" {
		return "bin"
	}
	if knownExtensions[ext] {
		return ext
	}
	return "other"
}
