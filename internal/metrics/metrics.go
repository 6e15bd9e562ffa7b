package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // EditOps counts plan edits by outcome (applied, noop, error)
    EditOps = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "plan_edit_ops_total", Help: "Plan edit operations by outcome."},
        []string{"outcome"},
    )
    // EditDuration records end-to-end edit latency in seconds
    EditDuration = prometheus.NewHistogram(
        prometheus.HistogramOpts{Name: "plan_edit_duration_seconds", Help: "Plan edit duration in seconds.", Buckets: prometheus.DefBuckets},
    )
    // ScoreDuration records calculator evaluation latency by calculator name
    ScoreDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "score_duration_seconds", Help: "Score evaluation duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"calculator"},
    )

    // WebhookDeliveries counts webhook delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
    // WebhookLatency tracks webhook delivery latencies in milliseconds
    WebhookLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"event_type", "status"},
    )
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
    regOnce.Do(func() {
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(EditOps)
        Registry.MustRegister(EditDuration)
        Registry.MustRegister(ScoreDuration)
        Registry.MustRegister(WebhookDeliveries)
        Registry.MustRegister(WebhookLatency)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
