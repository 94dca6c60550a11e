package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus holds the collectors registered on one registry.
type Prometheus struct {
	registry *prometheus.Registry

	webhookEvents   *prometheus.CounterVec
	webhookDuration *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// NewPrometheus creates and registers the collectors under namespace.
func NewPrometheus(registry *prometheus.Registry, namespace string) *Prometheus {
	p := &Prometheus{
		registry: registry,
		webhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Webhook deliveries by event type and outcome",
			},
			[]string{"event_type", "outcome"},
		),
		webhookDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "webhook_duration_seconds",
				Help:      "Webhook handling time in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"event_type"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		p.webhookEvents,
		p.webhookDuration,
		p.httpRequests,
		p.httpDuration,
	)
	return p
}

func (p *Prometheus) RecordWebhook(_ context.Context, eventType string, outcome WebhookOutcome, d time.Duration) {
	p.webhookEvents.WithLabelValues(eventType, string(outcome)).Inc()
	p.webhookDuration.WithLabelValues(eventType).Observe(d.Seconds())
}

func (p *Prometheus) RecordRequest(_ context.Context, method, route string, status int, d time.Duration) {
	p.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	p.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

var _ Recorder = (*Prometheus)(nil)
