package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rewrite outcome labels.
const (
	OutcomeDirect      = "direct"
	OutcomeCookie      = "cookie"
	OutcomePassthrough = "passthrough"
	OutcomeRejected    = "rejected"
)

// Registry holds the gateway's Prometheus metrics behind a private
// prometheus.Registry so tests can run side by side.
type Registry struct {
	reg *prometheus.Registry

	requests    *prometheus.CounterVec
	rewrites    *prometheus.CounterVec
	dialErrors  prometheus.Counter
	activeConns prometheus.Gauge
	duration    *prometheus.HistogramVec
}

func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "revproxy_requests_total",
		Help: "Requests handled, by method, rewrite outcome and response code.",
	}, []string{"method", "outcome", "code"})

	r.rewrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "revproxy_rewrites_total",
		Help: "Rewrite decisions, by outcome.",
	}, []string{"outcome"})

	r.dialErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "revproxy_upstream_dial_errors_total",
		Help: "Outbound connections that exhausted every candidate endpoint.",
	})

	r.activeConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "revproxy_active_requests",
		Help: "Requests currently in flight.",
	})

	r.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "revproxy_request_duration_seconds",
		Help:    "End-to-end request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	r.reg.MustRegister(
		r.requests,
		r.rewrites,
		r.dialErrors,
		r.activeConns,
		r.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) IncRequest(method, outcome string, code int) {
	r.requests.WithLabelValues(method, outcome, strconv.Itoa(code)).Inc()
}

func (r *Registry) IncRewrite(outcome string) {
	r.rewrites.WithLabelValues(outcome).Inc()
}

func (r *Registry) IncDialError() {
	r.dialErrors.Inc()
}

func (r *Registry) IncActive() {
	r.activeConns.Inc()
}

func (r *Registry) DecActive() {
	r.activeConns.Dec()
}

func (r *Registry) ObserveDuration(outcome string, d time.Duration) {
	r.duration.WithLabelValues(outcome).Observe(d.Seconds())
}
