package proxy

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes, used as a metric label and in the request log line.
const (
	OutcomeProxied     = "proxied"
	OutcomeInjected    = "injected"
	OutcomeRedirect    = "redirect"
	OutcomeUpstreamErr = "upstream_status"
	OutcomeFetchError  = "fetch_error"
	OutcomeBadHost     = "bad_host"
	OutcomeWWW         = "www_redirect"
	OutcomePreflight   = "preflight"
	OutcomeDebug       = "debug"
	OutcomeScript      = "script"
	OutcomeRateLimited = "rate_limited"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InjectedTotal   prometheus.Counter
	InFlight        prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewMetrics registers the gateway collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tabgate_gateway_requests_total",
				Help: "Total number of gateway requests by outcome and status code",
			},
			[]string{"outcome", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tabgate_gateway_request_duration_seconds",
				Help:    "Gateway request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"outcome"},
		),
		InjectedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tabgate_gateway_injections_total",
				Help: "HTML responses streamed through the control script injector",
			},
		),
		InFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tabgate_gateway_in_flight_requests",
				Help: "Requests currently being served",
			},
		),
		gatherer: reg,
	}
	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.InjectedTotal, m.InFlight)
	return m
}

func (m *Metrics) observe(outcome string, status int, d time.Duration) {
	m.RequestsTotal.WithLabelValues(outcome, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// Handler exposes the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
