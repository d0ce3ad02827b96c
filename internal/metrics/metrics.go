// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Route label values for RequestsTotal.
const (
	RouteConnect = "connect"
	RouteForward = "forward"
	RouteReject  = "reject"
)

// Direction label values for TunnelBytes.
const (
	DirectionClientToTarget = "client_to_target"
	DirectionTargetToClient = "target_to_client"
)

// Default histogram buckets for origin latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric collectors for the proxy.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	TunnelDials   *prometheus.CounterVec
	TunnelsActive prometheus.Gauge
	TunnelBytes   *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keepalive_proxy_requests_total",
			Help: "Total proxy requests by route and response status code.",
		}, []string{"route", "status_code"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keepalive_proxy_requests_in_flight",
			Help: "Number of proxy requests currently being dispatched.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keepalive_proxy_upstream_request_duration_seconds",
			Help:    "Time until origin response headers arrive, in seconds.",
			Buckets: defaultBuckets,
		}, []string{"result"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keepalive_proxy_upstream_responses_total",
			Help: "Total origin responses by status code.",
		}, []string{"status_code"}),

		TunnelDials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keepalive_proxy_tunnel_dials_total",
			Help: "CONNECT target dial attempts by result.",
		}, []string{"result"}),

		TunnelsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keepalive_proxy_tunnels_active",
			Help: "Number of CONNECT tunnels currently relaying.",
		}),

		TunnelBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keepalive_proxy_tunnel_bytes_total",
			Help: "Bytes relayed through CONNECT tunnels by direction.",
		}, []string{"direction"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.TunnelDials,
		m.TunnelsActive,
		m.TunnelBytes,
	)

	return m
}

// ObserveRequest counts one dispatched request.
func (m *Metrics) ObserveRequest(route string, statusCode int) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
}

// TrackInFlight increments the in-flight gauge and returns a func that
// decrements it.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.RequestsInFlight.Inc()
	return m.RequestsInFlight.Dec
}

// ObserveUpstream records one origin round trip. A statusCode of zero means
// the round trip failed before response headers arrived.
func (m *Metrics) ObserveUpstream(statusCode int, d time.Duration) {
	if m == nil {
		return
	}
	if statusCode == 0 {
		m.UpstreamDuration.WithLabelValues("error").Observe(d.Seconds())
		return
	}
	m.UpstreamDuration.WithLabelValues("ok").Observe(d.Seconds())
	m.UpstreamResponses.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// ObserveTunnelDial counts one CONNECT dial attempt.
func (m *Metrics) ObserveTunnelDial(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.TunnelDials.WithLabelValues(result).Inc()
}

// TunnelOpened marks a tunnel as relaying and returns a func that records its
// byte counts and marks it closed.
func (m *Metrics) TunnelOpened() func(clientToTarget, targetToClient int64) {
	if m == nil {
		return func(int64, int64) {}
	}
	m.TunnelsActive.Inc()
	return func(clientToTarget, targetToClient int64) {
		m.TunnelsActive.Dec()
		m.TunnelBytes.WithLabelValues(DirectionClientToTarget).Add(float64(clientToTarget))
		m.TunnelBytes.WithLabelValues(DirectionTargetToClient).Add(float64(targetToClient))
	}
}
