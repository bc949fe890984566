package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aistudio2api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aistudio2api_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 120},
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aistudio2api_http_inflight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	RelayConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aistudio2api_relay_connected",
			Help: "Whether a relay connection is currently live (0 or 1)",
		},
	)

	RelayEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aistudio2api_relay_events_total",
			Help: "Relay events routed by the multiplexer",
		},
		[]string{"event_type"},
	)

	RotationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aistudio2api_credential_rotations_total",
			Help: "Credential rotation outcomes",
		},
		[]string{"kind"},
	)

	RequestRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aistudio2api_request_retries_total",
			Help: "Pseudo-stream retries against the relay",
		},
	)
)
