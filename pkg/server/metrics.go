package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace for all sidecar metrics.
const metricsNamespace = "sidecar"

// metrics holds the Prometheus instruments for one server instance. Each
// server carries its own registry so multiple instances (and tests) never
// collide on registration.
type metrics struct {
	registry *prometheus.Registry

	activeClients    prometheus.Gauge
	connectionsTotal prometheus.Counter

	framesReceived  prometheus.Counter
	framesDropped   prometheus.Counter
	framesBroadcast prometheus.Counter

	bytesReceived prometheus.Counter
	bytesSent     prometheus.Counter

	protocolErrors prometheus.Counter
	readErrors     prometheus.Counter
	writeErrors    prometheus.Counter

	dispatchDuration *prometheus.HistogramVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &metrics{
		registry: registry,

		activeClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_clients",
			Help:      "Number of currently connected clients.",
		}),
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_total",
			Help:      "Total accepted client connections.",
		}),
		framesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_received_total",
			Help:      "Total frame announcements received from clients.",
		}),
		framesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_dropped_total",
			Help:      "Total frames evicted from session ring buffers.",
		}),
		framesBroadcast: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_broadcast_total",
			Help:      "Total frames broadcast to clients.",
		}),
		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_received_total",
			Help:      "Total frame payload bytes received.",
		}),
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_sent_total",
			Help:      "Total bytes written to clients.",
		}),
		protocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "protocol_errors_total",
			Help:      "Total malformed control messages.",
		}),
		readErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "read_errors_total",
			Help:      "Total WebSocket read failures.",
		}),
		writeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "write_errors_total",
			Help:      "Total WebSocket write failures.",
		}),
		dispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Control message dispatch latency by message type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
	}
}
