package clipboard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "clipboard"

// Metrics holds the Prometheus collectors for one Server.
type Metrics struct {
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	broadcastsTotal   *prometheus.CounterVec
	framesQueued      prometheus.Counter
	framesSkipped     prometheus.Counter
	framesSuperseded  prometheus.Counter
	messagesTotal     *prometheus.CounterVec
	fileOpsTotal      *prometheus.CounterVec
	uploadedBytes     prometheus.Counter
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_connections",
			Help:      "Number of open channel connections",
		}),
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_total",
			Help:      "Total number of channel connections accepted",
		}),
		broadcastsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "broadcasts_total",
			Help:      "Total number of events fanned out",
		}, []string{"event"}),
		framesQueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_queued_total",
			Help:      "Total number of frames queued to connections",
		}),
		framesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_skipped_total",
			Help:      "Total number of frames not queued because the connection was not open",
		}),
		framesSuperseded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_superseded_total",
			Help:      "Total number of queued frames discarded from a full queue in favour of a newer frame of the same kind",
		}),
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_total",
			Help:      "Total number of inbound channel messages by outcome",
		}, []string{"result"}),
		fileOpsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "file_operations_total",
			Help:      "Total number of file requests by operation and status code",
		}, []string{"op", "code"}),
		uploadedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "uploaded_bytes_total",
			Help:      "Total number of bytes accepted by uploads",
		}),
	}
}
