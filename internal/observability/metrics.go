// Package observability holds the Prometheus meters and shutdown ordering
// shared by the long-running commands.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus registry and the pairing/transfer meters.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry          *prometheus.Registry
	ConnectionsTotal  *prometheus.CounterVec
	PayloadsTotal     *prometheus.CounterVec
	BytesTransferred  *prometheus.CounterVec
	PostProcessErrors prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	connections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "peerlink_connections_total",
		Help: "Connection attempts by result.",
	}, []string{"result"})

	payloads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "peerlink_payloads_total",
		Help: "Payloads by direction, kind and outcome.",
	}, []string{"direction", "kind", "outcome"})

	transferred := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "peerlink_bytes_transferred_total",
		Help: "Payload bytes moved to or from the peer.",
	}, []string{"direction"})

	postProcess := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "peerlink_post_process_errors_total",
		Help: "Received files that could not be stored.",
	})

	reg.MustRegister(connections, payloads, transferred, postProcess)

	return &Metrics{
		Registry:          reg,
		ConnectionsTotal:  connections,
		PayloadsTotal:     payloads,
		BytesTransferred:  transferred,
		PostProcessErrors: postProcess,
	}
}

func (m *Metrics) Connection(result string) {
	if m == nil {
		return
	}
	m.ConnectionsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Payload(direction, kind, outcome string) {
	if m == nil {
		return
	}
	m.PayloadsTotal.WithLabelValues(direction, kind, outcome).Inc()
}

func (m *Metrics) Bytes(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesTransferred.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) PostProcessFailed() {
	if m == nil {
		return
	}
	m.PostProcessErrors.Inc()
}
