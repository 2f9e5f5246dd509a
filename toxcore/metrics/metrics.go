// Package metrics provides per-node Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "toxcore"

// Metrics holds one node's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	PacketsIn    *prometheus.CounterVec
	PacketsOut   *prometheus.CounterVec
	Dropped      *prometheus.CounterVec
	AuthFailures prometheus.Counter
	Sessions     *prometheus.GaugeVec
	DHTNodes     prometheus.Gauge
	Status       prometheus.Gauge
	Unreachable  prometheus.Gauge
	Iterations   prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PacketsIn: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Datagrams received, by packet type.",
		}, []string{"type"}),
		PacketsOut: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Datagrams sent, by packet type.",
		}, []string{"type"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_dropped_total",
			Help:      "Datagrams dropped, by reason.",
		}, []string{"reason"}),
		AuthFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Packets that failed authentication.",
		}),
		Sessions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Handshake sessions, by state.",
		}, []string{"state"}),
		DHTNodes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dht_nodes",
			Help:      "Entries in the DHT node table.",
		}),
		Status: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_status",
			Help:      "Connection status (0=none, 1=connecting, 2=udp, 3=relay).",
		}),
		Unreachable: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bootstrap_unreachable",
			Help:      "1 while the DHT table is empty and every bootstrap node is silent.",
		}),
		Iterations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Event loop iterations run.",
		}),
	}
}

func (m *Metrics) PacketIn(kind string) {
	if m != nil {
		m.PacketsIn.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) PacketOut(kind string) {
	if m != nil {
		m.PacketsOut.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Drop(reason string) {
	if m != nil {
		m.Dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) AuthFailure() {
	if m != nil {
		m.AuthFailures.Inc()
	}
}

// SetSessions replaces the per-state session counts.
func (m *Metrics) SetSessions(byState map[string]int) {
	if m == nil {
		return
	}
	m.Sessions.Reset()
	for state, n := range byState {
		m.Sessions.WithLabelValues(state).Set(float64(n))
	}
}

func (m *Metrics) SetDHTNodes(n int) {
	if m != nil {
		m.DHTNodes.Set(float64(n))
	}
}

func (m *Metrics) SetStatus(code int) {
	if m != nil {
		m.Status.Set(float64(code))
	}
}

func (m *Metrics) SetUnreachable(v bool) {
	if m == nil {
		return
	}
	if v {
		m.Unreachable.Set(1)
	} else {
		m.Unreachable.Set(0)
	}
}

func (m *Metrics) Iteration() {
	if m != nil {
		m.Iterations.Inc()
	}
}
