package benor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/usernamenenad/benor-quic/core"
)

// Metrics instruments a set of in-process nodes, labeled by node id.
// All methods are nil-safe so instrumentation stays optional.
type Metrics struct {
	RoundsAdvanced   *prometheus.CounterVec
	MessagesRecorded *prometheus.CounterVec
	Decided          *prometheus.GaugeVec
}

// NewMetrics registers the consensus metrics on reg (nil means the default
// registerer). Tests and multi-node processes pass a dedicated registry so
// metric names do not collide.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RoundsAdvanced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_advanced_total",
			Help:      "Number of consensus rounds a node has completed without deciding",
		}, []string{"node"}),
		MessagesRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_recorded_total",
			Help:      "Protocol messages recorded into the round store, by phase",
		}, []string{"node", "phase"}),
		Decided: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "decided",
			Help:      "1 once a node has fixed a final value, 0 before",
		}, []string{"node"}),
	}
}

func (m *Metrics) RecordRound(id core.NodeId) {
	if m == nil {
		return
	}
	m.RoundsAdvanced.WithLabelValues(id.String()).Inc()
}

func (m *Metrics) RecordMessage(id core.NodeId, phase core.Phase) {
	if m == nil {
		return
	}
	m.MessagesRecorded.WithLabelValues(id.String(), phase.String()).Inc()
}

func (m *Metrics) RecordDecision(id core.NodeId) {
	if m == nil {
		return
	}
	m.Decided.WithLabelValues(id.String()).Set(1)
}
