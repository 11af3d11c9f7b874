package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "l2cap"

type metrics struct {
	signalTx   *prometheus.CounterVec
	signalRx   *prometheus.CounterVec
	violations prometheus.Counter
	wouldBlock prometheus.Counter
	pduTx      prometheus.Counter
	pduRx      prometheus.Counter
	channels   prometheus.Gauge
}

func newMetrics() *metrics {
	return &metrics{
		signalTx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "signaling_sent_total",
			Help:      "Signaling commands sent, by command.",
		}, []string{"command"}),
		signalRx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "signaling_received_total",
			Help:      "Signaling commands received, by command.",
		}, []string{"command"}),
		violations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "protocol_violations_total",
			Help:      "Peer PDUs dropped for referencing unknown identifiers or channels.",
		}),
		wouldBlock: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "send_would_block_total",
			Help:      "Sends denied by the credit gate.",
		}),
		pduTx: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "data_pdus_sent_total",
			Help:      "Data PDUs handed to the link.",
		}),
		pduRx: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "data_pdus_received_total",
			Help:      "Data PDUs delivered to the upper layer.",
		}),
		channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "channels",
			Help:      "Live channel records.",
		}),
	}
}

func (m *metrics) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.signalTx, m.signalRx, m.violations, m.wouldBlock, m.pduTx, m.pduRx, m.channels} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
