package node

import (
	"github.com/180945/btcrelay/consensus"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "btcrelay"

type metrics struct {
	accepted   prometheus.Counter
	rejected   *prometheus.CounterVec
	reorgs     prometheus.Counter
	reorgDepth prometheus.Histogram
	bestHeight prometheus.Gauge
	verified   *prometheus.CounterVec
}

func newMetrics() *metrics {
	return &metrics{
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "headers_accepted_total",
			Help:      "Headers accepted onto the main chain or a fork.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "headers_rejected_total",
			Help:      "Header submissions rejected, by rule code.",
		}, []string{"code"}),
		reorgs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reorgs_total",
			Help:      "Fork promotions.",
		}),
		reorgDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "reorg_depth",
			Help:      "Number of main-chain heights replaced per reorg.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}),
		bestHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "best_height",
			Help:      "Height of the best relayed header.",
		}),
		verified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tx_verifications_total",
			Help:      "Transaction inclusion checks, by outcome.",
		}, []string{"result"}),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.accepted, m.rejected, m.reorgs, m.reorgDepth, m.bestHeight, m.verified,
	}
}

func (m *metrics) register(reg prometheus.Registerer) error {
	if reg == nil {
		return nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// rejectionLabel maps an error to its rule code label; anything else is an
// internal failure.
func rejectionLabel(err error) string {
	if code, ok := consensus.CodeOf(err); ok {
		return string(code)
	}
	return "internal"
}

func (m *metrics) reject(err error) {
	m.rejected.WithLabelValues(rejectionLabel(err)).Inc()
}
