// Package metrics exposes Prometheus collectors for the ledger.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "blockledger"

type Metrics struct {
	registry *prometheus.Registry

	blocksAccepted       prometheus.Counter
	blocksRejected       *prometheus.CounterVec
	rollbacks            prometheus.Counter
	blocksRolledBack     prometheus.Counter
	chainHeight          prometheus.Gauge
	addresses            prometheus.Gauge
	replayDuration       prometheus.Gauge
	replayedTransactions prometheus.Counter
}

// New registers the ledger collectors, along with Go and process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		blocksAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_accepted_total",
			Help:      "Blocks accepted into the ledger.",
		}),
		blocksRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_rejected_total",
			Help:      "Blocks rejected by validation, by reason.",
		}, []string{"reason"}),
		rollbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Rollbacks that removed at least one block.",
		}),
		blocksRolledBack: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_rolled_back_total",
			Help:      "Blocks removed by rollbacks.",
		}),
		chainHeight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_height",
			Help:      "Height of the last accepted block.",
		}),
		addresses: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_addresses",
			Help:      "Addresses tracked by the balance ledger.",
		}),
		replayDuration: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "replay_duration_seconds",
			Help:      "Duration of the last startup replay.",
		}),
		replayedTransactions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replayed_transactions_total",
			Help:      "Transactions read by startup replay.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) BlockAccepted(height uint64, addresses int) {
	if m == nil {
		return
	}
	m.blocksAccepted.Inc()
	m.chainHeight.Set(float64(height))
	m.addresses.Set(float64(addresses))
}

func (m *Metrics) BlockRejected(reason string) {
	if m == nil {
		return
	}
	m.blocksRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) RolledBack(blocks int, height uint64, addresses int) {
	if m == nil {
		return
	}
	m.rollbacks.Inc()
	m.blocksRolledBack.Add(float64(blocks))
	m.chainHeight.Set(float64(height))
	m.addresses.Set(float64(addresses))
}

func (m *Metrics) Replayed(d time.Duration, txs int, height uint64, addresses int) {
	if m == nil {
		return
	}
	m.replayDuration.Set(d.Seconds())
	m.replayedTransactions.Add(float64(txs))
	m.chainHeight.Set(float64(height))
	m.addresses.Set(float64(addresses))
}
