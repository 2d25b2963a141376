// Package metrics holds the Prometheus collectors shared by the session,
// transfer and transport layers. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wallet"

// Refresh outcomes.
const (
	RefreshRotated  = "rotated"
	RefreshInvalid  = "invalid"
	RefreshReused   = "reused"
	RefreshExpired  = "expired"
	RefreshTampered = "tampered"
)

// Transfer outcomes.
const (
	TransferCompleted = "completed"
	TransferReplayed  = "replayed"
	TransferPending   = "pending"
	TransferConflict  = "conflict"
	TransferFailed    = "failed"
)

type Metrics struct {
	refreshes   *prometheus.CounterVec
	transfers   *prometheus.CounterVec
	rpcAttempts prometheus.Counter
	rpcRetries  *prometheus.CounterVec
	rpcExhausts prometheus.Counter
}

// New creates the collectors and registers them on reg. Passing nil skips
// registration, which is what tests use.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "refresh_total",
			Help:      "Refresh attempts by outcome.",
		}, []string{"outcome"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "requests_total",
			Help:      "Transfer requests by outcome.",
		}, []string{"outcome"}),
		rpcAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "attempts_total",
			Help:      "Outbound RPC attempts, including retries.",
		}),
		rpcRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "retries_total",
			Help:      "Outbound RPC retries by reason.",
		}, []string{"reason"}),
		rpcExhausts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "exhausted_total",
			Help:      "Outbound RPC calls that ran out of attempts.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.refreshes, m.transfers, m.rpcAttempts, m.rpcRetries, m.rpcExhausts)
	}
	return m
}

func (m *Metrics) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTransfer(outcome string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RPCAttempt() {
	if m == nil {
		return
	}
	m.rpcAttempts.Inc()
}

// RPCRetry counts a retry; reason is a status code or "network".
func (m *Metrics) RPCRetry(reason string) {
	if m == nil {
		return
	}
	m.rpcRetries.WithLabelValues(reason).Inc()
}

func (m *Metrics) RPCExhausted() {
	if m == nil {
		return
	}
	m.rpcExhausts.Inc()
}
