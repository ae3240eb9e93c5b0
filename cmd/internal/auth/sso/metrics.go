package sso

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts handshake outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	begins    prometheus.Counter
	completes *prometheus.CounterVec
	exchange  *prometheus.HistogramVec
}

// NewMetrics registers the handshake collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		begins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "localchat",
			Subsystem: "sso",
			Name:      "begin_total",
			Help:      "Login attempts started.",
		}),
		completes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "localchat",
			Subsystem: "sso",
			Name:      "complete_total",
			Help:      "Login completions by outcome.",
		}, []string{"outcome"}),
		exchange: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "localchat",
			Subsystem: "sso",
			Name:      "provider_exchange_seconds",
			Help:      "Identity provider exchange latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.begins, m.completes, m.exchange)
	}
	return m
}

func (m *Metrics) begin() {
	if m == nil {
		return
	}
	m.begins.Inc()
}

func (m *Metrics) complete(outcome string) {
	if m == nil {
		return
	}
	m.completes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeExchange(start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.exchange.WithLabelValues(result).Observe(time.Since(start).Seconds())
}
