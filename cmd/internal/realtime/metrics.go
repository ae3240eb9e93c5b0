package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks live connections and delivery outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	connections prometheus.Gauge
	online      prometheus.Gauge
	auth        *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	presence    *prometheus.CounterVec
}

// NewMetrics registers the realtime collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "localchat",
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Authenticated live connections.",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "localchat",
			Subsystem: "realtime",
			Name:      "online_users",
			Help:      "Identities with at least one live connection.",
		}),
		auth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "localchat",
			Subsystem: "realtime",
			Name:      "auth_total",
			Help:      "Connection authentication attempts by result.",
		}, []string{"result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "localchat",
			Subsystem: "realtime",
			Name:      "deliveries_total",
			Help:      "Envelope deliveries by type and result.",
		}, []string{"type", "result"}),
		presence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "localchat",
			Subsystem: "realtime",
			Name:      "presence_transitions_total",
			Help:      "Presence transitions by state.",
		}, []string{"state"}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.online, m.auth, m.deliveries, m.presence)
	}
	return m
}

func (m *Metrics) setGauges(connections, online int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(connections))
	m.online.Set(float64(online))
}

func (m *Metrics) authResult(result string) {
	if m == nil {
		return
	}
	m.auth.WithLabelValues(result).Inc()
}

func (m *Metrics) delivered(typ string, ok, dropped int) {
	if m == nil {
		return
	}
	if ok > 0 {
		m.deliveries.WithLabelValues(typ, "ok").Add(float64(ok))
	}
	if dropped > 0 {
		m.deliveries.WithLabelValues(typ, "dropped").Add(float64(dropped))
	}
}

func (m *Metrics) presenceTransition(online bool) {
	if m == nil {
		return
	}
	state := "offline"
	if online {
		state = "online"
	}
	m.presence.WithLabelValues(state).Inc()
}
