package server

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors of a Server. A nil *Metrics
// disables collection.
type Metrics struct {
	connections     prometheus.Counter
	active          prometheus.Gauge
	limitRejections prometheus.Counter
	replies         *prometheus.CounterVec
	tlsUpgrades     *prometheus.CounterVec
	reverseLookups  *prometheus.HistogramVec
	sessionDuration prometheus.Histogram
}

// NewMetrics registers the server collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connections: f.NewCounter(prometheus.CounterOpts{
			Name: "wren_smtpserver_connections_total",
			Help: "Number of accepted connections.",
		}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Name: "wren_smtpserver_connections_active",
			Help: "Number of connections currently being served.",
		}),
		limitRejections: f.NewCounter(prometheus.CounterOpts{
			Name: "wren_smtpserver_connections_limited_total",
			Help: "Number of connections refused because MaxConnections was reached.",
		}),
		replies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wren_smtpserver_replies_total",
			Help: "Number of replies sent, by reply code.",
		}, []string{"code"}),
		tlsUpgrades: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wren_smtpserver_starttls_total",
			Help: "Number of STARTTLS handshakes, by result.",
		}, []string{"result"}),
		reverseLookups: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wren_smtpserver_reverse_lookup_duration_seconds",
			Help:    "Duration of forward-confirmed reverse DNS lookups, by result.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5},
		}, []string{"result"}),
		sessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "wren_smtpserver_session_duration_seconds",
			Help:    "Duration of SMTP sessions.",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
		}),
	}
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
	m.active.Inc()
}

func (m *Metrics) connClosed(start time.Time) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.sessionDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) connLimited() {
	if m != nil {
		m.limitRejections.Inc()
	}
}

func (m *Metrics) reply(code int) {
	if m != nil {
		m.replies.WithLabelValues(strconv.Itoa(code)).Inc()
	}
}

func (m *Metrics) tlsUpgrade(result string) {
	if m != nil {
		m.tlsUpgrades.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) reverseLookup(result string, start time.Time) {
	if m != nil {
		m.reverseLookups.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}
}
