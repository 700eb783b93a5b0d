package broker

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the broker's Prometheus collectors.
type Metrics struct {
	peers    prometheus.Gauge
	relayed  *prometheus.CounterVec
	expired  prometheus.Counter
	dropped  prometheus.Counter
	rejected *prometheus.CounterVec
}

func mustRegister[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var e prometheus.AlreadyRegisteredError
		if errors.As(err, &e) {
			return e.ExistingCollector.(T)
		}
		panic(err)
	}
	return c
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		peers: mustRegister(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voicecall",
			Subsystem: "broker",
			Name:      "peers",
			Help:      "Registered identities",
		})),
		relayed: mustRegister(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicecall",
			Subsystem: "broker",
			Name:      "relayed_total",
			Help:      "Signal frames forwarded between peers",
		}, []string{"type"})),
		expired: mustRegister(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voicecall",
			Subsystem: "broker",
			Name:      "expired_total",
			Help:      "Signal frames addressed to unregistered identities",
		})),
		dropped: mustRegister(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voicecall",
			Subsystem: "broker",
			Name:      "dropped_total",
			Help:      "Signal frames dropped on backpressure",
		})),
		rejected: mustRegister(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicecall",
			Subsystem: "broker",
			Name:      "rejected_total",
			Help:      "Registrations refused",
		}, []string{"reason"})),
	}
}

func (m *Metrics) Rejected(reason string) {
	if m != nil {
		m.rejected.WithLabelValues(reason).Inc()
	}
}
