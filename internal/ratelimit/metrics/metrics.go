package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Checks           *prometheus.CounterVec
	FallbackChecks   prometheus.Counter
	CircuitOpenState prometheus.Gauge
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Checks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certisure_ratelimit_checks_total",
			Help: "Rate limit checks by endpoint class and outcome",
		}, []string{"class", "outcome"}), // outcome: "allowed", "rejected"
		FallbackChecks: factory.NewCounter(prometheus.CounterOpts{
			Name: "certisure_ratelimit_fallback_checks_total",
			Help: "Checks answered by the in-memory fallback while the primary store was unavailable",
		}),
		CircuitOpenState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "certisure_ratelimit_circuit_open",
			Help: "1 while the primary limiter store circuit is open",
		}),
	}
}

func (m *Metrics) IncrementCheck(class string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "rejected"
	if allowed {
		outcome = "allowed"
	}
	m.Checks.WithLabelValues(class, outcome).Inc()
}

func (m *Metrics) IncrementFallback() {
	if m != nil {
		m.FallbackChecks.Inc()
	}
}

func (m *Metrics) SetCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitOpenState.Set(1)
	} else {
		m.CircuitOpenState.Set(0)
	}
}
