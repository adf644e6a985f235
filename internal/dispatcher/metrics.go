package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors the Dispatcher updates on every
// request. A nil *Metrics is valid and turns every method into a no-op, so
// tests can construct a Dispatcher without a registry.
type Metrics struct {
	requestsTotal *prometheus.CounterVec
	queuesGauge   prometheus.Gauge
}

// NewMetrics registers the emulator's collectors against reg and returns the
// handle the Dispatcher uses to update them.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sqsmemu",
			Name:      "requests_total",
			Help:      "Count of dispatched SQS actions by action name and outcome.",
		}, []string{"action", "outcome"}),
		queuesGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sqsmemu",
			Name:      "queues",
			Help:      "Current number of queues known to the registry.",
		}),
	}
}

func (m *Metrics) observe(action, outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) setQueueCount(n int) {
	if m == nil {
		return
	}
	m.queuesGauge.Set(float64(n))
}
