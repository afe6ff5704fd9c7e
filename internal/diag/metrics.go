package diag

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/onion/internal/pipeline"
)

const namespace = "onion"

// Metrics exports lifecycle counts to Prometheus.
//
// Instruments:
//   - onion_pipeline_invocations_total: pipelines started
//   - onion_pipeline_in_flight: pipelines started and not yet ended
//   - onion_middleware_events_total{middleware, event}: event is
//     "start", "end" or "exception"
//   - onion_middleware_in_flight{middleware}: steps started and not yet
//     ended or failed
type Metrics[C any] struct {
	invocations prometheus.Counter
	inFlight    prometheus.Gauge
	events      *prometheus.CounterVec
	mwInFlight  *prometheus.GaugeVec
}

// NewMetrics creates the instruments and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics[C any](reg prometheus.Registerer) (*Metrics[C], error) {
	m := &Metrics[C]{
		invocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "invocations_total",
			Help:      "Number of pipeline invocations started.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "in_flight",
			Help:      "Number of pipeline invocations currently running.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "middleware",
			Name:      "events_total",
			Help:      "Middleware lifecycle events by middleware and event.",
		}, []string{"middleware", "event"}),
		mwInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "middleware",
			Name:      "in_flight",
			Help:      "Middleware steps currently running.",
		}, []string{"middleware"}),
	}

	if reg != nil {
		for _, c := range m.Collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// Collectors returns every instrument, for callers registering manually.
func (m *Metrics[C]) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.invocations, m.inFlight, m.events, m.mwInFlight}
}

func (m *Metrics[C]) OnPipelineStart(C) {
	m.invocations.Inc()
	m.inFlight.Inc()
}

func (m *Metrics[C]) OnPipelineEnd(C) {
	m.inFlight.Dec()
}

func (m *Metrics[C]) OnMiddlewareStart(id pipeline.Identity, _ C) {
	m.events.WithLabelValues(id.String(), "start").Inc()
	m.mwInFlight.WithLabelValues(id.String()).Inc()
}

func (m *Metrics[C]) OnMiddlewareEnd(id pipeline.Identity, _ C) {
	m.events.WithLabelValues(id.String(), "end").Inc()
	m.mwInFlight.WithLabelValues(id.String()).Dec()
}

func (m *Metrics[C]) OnMiddlewareException(id pipeline.Identity, _ error, _ C) {
	m.events.WithLabelValues(id.String(), "exception").Inc()
	m.mwInFlight.WithLabelValues(id.String()).Dec()
}
