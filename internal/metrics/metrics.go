// Package metrics provides the Prometheus metrics recorded by the bridge client.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	names "github.com/actual-software/re-bridge/pkg/common/metrics"
)

// Registry holds all Prometheus metrics. A nil *Registry is valid and records nothing.
type Registry struct {
	// Call metrics
	CallsTotal      *prometheus.CounterVec
	AttemptsTotal   *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec
	CorrelationWait *prometheus.HistogramVec
	CircuitState    *prometheus.GaugeVec
	CacheLookups    *prometheus.CounterVec

	// Event stream metrics
	EventsReceived   prometheus.Counter
	EventsDropped    prometheus.Counter
	EventsEvicted    prometheus.Counter
	StreamReconnects prometheus.Counter
}

// NewRegistry creates the metrics and registers them with reg. A nil reg
// creates unregistered metrics, which is convenient in tests.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	callsTotal, attemptsTotal, attemptDuration, correlationWait, circuitState, cacheLookups := createCallMetrics(factory)
	received, dropped, evicted, reconnects := createEventMetrics(factory)

	return &Registry{
		CallsTotal:       callsTotal,
		AttemptsTotal:    attemptsTotal,
		AttemptDuration:  attemptDuration,
		CorrelationWait:  correlationWait,
		CircuitState:     circuitState,
		CacheLookups:     cacheLookups,
		EventsReceived:   received,
		EventsDropped:    dropped,
		EventsEvicted:    evicted,
		StreamReconnects: reconnects,
	}
}

// createCallMetrics creates call orchestration metrics.
func createCallMetrics(factory promauto.Factory) (
	*prometheus.CounterVec,
	*prometheus.CounterVec,
	*prometheus.HistogramVec,
	*prometheus.HistogramVec,
	*prometheus.GaugeVec,
	*prometheus.CounterVec,
) {
	callsTotal := factory.NewCounterVec(prometheus.CounterOpts{
		Name: names.ClientMetric(names.MetricCallsTotal),
		Help: "Total number of orchestrated calls by operation and the source that answered",
	}, []string{names.LabelOperation, names.LabelSource})
	attemptsTotal := factory.NewCounterVec(prometheus.CounterOpts{
		Name: names.ClientMetric(names.MetricAttemptsTotal),
		Help: "Total number of transport attempts by transport and outcome",
	}, []string{names.LabelTransport, names.LabelOutcome})
	attemptDuration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    names.ClientMetric(names.MetricAttemptDurationSeconds),
		Help:    "Transport attempt duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{names.LabelTransport})
	correlationWait := factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    names.ClientMetric(names.MetricCorrelationWaitSeconds),
		Help:    "Time spent waiting for a correlated event",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 20},
	}, []string{names.LabelMode, names.LabelOutcome})
	circuitState := factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: names.ClientMetric(names.MetricCircuitState),
		Help: "Circuit breaker state per stage (0=closed, 1=open, 2=half-open)",
	}, []string{names.LabelStage})
	cacheLookups := factory.NewCounterVec(prometheus.CounterOpts{
		Name: names.ClientMetric(names.MetricCacheLookupsTotal),
		Help: "Decompile cache lookups by result",
	}, []string{names.LabelResult})

	return callsTotal, attemptsTotal, attemptDuration, correlationWait, circuitState, cacheLookups
}

// createEventMetrics creates event stream metrics.
// nolint:ireturn // Prometheus interfaces
func createEventMetrics(factory promauto.Factory) (
	prometheus.Counter,
	prometheus.Counter,
	prometheus.Counter,
	prometheus.Counter,
) {
	received := factory.NewCounter(prometheus.CounterOpts{
		Name: names.EventsMetric(names.MetricEventsTotal),
		Help: "Total number of events parsed from the stream",
	})
	dropped := factory.NewCounter(prometheus.CounterOpts{
		Name: names.EventsMetric(names.MetricEventsDroppedTotal),
		Help: "Total number of malformed stream blocks dropped",
	})
	evicted := factory.NewCounter(prometheus.CounterOpts{
		Name: names.EventsMetric(names.MetricEventsEvictedTotal),
		Help: "Total number of events evicted from the ring buffer",
	})
	reconnects := factory.NewCounter(prometheus.CounterOpts{
		Name: names.EventsMetric(names.MetricStreamReconnects),
		Help: "Total number of stream reconnects",
	})

	return received, dropped, evicted, reconnects
}

// ObserveAttempt records one transport attempt.
func (r *Registry) ObserveAttempt(transport, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}

	r.AttemptsTotal.WithLabelValues(transport, outcome).Inc()
	r.AttemptDuration.WithLabelValues(transport).Observe(elapsed.Seconds())
}

// RecordCall records the source that answered an orchestrated call.
func (r *Registry) RecordCall(operation, source string) {
	if r == nil {
		return
	}

	r.CallsTotal.WithLabelValues(operation, source).Inc()
}

// ObserveCorrelation records one correlation wait.
func (r *Registry) ObserveCorrelation(mode string, matched bool, elapsed time.Duration) {
	if r == nil {
		return
	}

	outcome := names.OutcomeTimeout
	if matched {
		outcome = names.OutcomeSuccess
	}

	r.CorrelationWait.WithLabelValues(mode, outcome).Observe(elapsed.Seconds())
}

// SetCircuitState records the state of a stage breaker.
func (r *Registry) SetCircuitState(stage string, state int) {
	if r == nil {
		return
	}

	r.CircuitState.WithLabelValues(stage).Set(float64(state))
}

// RecordCacheLookup records a decompile cache hit or miss.
func (r *Registry) RecordCacheLookup(hit bool) {
	if r == nil {
		return
	}

	result := names.ResultMiss
	if hit {
		result = names.ResultHit
	}

	r.CacheLookups.WithLabelValues(result).Inc()
}

// EventReceived counts a parsed event.
func (r *Registry) EventReceived() {
	if r == nil {
		return
	}

	r.EventsReceived.Inc()
}

// EventDropped counts a malformed block.
func (r *Registry) EventDropped() {
	if r == nil {
		return
	}

	r.EventsDropped.Inc()
}

// EventEvicted counts an event pushed out of the ring buffer.
func (r *Registry) EventEvicted() {
	if r == nil {
		return
	}

	r.EventsEvicted.Inc()
}

// StreamReconnected counts a stream reconnect.
func (r *Registry) StreamReconnected() {
	if r == nil {
		return
	}

	r.StreamReconnects.Inc()
}
