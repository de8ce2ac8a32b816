// Package metrics defines standardized metric names, labels and helpers for re-bridge components.
package metrics

// StandardMetrics defines common metric names and labels.
const (
	// Namespace for all re-bridge metrics.
	Namespace = "re_bridge"

	// Subsystems.
	SubsystemClient = "client"
	SubsystemEvents = "events"

	// Metric names.
	MetricCallsTotal             = "calls_total"
	MetricAttemptsTotal          = "attempts_total"
	MetricAttemptDurationSeconds = "attempt_duration_seconds"
	MetricCorrelationWaitSeconds = "correlation_wait_seconds"
	MetricEventsTotal            = "received_total"
	MetricEventsDroppedTotal     = "dropped_total"
	MetricEventsEvictedTotal     = "evicted_total"
	MetricStreamReconnects       = "stream_reconnects_total"
	MetricCacheLookupsTotal      = "cache_lookups_total"
	MetricCircuitState           = "circuit_state"

	// Labels.
	LabelOperation = "operation"
	LabelSource    = "source"
	LabelTransport = "transport"
	LabelOutcome   = "outcome"
	LabelMode      = "mode"
	LabelStage     = "stage"
	LabelResult    = "result"

	// Outcome values.
	OutcomeSuccess     = "success"
	OutcomeEmpty       = "empty"
	OutcomeUnavailable = "unavailable"
	OutcomeMalformed   = "malformed"
	OutcomeTimeout     = "timeout"
	OutcomeSkipped     = "skipped"

	// Cache lookup results.
	ResultHit  = "hit"
	ResultMiss = "miss"
)

// MetricName generates a fully qualified metric name.
func MetricName(subsystem, metric string) string {
	return Namespace + "_" + subsystem + "_" + metric
}

// ClientMetric generates a client-specific metric name.
func ClientMetric(metric string) string {
	return MetricName(SubsystemClient, metric)
}

// EventsMetric generates an event-stream metric name.
func EventsMetric(metric string) string {
	return MetricName(SubsystemEvents, metric)
}
