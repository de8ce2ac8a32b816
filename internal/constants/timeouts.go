// Package constants defines the shared timeouts and limits of the bridge client.
//
// Values mirror what the analysis bridge tolerates in practice: short reads for
// roster and REST lookups, longer windows for decompilation, which can take
// several seconds on large functions.
package constants

import "time"

// HTTP request timeouts, one bounded attempt per transport.
const (
	// Direct GET against a backend's own HTTP plugin.
	DirectGetTimeout = 10 * time.Second

	// Direct POST; decompilation may be slower than a lookup.
	DirectPostTimeout = 15 * time.Second

	// JSON-RPC and generic POSTs to the bridge /message endpoint.
	BridgeRequestTimeout = 20 * time.Second

	// REST-style JSON lookups (rosters, function lists).
	RESTJSONTimeout = 8 * time.Second

	// REST-style text lookups (decompiled source).
	RESTTextTimeout = 15 * time.Second
)

// Correlation windows on the shared event stream.
const (
	// How long a JSON-RPC attempt waits for its id on the stream.
	CorrelationTimeout = 20 * time.Second

	// How long the heuristic method scan waits; shorter because it is a last resort.
	MethodScanTimeout = 8 * time.Second

	// Upper bound on a single condition-variable sleep inside a wait.
	WaitSlice = time.Second
)

// Event stream settings.
const (
	// Capacity of the event ring buffer.
	EventBufferCapacity = 500

	// Fixed delay between stream reconnect attempts.
	StreamReconnectDelay = 500 * time.Millisecond

	// Path of the SSE stream relative to the bridge base URL.
	StreamPath = "/sse"

	// Path of the JSON-RPC endpoint relative to the bridge base URL.
	MessagePath = "/message"

	// Grace period for the stream reader to exit on Stop.
	StreamStopTimeout = 5 * time.Second
)

// Logging and diagnostics.
const (
	// Number of response body characters included in attempt logs.
	BodyPreviewLength = 200

	// Lets a metrics server drain in-flight scrapes.
	MetricsShutdownTimeout = 5 * time.Second
)

// Result cache defaults.
const (
	DefaultCacheTTL = 30 * time.Minute
)

// Circuit breaker defaults.
const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 1
	DefaultOpenTimeout      = 30 * time.Second
)
