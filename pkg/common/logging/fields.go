// Package logging defines standardized logging field names and service identifiers for re-bridge components.
package logging

// StandardFields defines common logging field names.
const (
	// Service identification.
	FieldService   = "service"
	FieldComponent = "component"
	FieldVersion   = "version"

	// Transport.
	FieldTransport   = "transport"
	FieldURL         = "url"
	FieldBaseURL     = "base_url"
	FieldStatusCode  = "status_code"
	FieldBodyPreview = "body_preview"
	FieldDuration    = "duration_ms"
	FieldTimeout     = "timeout_ms"

	// Calls and correlation.
	FieldOperation = "operation"
	FieldTarget    = "target"
	FieldResolved  = "resolved_id"
	FieldMethod    = "method"
	FieldRequestID = "request_id"
	FieldSource    = "source"
	FieldHint      = "hint"

	// Event stream.
	FieldEventSeq   = "event_seq"
	FieldBufferSize = "buffer_size"
	FieldReconnects = "reconnects"

	// Error handling.
	FieldError     = "error"
	FieldErrorType = "error_type"
	FieldRetryable = "retryable"
	FieldAttempt   = "attempt"
)

// ServiceNames for standard service identification.
const (
	ServiceCLI    = "re-bridge"
	ServiceClient = "re-bridge-client"
)
