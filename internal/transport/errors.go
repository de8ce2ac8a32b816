package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Error types reported by the adapters.
const (
	ErrTypeUnconfigured = "UNCONFIGURED_ERROR"
	ErrTypeConnection   = "CONNECTION_ERROR"
	ErrTypeTimeout      = "TIMEOUT_ERROR"
	ErrTypeStatus       = "STATUS_ERROR"
	ErrTypeRequest      = "REQUEST_ERROR"
	ErrTypeMalformed    = "MALFORMED_ERROR"
	ErrTypeProtocol     = "PROTOCOL_ERROR"
)

// Error is a structured transport failure. None of them are fatal to a call;
// the orchestrator treats every Error as a signal to try the next transport.
type Error struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Cause     error     `json:"cause,omitempty"`
	URL       string    `json:"url"`
	Transport string    `json:"transport"`
	Status    int       `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Retryable bool      `json:"retryable"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}

	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new structured transport error.
func NewError(errorType, message, rawURL, transport string, cause error) *Error {
	return &Error{
		Type:      errorType,
		Message:   message,
		Cause:     cause,
		URL:       rawURL,
		Transport: transport,
		Timestamp: time.Now(),
	}
}

// WithRetryable sets whether the error is retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable

	return e
}

// WithStatus records the HTTP status that caused the error.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status

	return e
}

// Convenience functions for creating common transport errors.

func NewUnconfiguredError(transport, message string) *Error {
	return NewError(ErrTypeUnconfigured, message, "", transport, nil)
}

func NewConnectionError(rawURL, transport string, cause error) *Error {
	return NewError(ErrTypeConnection, "connection failed", rawURL, transport, cause).WithRetryable(true)
}

func NewTimeoutError(rawURL, transport string, timeout time.Duration, cause error) *Error {
	message := "request timed out"
	if timeout > 0 {
		message = "request timed out after " + timeout.String()
	}

	return NewError(ErrTypeTimeout, message, rawURL, transport, cause).WithRetryable(true)
}

func NewStatusError(rawURL, transport string, status int, preview string) *Error {
	message := fmt.Sprintf("unexpected HTTP status %d", status)
	if preview != "" {
		message += " (" + preview + ")"
	}

	return NewError(ErrTypeStatus, message, rawURL, transport, nil).
		WithStatus(status).
		WithRetryable(status >= 500)
}

func NewRequestError(rawURL, transport, message string, cause error) *Error {
	return NewError(ErrTypeRequest, message, rawURL, transport, cause)
}

func NewMalformedError(rawURL, transport, message string, cause error) *Error {
	return NewError(ErrTypeMalformed, message, rawURL, transport, cause)
}

func NewProtocolError(rawURL, transport, message string, cause error) *Error {
	return NewError(ErrTypeProtocol, message, rawURL, transport, cause)
}

// classifyDoError maps an http.Client.Do failure onto a typed error.
func classifyDoError(ctx context.Context, rawURL, transport string, timeout time.Duration, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewTimeoutError(rawURL, transport, timeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTimeoutError(rawURL, transport, timeout, err)
	}

	return NewConnectionError(rawURL, transport, err)
}

// IsUnavailable reports whether err means the transport could not be used:
// nothing configured, connection refused, timeout or a non-2xx status.
func IsUnavailable(err error) bool {
	var te *Error
	if !errors.As(err, &te) {
		return false
	}

	switch te.Type {
	case ErrTypeUnconfigured, ErrTypeConnection, ErrTypeTimeout, ErrTypeStatus, ErrTypeRequest:
		return true
	default:
		return false
	}
}

// IsMalformed reports whether err means the transport answered with something
// that could not be decoded or was a protocol-level error reply.
func IsMalformed(err error) bool {
	var te *Error
	if !errors.As(err, &te) {
		return false
	}

	return te.Type == ErrTypeMalformed || te.Type == ErrTypeProtocol
}

// ErrorType returns the type of a transport error, or "" for other errors.
func ErrorType(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return te.Type
	}

	return ""
}
