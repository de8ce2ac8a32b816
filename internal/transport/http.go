// Package transport implements the HTTP adapters used to reach analysis
// backends directly and through the shared bridge.
//
// Adapters never panic and never retry: each call is one bounded attempt.
// Failures come back as *Error so callers can tell "unavailable" and
// "malformed" apart from a delivered but empty Reply.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/actual-software/re-bridge/internal/constants"
	"github.com/actual-software/re-bridge/pkg/common/logging"
	"github.com/actual-software/re-bridge/pkg/common/metrics"
)

// Transport names used in logs, metrics and errors.
const (
	TransportDirect = "direct"
	TransportBridge = "bridge"
	TransportREST   = "rest"
	TransportStream = "sse"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 32 << 20

// Reply is a response that reached the client.
type Reply struct {
	Status  int
	Payload interface{}
	Raw     []byte
}

// Empty reports whether the reply was delivered without usable data.
func (r Reply) Empty() bool {
	return IsEmptyValue(r.Payload)
}

// Delivered reports whether the remote side accepted the request.
func (r Reply) Delivered() bool {
	return r.Status >= http.StatusOK && r.Status < http.StatusMultipleChoices
}

// IsEmptyValue reports whether a decoded JSON value carries no data.
func IsEmptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	default:
		return false
	}
}

// AttemptObserver receives one observation per HTTP attempt.
type AttemptObserver interface {
	ObserveAttempt(transport, outcome string, elapsed time.Duration)
}

// HTTPOptions configures an HTTP adapter.
type HTTPOptions struct {
	Client        *http.Client
	UserAgent     string
	PreviewLength int
	Observer      AttemptObserver
}

// HTTP performs single JSON/text requests with a per-call timeout.
type HTTP struct {
	name          string
	client        *http.Client
	userAgent     string
	previewLength int
	observer      AttemptObserver
	logger        *zap.Logger
}

// NewHTTP creates an HTTP adapter. name labels its attempts ("direct", "rest", ...).
func NewHTTP(name string, opts HTTPOptions, logger *zap.Logger) *HTTP {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}

	previewLength := opts.PreviewLength
	if previewLength <= 0 {
		previewLength = constants.BodyPreviewLength
	}

	return &HTTP{
		name:          name,
		client:        client,
		userAgent:     opts.UserAgent,
		previewLength: previewLength,
		observer:      opts.Observer,
		logger:        logger.With(zap.String(logging.FieldTransport, name)),
	}
}

// Name returns the transport label of the adapter.
func (h *HTTP) Name() string {
	return h.name
}

// GetJSON issues a GET and decodes the body as JSON. An empty body is a
// delivered, empty reply.
func (h *HTTP) GetJSON(ctx context.Context, rawURL string, query url.Values, timeout time.Duration) (Reply, error) {
	target := withQuery(rawURL, query)
	start := time.Now()

	reply, err := h.Do(ctx, http.MethodGet, target, nil, timeout)
	if err == nil {
		reply, err = h.decodeJSON(target, reply)
	}

	h.observe(start, reply, err)

	return reply, err
}

// GetText issues a GET and returns the body as a string payload.
func (h *HTTP) GetText(ctx context.Context, rawURL string, query url.Values, timeout time.Duration) (Reply, error) {
	target := withQuery(rawURL, query)
	start := time.Now()

	reply, err := h.Do(ctx, http.MethodGet, target, nil, timeout)
	if err == nil {
		reply.Payload = string(reply.Raw)
	}

	h.observe(start, reply, err)

	return reply, err
}

// PostJSON posts body as JSON and decodes the response as JSON.
func (h *HTTP) PostJSON(ctx context.Context, rawURL string, body interface{}, timeout time.Duration) (Reply, error) {
	start := time.Now()

	reply, err := h.Do(ctx, http.MethodPost, rawURL, body, timeout)
	if err == nil {
		reply, err = h.decodeJSON(rawURL, reply)
	}

	h.observe(start, reply, err)

	return reply, err
}

// Do performs one request and returns the raw reply. Non-2xx statuses are
// returned as a STATUS_ERROR alongside the reply.
func (h *HTTP) Do(ctx context.Context, method, rawURL string, body interface{}, timeout time.Duration) (Reply, error) {
	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return Reply{}, NewRequestError(rawURL, h.name, "failed to encode request body", err)
		}

		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return Reply{}, NewRequestError(rawURL, h.name, "failed to create request", err)
	}

	req.Header.Set("Accept", "application/json, text/plain, */*")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	start := time.Now()

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Debug("HTTP attempt failed",
			zap.String("http_method", method),
			zap.String(logging.FieldURL, rawURL),
			zap.Duration(logging.FieldDuration, time.Since(start)),
			zap.Error(err))

		return Reply{}, classifyDoError(ctx, rawURL, h.name, timeout, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Reply{Status: resp.StatusCode}, classifyDoError(ctx, rawURL, h.name, timeout, err)
	}

	preview := Preview(raw, h.previewLength)

	h.logger.Debug("HTTP attempt",
		zap.String("http_method", method),
		zap.String(logging.FieldURL, rawURL),
		zap.Int(logging.FieldStatusCode, resp.StatusCode),
		zap.String(logging.FieldBodyPreview, preview),
		zap.Duration(logging.FieldDuration, time.Since(start)))

	reply := Reply{Status: resp.StatusCode, Raw: raw}
	if !reply.Delivered() {
		return reply, NewStatusError(rawURL, h.name, resp.StatusCode, preview)
	}

	return reply, nil
}

func (h *HTTP) decodeJSON(rawURL string, reply Reply) (Reply, error) {
	if len(bytes.TrimSpace(reply.Raw)) == 0 {
		return reply, nil
	}

	var payload interface{}
	if err := json.Unmarshal(reply.Raw, &payload); err != nil {
		return reply, NewMalformedError(rawURL, h.name, "response is not valid JSON", err)
	}

	reply.Payload = payload

	return reply, nil
}

func (h *HTTP) observe(start time.Time, reply Reply, err error) {
	if h.observer == nil {
		return
	}

	h.observer.ObserveAttempt(h.name, Outcome(reply, err), time.Since(start))
}

// Outcome classifies an attempt for metrics.
func Outcome(reply Reply, err error) string {
	switch {
	case err == nil && reply.Empty():
		return metrics.OutcomeEmpty
	case err == nil:
		return metrics.OutcomeSuccess
	case ErrorType(err) == ErrTypeTimeout:
		return metrics.OutcomeTimeout
	case IsMalformed(err):
		return metrics.OutcomeMalformed
	default:
		return metrics.OutcomeUnavailable
	}
}

// Preview returns a single-line prefix of a body for logs, at most n bytes
// and cut on a rune boundary.
func Preview(raw []byte, n int) string {
	s := strings.ReplaceAll(string(raw), "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")

	if n > 0 && len(s) > n {
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}

		return s[:n]
	}

	return s
}

// JoinURL joins a base URL and a relative path with exactly one slash.
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func withQuery(rawURL string, query url.Values) string {
	if len(query) == 0 {
		return rawURL
	}

	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}

	return rawURL + sep + query.Encode()
}
