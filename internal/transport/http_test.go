package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/actual-software/re-bridge/pkg/common/metrics"
)

const backendURL = "http://backend.test"

type recordedAttempt struct {
	transport string
	outcome   string
}

type recordingObserver struct {
	mu       sync.Mutex
	attempts []recordedAttempt
}

func (o *recordingObserver) ObserveAttempt(transport, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.attempts = append(o.attempts, recordedAttempt{transport: transport, outcome: outcome})
}

func (o *recordingObserver) outcomes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]string, 0, len(o.attempts))
	for _, a := range o.attempts {
		out = append(out, a.outcome)
	}

	return out
}

func newMockedHTTP(t *testing.T) (*HTTP, *httpmock.MockTransport, *recordingObserver) {
	t.Helper()

	mock := httpmock.NewMockTransport()
	observer := &recordingObserver{}

	h := NewHTTP(TransportDirect, HTTPOptions{
		Client:   &http.Client{Transport: mock},
		Observer: observer,
	}, zaptest.NewLogger(t))

	return h, mock, observer
}

func TestHTTP_GetJSON(t *testing.T) {
	h, mock, observer := newMockedHTTP(t)

	mock.RegisterResponder(http.MethodGet, backendURL+"/decompile?name=f",
		httpmock.NewStringResponder(http.StatusOK, `{"decompiled_code":"int f(){return 0;}"}`))

	reply, err := h.GetJSON(context.Background(), backendURL+"/decompile", url.Values{"name": {"f"}}, time.Second)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, reply.Status)
	assert.False(t, reply.Empty())
	assert.Equal(t, map[string]interface{}{"decompiled_code": "int f(){return 0;}"}, reply.Payload)
	assert.Equal(t, []string{metrics.OutcomeSuccess}, observer.outcomes())
}

func TestHTTP_GetJSONEmptyBody(t *testing.T) {
	h, mock, observer := newMockedHTTP(t)

	mock.RegisterResponder(http.MethodGet, backendURL+"/functions", httpmock.NewStringResponder(http.StatusOK, "  "))

	reply, err := h.GetJSON(context.Background(), backendURL+"/functions", nil, time.Second)
	require.NoError(t, err)

	assert.True(t, reply.Delivered())
	assert.True(t, reply.Empty())
	assert.Equal(t, []string{metrics.OutcomeEmpty}, observer.outcomes())
}

func TestHTTP_GetJSONMalformed(t *testing.T) {
	h, mock, observer := newMockedHTTP(t)

	mock.RegisterResponder(http.MethodGet, backendURL+"/functions", httpmock.NewStringResponder(http.StatusOK, "<html>"))

	_, err := h.GetJSON(context.Background(), backendURL+"/functions", nil, time.Second)
	require.Error(t, err)

	assert.True(t, IsMalformed(err))
	assert.False(t, IsUnavailable(err))
	assert.Equal(t, []string{metrics.OutcomeMalformed}, observer.outcomes())
}

func TestHTTP_StatusError(t *testing.T) {
	h, mock, _ := newMockedHTTP(t)

	mock.RegisterResponder(http.MethodGet, backendURL+"/servers",
		httpmock.NewStringResponder(http.StatusNotFound, "not here\nat all"))

	reply, err := h.GetJSON(context.Background(), backendURL+"/servers", nil, time.Second)
	require.Error(t, err)

	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ErrTypeStatus, te.Type)
	assert.Equal(t, http.StatusNotFound, te.Status)
	assert.Equal(t, TransportDirect, te.Transport)
	assert.False(t, te.Retryable)
	assert.Contains(t, te.Error(), "not here at all")
	assert.Equal(t, http.StatusNotFound, reply.Status)
	assert.True(t, IsUnavailable(err))
}

func TestHTTP_ConnectionError(t *testing.T) {
	h, mock, observer := newMockedHTTP(t)

	mock.RegisterResponder(http.MethodGet, backendURL+"/servers", httpmock.NewErrorResponder(errors.New("connection refused")))

	_, err := h.GetJSON(context.Background(), backendURL+"/servers", nil, time.Second)
	require.Error(t, err)

	assert.Equal(t, ErrTypeConnection, ErrorType(err))
	assert.True(t, IsUnavailable(err))
	assert.Equal(t, []string{metrics.OutcomeUnavailable}, observer.outcomes())
}

func TestHTTP_GetText(t *testing.T) {
	h, mock, _ := newMockedHTTP(t)

	mock.RegisterResponder(http.MethodGet, backendURL+"/decompile?binary_id=port_9009&function=f",
		httpmock.NewStringResponder(http.StatusOK, "int f(){}\n"))

	reply, err := h.GetText(context.Background(), backendURL+"/decompile",
		url.Values{"binary_id": {"port_9009"}, "function": {"f"}}, time.Second)
	require.NoError(t, err)

	assert.Equal(t, "int f(){}\n", reply.Payload)
}

func TestHTTP_PostJSON(t *testing.T) {
	h, mock, _ := newMockedHTTP(t)

	var (
		gotBody        map[string]interface{}
		gotContentType string
	)

	mock.RegisterResponder(http.MethodPost, backendURL+"/decompile", func(req *http.Request) (*http.Response, error) {
		gotContentType = req.Header.Get("Content-Type")

		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal(data, &gotBody); err != nil {
			return nil, err
		}

		return httpmock.NewStringResponse(http.StatusOK, `{"code":"int f(){}"}`), nil
	})

	reply, err := h.PostJSON(context.Background(), backendURL+"/decompile", map[string]string{"name": "f"}, time.Second)
	require.NoError(t, err)

	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, map[string]interface{}{"name": "f"}, gotBody)
	assert.Equal(t, map[string]interface{}{"code": "int f(){}"}, reply.Payload)
}

func TestHTTP_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	h := NewHTTP(TransportREST, HTTPOptions{}, zaptest.NewLogger(t))

	start := time.Now()
	_, err := h.GetJSON(context.Background(), server.URL+"/slow", nil, 50*time.Millisecond)
	require.Error(t, err)

	assert.Equal(t, ErrTypeTimeout, ErrorType(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestHTTP_UserAgent(t *testing.T) {
	var userAgent string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	h := NewHTTP(TransportREST, HTTPOptions{UserAgent: "re-bridge/test"}, nil)

	reply, err := h.GetJSON(context.Background(), server.URL, nil, time.Second)
	require.NoError(t, err)

	assert.Equal(t, "re-bridge/test", userAgent)
	assert.True(t, reply.Empty())
}

func TestIsEmptyValue(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  bool
	}{
		{"nil", nil, true},
		{"blank string", " \n", true},
		{"string", "x", false},
		{"empty list", []interface{}{}, true},
		{"list", []interface{}{"a"}, false},
		{"empty object", map[string]interface{}{}, true},
		{"object", map[string]interface{}{"a": 1.0}, false},
		{"number", 0.0, false},
		{"bool", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsEmptyValue(tt.value))
		})
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b", Preview([]byte("a\nb"), 10))
	assert.Equal(t, strings.Repeat("x", 5), Preview([]byte(strings.Repeat("x", 20)), 5))
	assert.Empty(t, Preview(nil, 5))

	// "é" spans bytes 1-2; a cut inside it backs off to the rune start.
	assert.Equal(t, "h", Preview([]byte("héllo"), 2))
	assert.Equal(t, "hé", Preview([]byte("héllo"), 3))

	cut := Preview([]byte(strings.Repeat("ü", 150)), 200)
	assert.True(t, utf8.ValidString(cut))
	assert.Len(t, cut, 200)
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "http://h/message", JoinURL("http://h/", "/message"))
	assert.Equal(t, "http://h/binaries/x/functions", JoinURL("http://h", "binaries/x/functions"))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, metrics.OutcomeSuccess, Outcome(Reply{Payload: "x"}, nil))
	assert.Equal(t, metrics.OutcomeEmpty, Outcome(Reply{}, nil))
	assert.Equal(t, metrics.OutcomeTimeout, Outcome(Reply{}, NewTimeoutError("u", TransportBridge, time.Second, nil)))
	assert.Equal(t, metrics.OutcomeMalformed, Outcome(Reply{}, NewMalformedError("u", TransportBridge, "bad", nil)))
	assert.Equal(t, metrics.OutcomeUnavailable, Outcome(Reply{}, NewConnectionError("u", TransportBridge, nil)))
}
