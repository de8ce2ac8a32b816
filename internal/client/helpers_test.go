package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/actual-software/re-bridge/internal/config"
	"github.com/actual-software/re-bridge/internal/metrics"
)

const testTimeout = 5 * time.Second

// fakeBridge serves /message, /sse and a few REST paths the way an MCP
// bridge does.
type fakeBridge struct {
	server *httptest.Server
	events chan string
	closed chan struct{}

	streams  atomic.Int32
	messages atomic.Int32

	mu     sync.Mutex
	bodies []map[string]interface{}

	respond func(fb *fakeBridge, body map[string]interface{}) (int, string)
	rest    map[string]string
}

func newFakeBridge(
	t *testing.T,
	respond func(fb *fakeBridge, body map[string]interface{}) (int, string),
	rest map[string]string,
) *fakeBridge {
	t.Helper()

	fb := &fakeBridge{
		events:  make(chan string, 32),
		closed:  make(chan struct{}),
		respond: respond,
		rest:    rest,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", fb.handleStream)
	mux.HandleFunc("/message", fb.handleMessage)
	mux.HandleFunc("/", fb.handleREST)

	fb.server = httptest.NewServer(mux)
	t.Cleanup(func() {
		close(fb.closed)
		fb.server.Close()
	})

	return fb
}

func (fb *fakeBridge) URL() string {
	return fb.server.URL
}

func (fb *fakeBridge) push(payload string) {
	fb.events <- payload
}

func (fb *fakeBridge) received() []map[string]interface{} {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	return append([]map[string]interface{}(nil), fb.bodies...)
}

func (fb *fakeBridge) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)

		return
	}

	fb.streams.Add(1)
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-fb.closed:
			return
		case payload := <-fb.events:
			_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (fb *fakeBridge) handleMessage(w http.ResponseWriter, r *http.Request) {
	fb.messages.Add(1)

	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	fb.mu.Lock()
	fb.bodies = append(fb.bodies, body)
	fb.mu.Unlock()

	status, reply := http.StatusAccepted, ""
	if fb.respond != nil {
		status, reply = fb.respond(fb, body)
	}

	w.WriteHeader(status)
	_, _ = fmt.Fprint(w, reply)
}

func (fb *fakeBridge) handleREST(w http.ResponseWriter, r *http.Request) {
	reply, ok := fb.rest[r.URL.Path]
	if !ok {
		http.NotFound(w, r)

		return
	}

	_, _ = fmt.Fprint(w, reply)
}

// correlatedID returns the id of a JSON-RPC body posted with a correlation id.
func correlatedID(body map[string]interface{}) (string, bool) {
	id, ok := body["id"].(string)

	return id, ok && body["jsonrpc"] == "2.0"
}

func isGeneric(body map[string]interface{}) bool {
	_, hasID := body["id"]
	_, hasMethod := body["method"]

	return hasMethod && !hasID
}

func envelope(id, result string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%q,"result":%s}`, id, result)
}

// deadURL returns the address of a server that is no longer listening.
func deadURL(t *testing.T) string {
	t.Helper()

	s := httptest.NewServer(http.NotFoundHandler())
	u := s.URL
	s.Close()

	return u
}

func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.Bridge.BaseURL = baseURL
	cfg.Correlation.Timeout = 2 * time.Second
	cfg.Correlation.ScanTimeout = 200 * time.Millisecond
	cfg.Correlation.WaitSlice = 50 * time.Millisecond
	cfg.Events.ReconnectDelay = 20 * time.Millisecond

	return cfg
}

func newTestClient(t *testing.T, cfg *config.Config, reg *metrics.Registry) *Client {
	t.Helper()

	c, err := New(cfg, Options{Logger: zaptest.NewLogger(t), Metrics: reg})
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()

		require.NoError(t, c.Close(ctx))
	})

	return c
}
