package eventbus

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockStreamServer serves /sse, writing whatever is sent on blocks.
type mockStreamServer struct {
	server      *httptest.Server
	blocks      chan string
	connections atomic.Int32
	// hangup ends the current stream so the reader has to reconnect.
	hangup chan struct{}
}

func newMockStreamServer(t *testing.T) *mockStreamServer {
	t.Helper()

	m := &mockStreamServer{
		blocks: make(chan string, 100),
		hangup: make(chan struct{}, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", m.handleStream)

	m.server = httptest.NewServer(mux)
	t.Cleanup(m.server.Close)

	return m
}

func (m *mockStreamServer) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)

		return
	}

	m.connections.Add(1)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-m.hangup:
			return
		case block := <-m.blocks:
			_, _ = fmt.Fprint(w, block)
			flusher.Flush()
		}
	}
}

func (m *mockStreamServer) send(data string) {
	m.blocks <- "data: " + data + "\n\n"
}

func startTestBus(t *testing.T, m *mockStreamServer, recorder Recorder) *Bus {
	t.Helper()

	b := newTestBus(t, Options{
		BaseURL:        m.server.URL + "/",
		ReconnectDelay: 20 * time.Millisecond,
		Recorder:       recorder,
	})

	require.True(t, b.EnsureRunning())
	require.Eventually(t, func() bool { return m.connections.Load() >= 1 }, testTimeout, 5*time.Millisecond)

	return b
}

func TestReader_PublishesEvents(t *testing.T) {
	m := newMockStreamServer(t)
	recorder := &countingRecorder{}
	b := startTestBus(t, m, recorder)

	assert.Equal(t, m.server.URL+"/sse", b.StreamURL())

	m.send(`{"jsonrpc":"2.0","id":"A","result":{"code":"int f(){}"}}`)
	m.send(`{broken`)
	m.blocks <- "data: [1,\ndata: 2]\n\n"

	require.True(t, b.WaitForNewEvent(1, testTimeout))

	events := b.SnapshotSince(time.Time{})
	require.Len(t, events, 2)
	assert.Equal(t, []interface{}{1.0, 2.0}, events[1].Payload)

	assert.Equal(t, int64(1), recorder.dropped.Load())
	assert.Equal(t, int64(2), recorder.received.Load())
}

func TestReader_Reconnects(t *testing.T) {
	m := newMockStreamServer(t)
	recorder := &countingRecorder{}
	b := startTestBus(t, m, recorder)

	m.hangup <- struct{}{}

	require.Eventually(t, func() bool { return m.connections.Load() >= 2 }, testTimeout, 5*time.Millisecond)
	assert.GreaterOrEqual(t, recorder.reconnects.Load(), int64(1))
	assert.True(t, b.Running())

	m.send(`{"after":"reconnect"}`)
	assert.True(t, b.WaitForNewEvent(0, testTimeout))
}

func TestReader_ReconnectsWhileUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	recorder := &countingRecorder{}
	b := newTestBus(t, Options{BaseURL: baseURL, ReconnectDelay: 10 * time.Millisecond, Recorder: recorder})

	require.True(t, b.EnsureRunning())
	require.Eventually(t, func() bool { return recorder.reconnects.Load() >= 3 }, testTimeout, 5*time.Millisecond)
	assert.True(t, b.Running(), "the reader never gives up on its own")
}

func TestBus_StopEndsReader(t *testing.T) {
	m := newMockStreamServer(t)
	b := startTestBus(t, m, nil)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	require.NoError(t, b.Stop(ctx))
	assert.False(t, b.Running())

	// A stopped bus can be started again.
	require.True(t, b.EnsureRunning())
	require.Eventually(t, func() bool { return m.connections.Load() >= 2 }, testTimeout, 5*time.Millisecond)
}

func TestBus_EnsureRunningConcurrent(t *testing.T) {
	m := newMockStreamServer(t)
	b := newTestBus(t, Options{BaseURL: m.server.URL})

	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			assert.True(t, b.EnsureRunning())
		}()
	}

	wg.Wait()

	require.Eventually(t, func() bool { return m.connections.Load() == 1 }, testTimeout, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), m.connections.Load(), "exactly one reader per bus")
	assert.ErrorIs(t, b.Start(context.Background()), ErrAlreadyRunning)
}

func TestBus_StartContextCancel(t *testing.T) {
	m := newMockStreamServer(t)
	b := newTestBus(t, Options{BaseURL: m.server.URL})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, b.Start(ctx))
	require.Eventually(t, func() bool { return m.connections.Load() == 1 }, testTimeout, 5*time.Millisecond)

	cancel()

	require.Eventually(t, func() bool { return !b.Running() }, testTimeout, 5*time.Millisecond)
}
