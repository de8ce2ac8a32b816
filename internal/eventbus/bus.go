// Package eventbus ingests the bridge event stream into a bounded buffer and
// lets callers wait for events correlated with their requests.
//
// The Bus owns the ring buffer and the single background reader. Waiters go
// through the Correlator; nothing outside this package touches the buffer.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"go.uber.org/zap"

	"github.com/actual-software/re-bridge/internal/constants"
	"github.com/actual-software/re-bridge/pkg/common/logging"
)

// topicEvent prefixes the observer topics buffered events are published on.
// Each subscription gets its own topic.
const topicEvent = "bridge:event"

var (
	// ErrNoStream is returned when the bus has no stream URL to read from.
	ErrNoStream = errors.New("event stream not configured")
	// ErrAlreadyRunning is returned by Start when the reader is active.
	ErrAlreadyRunning = errors.New("event stream reader already running")
)

// Event is one parsed stream message.
type Event struct {
	Seq       uint64
	Timestamp time.Time
	Payload   interface{}
}

// Recorder receives event stream counters. *metrics.Registry satisfies it.
type Recorder interface {
	EventReceived()
	EventDropped()
	EventEvicted()
	StreamReconnected()
}

type nopRecorder struct{}

func (nopRecorder) EventReceived()     {}
func (nopRecorder) EventDropped()      {}
func (nopRecorder) EventEvicted()      {}
func (nopRecorder) StreamReconnected() {}

// Options configures a Bus.
type Options struct {
	// BaseURL of the bridge; empty disables the reader.
	BaseURL        string
	StreamPath     string
	Capacity       int
	ReconnectDelay time.Duration
	Client         *http.Client
	Recorder       Recorder
}

// Bus buffers the most recent events of the bridge stream.
type Bus struct {
	mu       sync.Mutex
	cond     *sync.Cond
	ring     []Event
	start    int
	count    int
	lastSeq  uint64
	capacity int

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}

	streamURL      string
	client         *http.Client
	reconnectDelay time.Duration
	recorder       Recorder
	observers      evbus.Bus
	logger         *zap.Logger

	topicsMu sync.Mutex
	topics   map[string]struct{}
	topicSeq uint64
}

// New creates a Bus. The reader is not started until Start or EnsureRunning.
func New(opts Options, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}

	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = constants.EventBufferCapacity
	}

	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = constants.StreamReconnectDelay
	}

	path := opts.StreamPath
	if path == "" {
		path = constants.StreamPath
	}

	streamURL := ""
	if base := strings.TrimRight(opts.BaseURL, "/"); base != "" {
		streamURL = base + "/" + strings.TrimLeft(path, "/")
	}

	client := opts.Client
	if client == nil {
		// No client timeout: the stream is long-lived and bounded by the reader context.
		client = &http.Client{}
	}

	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	b := &Bus{
		ring:           make([]Event, capacity),
		capacity:       capacity,
		streamURL:      streamURL,
		client:         client,
		reconnectDelay: delay,
		recorder:       recorder,
		observers:      evbus.New(),
		topics:         make(map[string]struct{}),
		logger:         logger.With(zap.String(logging.FieldComponent, "eventbus")),
	}
	b.cond = sync.NewCond(&b.mu)

	return b
}

// Configured reports whether the bus has a stream to read.
func (b *Bus) Configured() bool {
	return b.streamURL != ""
}

// StreamURL returns the URL the reader connects to.
func (b *Bus) StreamURL() string {
	return b.streamURL
}

// Capacity returns the ring buffer size.
func (b *Bus) Capacity() int {
	return b.capacity
}

// Start launches the background reader. The reader runs until Stop is called
// or ctx is cancelled.
func (b *Bus) Start(ctx context.Context) error {
	if !b.Configured() {
		return ErrNoStream
	}

	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if b.runningLocked() {
		return ErrAlreadyRunning
	}

	readerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	b.cancel = cancel
	b.done = done

	go func() {
		defer close(done)

		newReader(b).run(readerCtx)
	}()

	b.logger.Info("event stream reader started", zap.String(logging.FieldURL, b.streamURL))

	return nil
}

// EnsureRunning starts the reader if it is not running. It is idempotent and
// safe for concurrent use; it returns false when no stream is configured.
func (b *Bus) EnsureRunning() bool {
	err := b.Start(context.Background())

	return err == nil || errors.Is(err, ErrAlreadyRunning)
}

// Running reports whether the reader goroutine is active.
func (b *Bus) Running() bool {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	return b.runningLocked()
}

func (b *Bus) runningLocked() bool {
	if b.done == nil {
		return false
	}

	select {
	case <-b.done:
		return false
	default:
		return true
	}
}

// Stop cancels the reader and waits for it to exit, bounded by ctx.
func (b *Bus) Stop(ctx context.Context) error {
	b.lifecycleMu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.lifecycleMu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("event stream reader did not stop: %w", ctx.Err())
	}

	b.observers.WaitAsync()
	b.broadcast()
	b.logger.Info("event stream reader stopped")

	return nil
}

// Publish appends a payload to the buffer, evicting the oldest event when
// full, and wakes every waiter.
func (b *Bus) Publish(payload interface{}) Event {
	b.mu.Lock()

	b.lastSeq++
	ev := Event{Seq: b.lastSeq, Timestamp: time.Now(), Payload: payload}

	if b.count < b.capacity {
		b.ring[(b.start+b.count)%b.capacity] = ev
		b.count++
	} else {
		b.ring[b.start] = ev
		b.start = (b.start + 1) % b.capacity
		b.recorder.EventEvicted()
	}

	b.cond.Broadcast()
	b.mu.Unlock()

	b.recorder.EventReceived()

	for _, topic := range b.subscribedTopics() {
		b.observers.Publish(topic, ev)
	}

	return ev
}

// SnapshotSince returns buffered events stamped at or after since, oldest first.
func (b *Bus) SnapshotSince(since time.Time) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Event

	b.forEachAfterLocked(0, func(ev Event) bool {
		if !ev.Timestamp.Before(since) {
			out = append(out, ev)
		}

		return true
	})

	return out
}

// Len returns the number of buffered events.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.count
}

// LastSeq returns the sequence number of the newest event, 0 when none arrived.
func (b *Bus) LastSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.lastSeq
}

// WaitForNewEvent blocks until an event newer than afterSeq is buffered or
// timeout elapses. It reports whether such an event exists.
func (b *Bus) WaitForNewEvent(afterSeq uint64, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.lastSeq <= afterSeq {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}

		b.waitLocked(min(remaining, constants.WaitSlice))
	}

	return true
}

// Subscribe registers fn to receive every buffered event asynchronously.
// The returned function removes this subscription only, even when fn is
// shared with another subscriber.
func (b *Bus) Subscribe(fn func(Event)) (func(), error) {
	b.topicsMu.Lock()
	b.topicSeq++
	topic := fmt.Sprintf("%s:%d", topicEvent, b.topicSeq)
	b.topicsMu.Unlock()

	if err := b.observers.SubscribeAsync(topic, fn, true); err != nil {
		return nil, fmt.Errorf("failed to subscribe to events: %w", err)
	}

	b.topicsMu.Lock()
	b.topics[topic] = struct{}{}
	b.topicsMu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			b.topicsMu.Lock()
			delete(b.topics, topic)
			b.topicsMu.Unlock()

			_ = b.observers.Unsubscribe(topic, fn)
		})
	}, nil
}

func (b *Bus) subscribedTopics() []string {
	b.topicsMu.Lock()
	defer b.topicsMu.Unlock()

	topics := make([]string, 0, len(b.topics))
	for topic := range b.topics {
		topics = append(topics, topic)
	}

	return topics
}

// forEachAfterLocked visits buffered events with Seq > after, oldest first,
// until fn returns false. The caller must hold b.mu.
func (b *Bus) forEachAfterLocked(after uint64, fn func(Event) bool) {
	for i := 0; i < b.count; i++ {
		ev := b.ring[(b.start+i)%b.capacity]
		if ev.Seq <= after {
			continue
		}

		if !fn(ev) {
			return
		}
	}
}

// waitLocked sleeps on the condition variable for at most d. The caller must
// hold b.mu. The wake-up timer cannot fire before Wait releases the lock, so
// no broadcast is lost.
func (b *Bus) waitLocked(d time.Duration) {
	timer := time.AfterFunc(d, b.broadcast)
	b.cond.Wait()
	timer.Stop()
}

func (b *Bus) broadcast() {
	b.mu.Lock()
	b.cond.Broadcast()
	b.mu.Unlock()
}
