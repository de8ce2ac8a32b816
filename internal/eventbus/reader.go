package eventbus

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/actual-software/re-bridge/pkg/common/logging"
)

// streamReader is the single producer feeding the Bus from the bridge stream.
type streamReader struct {
	bus        *Bus
	logger     *zap.Logger
	reconnects int
	// failing suppresses repeated warnings while the bridge stays unreachable.
	failing bool
}

func newReader(b *Bus) *streamReader {
	return &streamReader{
		bus:    b,
		logger: b.logger.With(zap.String(logging.FieldTransport, "sse")),
	}
}

// run reads the stream until ctx is cancelled, reconnecting after a fixed
// delay whenever the connection fails or ends.
func (r *streamReader) run(ctx context.Context) {
	for {
		err := r.readStream(ctx)
		if ctx.Err() != nil {
			return
		}

		r.logReadError(err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.bus.reconnectDelay):
		}

		r.reconnects++
		r.bus.recorder.StreamReconnected()
		r.logger.Debug("reconnecting to event stream", zap.Int(logging.FieldReconnects, r.reconnects))
	}
}

// readStream holds one connection open and publishes every well-formed block.
func (r *streamReader) readStream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.bus.streamURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create stream request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := r.bus.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to event stream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream returned status %d", resp.StatusCode)
	}

	r.failing = false
	r.logger.Debug("event stream connected", zap.String(logging.FieldURL, r.bus.streamURL))

	reader := bufio.NewReader(resp.Body)
	parser := &blockParser{}

	for {
		data, err := parser.ReadBlock(reader)
		if err != nil {
			return err
		}

		payload, err := decodeBlock(data)
		if err != nil {
			// Garbled blocks are expected on a long-lived stream; the next one heals it.
			r.bus.recorder.EventDropped()
			r.logger.Debug("dropping malformed event block", zap.Error(err))

			continue
		}

		ev := r.bus.Publish(payload)
		r.logger.Debug("event received", zap.Uint64(logging.FieldEventSeq, ev.Seq))
	}
}

func (r *streamReader) logReadError(err error) {
	if err == nil || errors.Is(err, io.EOF) {
		r.logger.Debug("event stream closed")

		return
	}

	if r.failing {
		r.logger.Debug("event stream still unavailable", zap.Error(err))

		return
	}

	r.failing = true
	r.logger.Warn("event stream read error", zap.Error(err))
}
