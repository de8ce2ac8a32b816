package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/rpc/v2/json2"
	"go.uber.org/zap"

	"github.com/actual-software/re-bridge/internal/constants"
	"github.com/actual-software/re-bridge/pkg/common/logging"
	"github.com/actual-software/re-bridge/pkg/mcp"
)

// Bridge posts requests to the shared bridge message endpoint.
type Bridge struct {
	http       *HTTP
	baseURL    string
	messageURL string
	timeout    time.Duration
	logger     *zap.Logger
}

// NewBridge creates a bridge adapter. An empty baseURL yields an adapter whose
// calls fail with UNCONFIGURED_ERROR.
func NewBridge(baseURL, messagePath string, timeout time.Duration, h *HTTP, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}

	if messagePath == "" {
		messagePath = constants.MessagePath
	}

	if timeout <= 0 {
		timeout = constants.BridgeRequestTimeout
	}

	baseURL = strings.TrimRight(baseURL, "/")

	messageURL := ""
	if baseURL != "" {
		messageURL = JoinURL(baseURL, messagePath)
	}

	return &Bridge{
		http:       h,
		baseURL:    baseURL,
		messageURL: messageURL,
		timeout:    timeout,
		logger:     logger.With(zap.String(logging.FieldBaseURL, baseURL)),
	}
}

// Configured reports whether a bridge base URL is set.
func (b *Bridge) Configured() bool {
	return b.baseURL != ""
}

// BaseURL returns the bridge base URL without a trailing slash.
func (b *Bridge) BaseURL() string {
	return b.baseURL
}

// URL resolves a path relative to the bridge base URL.
func (b *Bridge) URL(path string) string {
	return JoinURL(b.baseURL, path)
}

// CallJSONRPC posts a JSON-RPC 2.0 request carrying id. A synchronous envelope
// reply with the same id is unwrapped to its result; an empty 2xx reply means
// the request was accepted and the answer, if any, arrives on the event stream.
func (b *Bridge) CallJSONRPC(ctx context.Context, method string, params interface{}, id string) (Reply, error) {
	if !b.Configured() {
		return Reply{}, NewUnconfiguredError(TransportBridge, "bridge base URL is not configured")
	}

	start := time.Now()
	reply, err := b.http.Do(ctx, http.MethodPost, b.messageURL, mcp.NewRequest(method, params, id), b.timeout)

	b.logger.Debug("bridge JSON-RPC POST",
		zap.String(logging.FieldMethod, method),
		zap.String(logging.FieldRequestID, id),
		zap.Int(logging.FieldStatusCode, reply.Status),
		zap.Error(err))

	if err == nil {
		reply, err = b.decodeJSONRPC(reply, id)
	}

	b.http.observe(start, reply, err)

	return reply, err
}

func (b *Bridge) decodeJSONRPC(reply Reply, id string) (Reply, error) {
	if len(bytes.TrimSpace(reply.Raw)) == 0 {
		return reply, nil
	}

	var obj interface{}
	if err := json.Unmarshal(reply.Raw, &obj); err != nil {
		reply.Payload = string(reply.Raw)

		return reply, nil
	}

	envelope, ok := obj.(map[string]interface{})
	if !ok || !mcp.IsEnvelope(envelope) || mcp.IDString(envelope["id"]) != id {
		reply.Payload = obj

		return reply, nil
	}

	result, err := decodeEnvelope(envelope)
	if err != nil {
		if errors.Is(err, json2.ErrNullResult) {
			return reply, nil
		}

		return reply, NewProtocolError(b.messageURL, TransportBridge, "bridge returned a JSON-RPC error", err)
	}

	reply.Payload = result

	return reply, nil
}

// decodeEnvelope splits a synchronous envelope into its result or its
// *mcp.Error. The result goes through the json2 client codec with the id
// dropped, since the codec only understands numeric ids and the caller has
// already matched it.
func decodeEnvelope(envelope map[string]interface{}) (interface{}, error) {
	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}

	var resp mcp.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, resp.Error
	}

	stripped := map[string]interface{}{"jsonrpc": envelope["jsonrpc"]}
	if v, ok := envelope["result"]; ok {
		stripped["result"] = v
	}

	if data, err = json.Marshal(stripped); err != nil {
		return nil, err
	}

	var result interface{}
	if err := json2.DecodeClientResponse(bytes.NewReader(data), &result); err != nil {
		return nil, err
	}

	return result, nil
}

// genericBodies lists the request shapes bridges have been seen to accept.
func genericBodies(method string, params interface{}) []map[string]interface{} {
	if params == nil {
		params = map[string]interface{}{}
	}

	return []map[string]interface{}{
		{"method": method, "params": params},
		{"jsonrpc": mcp.Version, "id": mcp.GenericID, "method": method, "params": params},
		{"tool": method, "params": params},
		{"name": method, "arguments": params},
		{"function": method, "args": params},
	}
}

// CallGeneric posts method without a correlation id, trying each known body
// shape until one is accepted. JSON-RPC replies are unwrapped to their result;
// error replies move on to the next shape.
func (b *Bridge) CallGeneric(ctx context.Context, method string, params interface{}) (Reply, error) {
	if !b.Configured() {
		return Reply{}, NewUnconfiguredError(TransportBridge, "bridge base URL is not configured")
	}

	var lastErr error

	for i, body := range genericBodies(method, params) {
		if ctx.Err() != nil {
			break
		}

		start := time.Now()
		reply, err := b.http.Do(ctx, http.MethodPost, b.messageURL, body, b.timeout)

		if err == nil {
			reply, err = b.decodeGeneric(reply)
		}

		b.http.observe(start, reply, err)

		if err != nil {
			b.logger.Debug("bridge generic POST rejected",
				zap.String(logging.FieldMethod, method),
				zap.Int(logging.FieldAttempt, i+1),
				zap.Int(logging.FieldStatusCode, reply.Status),
				zap.Error(err))

			lastErr = err

			// Another body shape will not make an unreachable bridge reachable.
			if t := ErrorType(err); t == ErrTypeConnection || t == ErrTypeTimeout {
				break
			}

			continue
		}

		b.logger.Debug("bridge generic POST accepted",
			zap.String(logging.FieldMethod, method),
			zap.Int(logging.FieldAttempt, i+1),
			zap.Int(logging.FieldStatusCode, reply.Status))

		return reply, nil
	}

	if lastErr == nil {
		lastErr = NewTimeoutError(b.messageURL, TransportBridge, b.timeout, ctx.Err())
	}

	return Reply{}, lastErr
}

func (b *Bridge) decodeGeneric(reply Reply) (Reply, error) {
	if len(bytes.TrimSpace(reply.Raw)) == 0 {
		return reply, nil
	}

	var obj interface{}
	if err := json.Unmarshal(reply.Raw, &obj); err != nil {
		reply.Payload = string(reply.Raw)

		return reply, nil
	}

	envelope, ok := obj.(map[string]interface{})
	if !ok || !mcp.IsEnvelope(envelope) {
		reply.Payload = obj

		return reply, nil
	}

	if result, ok := envelope["result"]; ok {
		reply.Payload = result

		return reply, nil
	}

	if _, ok := envelope["error"]; ok {
		_, err := decodeEnvelope(envelope)

		return reply, NewProtocolError(b.messageURL, TransportBridge, "bridge returned a JSON-RPC error", err)
	}

	reply.Payload = obj

	return reply, nil
}
