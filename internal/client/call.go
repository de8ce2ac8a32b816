package client

import (
	"context"
	"errors"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/actual-software/re-bridge/internal/eventbus"
	"github.com/actual-software/re-bridge/internal/logging"
	"github.com/actual-software/re-bridge/internal/resolver"
	"github.com/actual-software/re-bridge/internal/transport"
	fields "github.com/actual-software/re-bridge/pkg/common/logging"
)

// Result sources, in the order the orchestrator tries them.
const (
	SourceDirect     = "direct"
	SourceJSONRPC    = "jsonrpc"
	SourceCorrelated = "correlated"
	SourceGeneric    = "generic"
	SourceMethodScan = "method-scan"
	SourceREST       = "rest"
	SourceStatic     = "static"

	// sourceNone labels calls that produced nothing.
	sourceNone = "none"
)

// Breaker stages.
const (
	stageBridge = "bridge"
	stageREST   = "rest"
)

// DirectRequest describes the call against a backend's own HTTP endpoint.
type DirectRequest struct {
	Path  string
	Query url.Values
	// Body, when set, enables the POST attempt after the GET.
	Body interface{}
	// Keys overrides CallRequest.Keys for direct replies.
	Keys []string
}

// MethodCall is one bridge method alias and its parameters.
type MethodCall struct {
	Name   string
	Params map[string]interface{}
}

// RESTRequest is one conventional path tried relative to the bridge base URL.
type RESTRequest struct {
	Path  string
	Query url.Values
	// Text takes the body as is instead of decoding JSON.
	Text bool
}

// CallRequest describes one orchestrated call.
type CallRequest struct {
	// Operation labels logs and metrics.
	Operation string
	// Target is the logical backend id; empty for bridge-wide calls.
	Target string
	// TargetParam, when set, is the method parameter that receives the
	// resolved backend id.
	TargetParam string

	Direct  *DirectRequest
	Methods []MethodCall
	REST    []RESTRequest

	// Keys are the accepted result fields, in order of preference.
	Keys []string
	Kind eventbus.Kind
	// Hint must be contained in string results delivered on the event stream.
	Hint string

	// Timeout bounds each id correlation wait; zero uses the configured default.
	Timeout time.Duration
	// ScanTimeout bounds each method scan; zero uses the configured default.
	ScanTimeout time.Duration

	// Accept, when set, converts an extracted value and may still reject it.
	Accept func(interface{}) (interface{}, bool)
	// Fallback is returned unchanged when every transport fails. Nil means none.
	Fallback interface{}
}

// Result is the answer to a call.
type Result struct {
	Value     interface{}
	Source    string
	Target    resolver.Target
	RequestID string
}

// Call runs req through every transport in order and returns the first usable
// result. It never fails hard: ok is false only when every transport and the
// static fallback came up empty.
func (c *Client) Call(ctx context.Context, req CallRequest) (Result, bool) {
	start := time.Now()

	logger := c.logger.With(
		zap.String(fields.FieldOperation, req.Operation),
		zap.String(fields.FieldTarget, req.Target))

	var target resolver.Target
	if req.Target != "" {
		target = c.resolver.Resolve(ctx, req.Target)
	}

	res, ok := c.attempt(ctx, req, target, logger)

	if !ok && req.Fallback != nil {
		logger.Warn("falling back to static data")

		res, ok = Result{Value: req.Fallback, Source: SourceStatic, Target: target}, true
	}

	if !ok {
		c.metrics.RecordCall(req.Operation, sourceNone)
		logger.Info("call exhausted all transports", zap.Duration(fields.FieldDuration, time.Since(start)))

		return Result{Target: target}, false
	}

	c.metrics.RecordCall(req.Operation, res.Source)
	logger.Debug("call answered",
		zap.String(fields.FieldSource, res.Source),
		zap.String(fields.FieldRequestID, res.RequestID),
		zap.Duration(fields.FieldDuration, time.Since(start)))

	return res, true
}

// Invoke calls a single bridge method and returns the first value found under
// keys. It returns ErrExhausted when nothing answered.
func (c *Client) Invoke(ctx context.Context, method string, params map[string]interface{}, keys ...string) (interface{}, error) {
	if len(keys) == 0 {
		keys = defaultInvokeKeys
	}

	res, ok := c.Call(ctx, CallRequest{
		Operation: method,
		Methods:   []MethodCall{{Name: method, Params: params}},
		Keys:      keys,
	})
	if !ok {
		return nil, ErrExhausted
	}

	return res.Value, nil
}

// defaultInvokeKeys are tried when Invoke is given no keys.
var defaultInvokeKeys = []string{"result", "content", "text"}

func (c *Client) attempt(ctx context.Context, req CallRequest, target resolver.Target, logger *zap.Logger) (Result, bool) {
	if req.Direct != nil && target.HasDirect() {
		if res, ok := c.tryDirect(ctx, req, target, logger); ok {
			return res, true
		}
	}

	if ctx.Err() != nil {
		return Result{}, false
	}

	if len(req.Methods) > 0 && c.bridge.Configured() {
		if target.HasDirect() {
			target = c.resolver.Canonicalize(ctx, target)
		}

		if res, ok := c.tryBridge(ctx, req, target, logger); ok {
			return res, true
		}
	}

	if ctx.Err() != nil {
		return Result{}, false
	}

	if len(req.REST) > 0 && c.bridge.Configured() {
		if res, ok := c.tryREST(ctx, req, target, logger); ok {
			return res, true
		}
	}

	return Result{}, false
}

// tryDirect issues the GET and then the POST against the backend itself.
// It never touches the event bus.
func (c *Client) tryDirect(ctx context.Context, req CallRequest, target resolver.Target, logger *zap.Logger) (Result, bool) {
	stage := transport.TransportDirect + " " + target.DirectBaseURL
	if !c.breakers.Allow(stage) {
		logger.Debug("skipping open stage", zap.String("stage", stage))

		return Result{}, false
	}

	keys := req.Direct.Keys
	if len(keys) == 0 {
		keys = req.Keys
	}

	endpoint := transport.JoinURL(target.DirectBaseURL, req.Direct.Path)

	reply, err := c.direct.GetJSON(ctx, endpoint, req.Direct.Query, c.cfg.Direct.GetTimeout)
	c.breakers.Record(stage, breakerError(err))

	if err == nil {
		if v, ok := c.accept(req, reply.Payload, keys, ""); ok {
			return Result{Value: v, Source: SourceDirect, Target: target}, true
		}
	}

	if req.Direct.Body == nil || refused(err) || ctx.Err() != nil {
		return Result{}, false
	}

	reply, err = c.direct.PostJSON(ctx, endpoint, req.Direct.Body, c.cfg.Direct.PostTimeout)
	c.breakers.Record(stage, breakerError(err))

	if err == nil {
		if v, ok := c.accept(req, reply.Payload, keys, ""); ok {
			return Result{Value: v, Source: SourceDirect, Target: target}, true
		}
	}

	return Result{}, false
}

// tryBridge walks the method aliases: correlated JSON-RPC POST, id wait,
// generic POST, method scan. A refused connection ends the phase; a POST
// that timed out may still have been delivered, so its wait still runs.
func (c *Client) tryBridge(ctx context.Context, req CallRequest, target resolver.Target, logger *zap.Logger) (Result, bool) {
	if !c.breakers.Allow(stageBridge) {
		logger.Debug("skipping open stage", zap.String("stage", stageBridge))

		return Result{}, false
	}

	// The stream must be connected before posting or an early reply is lost.
	streaming := c.bus.EnsureRunning()

	for _, m := range req.Methods {
		if ctx.Err() != nil {
			return Result{}, false
		}

		params := methodParams(req, m, target)
		id := c.newID()
		since := time.Now()

		reply, err := c.bridge.CallJSONRPC(ctx, m.Name, params, id)
		c.breakers.Record(stageBridge, breakerError(err))

		if refused(err) {
			logger.Debug("bridge unreachable", logging.WithError(err)...)

			return Result{}, false
		}

		if err == nil {
			if v, ok := c.accept(req, reply.Payload, req.Keys, ""); ok {
				return Result{Value: v, Source: SourceJSONRPC, Target: target, RequestID: id}, true
			}
		}

		if streaming && mayBeDelivered(err) {
			q := eventbus.Query{ID: id, Keys: req.Keys, Kind: req.Kind, Hint: req.Hint, Since: since}
			if v, ok := c.correlator.WaitForID(ctx, q, remaining(c.waitTimeout(req), since)); ok {
				if v, ok := c.finish(req, v); ok {
					return Result{Value: v, Source: SourceCorrelated, Target: target, RequestID: id}, true
				}
			}
		}

		if ctx.Err() != nil {
			return Result{}, false
		}

		reply, err = c.bridge.CallGeneric(ctx, m.Name, params)
		c.breakers.Record(stageBridge, breakerError(err))

		if refused(err) {
			return Result{}, false
		}

		if err == nil {
			if v, ok := c.accept(req, reply.Payload, req.Keys, ""); ok {
				return Result{Value: v, Source: SourceGeneric, Target: target}, true
			}
		}

		if !streaming || !mayBeDelivered(err) {
			continue
		}

		q := eventbus.Query{Method: m.Name, Keys: req.Keys, Kind: req.Kind, Hint: req.Hint, Since: since}
		if v, ok := c.correlator.WaitForMethod(ctx, q, c.scanTimeout(req)); ok {
			if v, ok := c.finish(req, v); ok {
				return Result{Value: v, Source: SourceMethodScan, Target: target}, true
			}
		}

		logger.Debug("method alias produced nothing", zap.String(fields.FieldMethod, m.Name))
	}

	return Result{}, false
}

// tryREST issues GETs against conventional paths of the bridge.
func (c *Client) tryREST(ctx context.Context, req CallRequest, target resolver.Target, logger *zap.Logger) (Result, bool) {
	if !c.breakers.Allow(stageREST) {
		logger.Debug("skipping open stage", zap.String("stage", stageREST))

		return Result{}, false
	}

	for _, r := range req.REST {
		if ctx.Err() != nil {
			return Result{}, false
		}

		var (
			reply transport.Reply
			err   error
		)

		endpoint := c.bridge.URL(r.Path)
		if r.Text {
			reply, err = c.rest.GetText(ctx, endpoint, r.Query, c.cfg.REST.TextTimeout)
		} else {
			reply, err = c.rest.GetJSON(ctx, endpoint, r.Query, c.cfg.REST.JSONTimeout)
		}

		c.breakers.Record(stageREST, breakerError(err))

		if unreachable(err) {
			return Result{}, false
		}

		if err != nil {
			continue
		}

		if v, ok := c.accept(req, reply.Payload, req.Keys, ""); ok {
			return Result{Value: v, Source: SourceREST, Target: target}, true
		}
	}

	return Result{}, false
}

// accept extracts a usable value from a synchronous reply.
func (c *Client) accept(req CallRequest, payload interface{}, keys []string, hint string) (interface{}, bool) {
	v, ok := eventbus.Extract(payload, keys, req.Kind, hint)
	if !ok {
		return nil, false
	}

	return c.finish(req, v)
}

func (c *Client) finish(req CallRequest, v interface{}) (interface{}, bool) {
	if req.Accept == nil {
		return v, true
	}

	return req.Accept(v)
}

func (c *Client) waitTimeout(req CallRequest) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}

	return c.cfg.Correlation.Timeout
}

// remaining is what is left of a correlation window opened at since. A
// spent window still allows one scan of the buffered events.
func remaining(window time.Duration, since time.Time) time.Duration {
	return max(window-time.Since(since), 0)
}

func (c *Client) scanTimeout(req CallRequest) time.Duration {
	if req.ScanTimeout > 0 {
		return req.ScanTimeout
	}

	return c.cfg.Correlation.ScanTimeout
}

// methodParams copies the alias parameters and injects the resolved target id.
func methodParams(req CallRequest, m MethodCall, target resolver.Target) map[string]interface{} {
	params := make(map[string]interface{}, len(m.Params)+1)
	for k, v := range m.Params {
		params[k] = v
	}

	if req.TargetParam != "" && target.ID() != "" {
		params[req.TargetParam] = target.ID()
	}

	return params
}

// unreachable reports whether err means another attempt on the same
// transport cannot succeed either.
func unreachable(err error) bool {
	t := transport.ErrorType(err)

	return t == transport.ErrTypeConnection || t == transport.ErrTypeTimeout || t == transport.ErrTypeUnconfigured
}

// refused reports whether err proves the remote side cannot be reached at
// all. A timeout does not: the request may have been delivered.
func refused(err error) bool {
	t := transport.ErrorType(err)

	return t == transport.ErrTypeConnection || t == transport.ErrTypeUnconfigured
}

// mayBeDelivered reports whether a POST that returned err could still be
// answered on the event stream.
func mayBeDelivered(err error) bool {
	return err == nil || transport.ErrorType(err) == transport.ErrTypeTimeout
}

// breakerError filters err down to the failures that count against a stage.
// A 4xx or a malformed body still proves the remote side is alive.
func breakerError(err error) error {
	if unreachable(err) {
		return err
	}

	var te *transport.Error
	if errors.As(err, &te) && te.Type == transport.ErrTypeStatus && te.Retryable {
		return err
	}

	return nil
}
