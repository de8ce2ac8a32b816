package eventbus

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/actual-software/re-bridge/internal/constants"
	"github.com/actual-software/re-bridge/pkg/common/logging"
	"github.com/actual-software/re-bridge/pkg/mcp"
)

// Correlation modes, used as metric labels.
const (
	ModeID     = "id"
	ModeMethod = "method"
)

// declaredMethodKeys name the fields an event may use to declare its method.
// "name" is deliberately absent: bridges use it for function names.
var declaredMethodKeys = []string{"method", "tool", "function"}

// Query describes the event a caller is waiting for.
type Query struct {
	// ID of the JSON-RPC request, for WaitForID.
	ID string
	// Method the request invoked, for WaitForMethod.
	Method string
	// Keys accepted as result fields, in order of preference.
	Keys []string
	Kind Kind
	// Hint, when set, must be contained in string results.
	Hint string
	// Since excludes older events. Zero means the start of the wait.
	Since time.Time
}

// CorrelationObserver receives one observation per wait.
type CorrelationObserver interface {
	ObserveCorrelation(mode string, matched bool, elapsed time.Duration)
}

// Correlator matches buffered and incoming events against pending requests.
type Correlator struct {
	bus      *Bus
	slice    time.Duration
	observer CorrelationObserver
	logger   *zap.Logger
}

// NewCorrelator creates a correlator over b. slice bounds a single sleep and
// is capped at one second.
func NewCorrelator(b *Bus, slice time.Duration, observer CorrelationObserver, logger *zap.Logger) *Correlator {
	if logger == nil {
		logger = zap.NewNop()
	}

	if slice <= 0 || slice > constants.WaitSlice {
		slice = constants.WaitSlice
	}

	return &Correlator{
		bus:      b,
		slice:    slice,
		observer: observer,
		logger:   logger.With(zap.String(logging.FieldComponent, "correlator")),
	}
}

// verdict is the result of matching one event.
type verdict int

const (
	verdictSkip verdict = iota
	verdictMatch
	// verdictAbort ends the wait without a result.
	verdictAbort
)

// WaitForID waits for the reply to the JSON-RPC request q.ID. Only events
// carrying that id can satisfy it; an error reply with that id ends the wait.
func (c *Correlator) WaitForID(ctx context.Context, q Query, timeout time.Duration) (interface{}, bool) {
	return c.wait(ctx, ModeID, q, timeout, func(payload interface{}) (interface{}, verdict) {
		return matchID(payload, q)
	})
}

// WaitForMethod waits for an uncorrelated event answering q.Method. Events
// declaring another method, or replying to another correlated request, are
// ignored; the payload must carry one of q.Keys.
func (c *Correlator) WaitForMethod(ctx context.Context, q Query, timeout time.Duration) (interface{}, bool) {
	return c.wait(ctx, ModeMethod, q, timeout, func(payload interface{}) (interface{}, verdict) {
		return matchMethod(payload, q)
	})
}

func (c *Correlator) wait(
	ctx context.Context,
	mode string,
	q Query,
	timeout time.Duration,
	match func(interface{}) (interface{}, verdict),
) (interface{}, bool) {
	start := time.Now()
	deadline := start.Add(timeout)

	since := q.Since
	if since.IsZero() {
		since = start
	}

	// Cancellation wakes the waiter instead of letting it sleep out its slice.
	stop := context.AfterFunc(ctx, c.bus.broadcast)
	defer stop()

	result, matched := c.scan(ctx, since, deadline, match)

	if c.observer != nil {
		c.observer.ObserveCorrelation(mode, matched, time.Since(start))
	}

	c.logger.Debug("correlation wait finished",
		zap.String(logging.FieldRequestID, q.ID),
		zap.String(logging.FieldMethod, q.Method),
		zap.String(logging.FieldHint, q.Hint),
		zap.Bool("matched", matched),
		zap.Duration(logging.FieldDuration, time.Since(start)))

	return result, matched
}

func (c *Correlator) scan(
	ctx context.Context,
	since, deadline time.Time,
	match func(interface{}) (interface{}, verdict),
) (interface{}, bool) {
	b := c.bus

	b.mu.Lock()
	defer b.mu.Unlock()

	var cursor uint64

	for {
		var (
			result  interface{}
			outcome = verdictSkip
		)

		b.forEachAfterLocked(cursor, func(ev Event) bool {
			cursor = ev.Seq

			if ev.Timestamp.Before(since) {
				return true
			}

			result, outcome = match(ev.Payload)

			return outcome == verdictSkip
		})

		switch outcome {
		case verdictMatch:
			return result, true
		case verdictAbort:
			return nil, false
		case verdictSkip:
		}

		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			return nil, false
		}

		b.waitLocked(min(remaining, c.slice))
	}
}

func matchID(payload interface{}, q Query) (interface{}, verdict) {
	obj, ok := payload.(map[string]interface{})
	if !ok || q.ID == "" || mcp.IDString(obj["id"]) != q.ID {
		return nil, verdictSkip
	}

	if mcp.IsEnvelope(obj) {
		result, hasResult := obj["result"]
		if _, hasError := obj["error"]; hasError && (!hasResult || result == nil) {
			return nil, verdictAbort
		}

		if val, ok := Extract(result, q.Keys, q.Kind, q.Hint); ok {
			return val, verdictMatch
		}

		return nil, verdictSkip
	}

	var body interface{} = obj
	if result, ok := obj["result"]; ok && result != nil {
		body = result
	}

	if val, ok := Extract(body, q.Keys, q.Kind, q.Hint); ok {
		return val, verdictMatch
	}

	return nil, verdictSkip
}

func matchMethod(payload interface{}, q Query) (interface{}, verdict) {
	obj, ok := payload.(map[string]interface{})
	if !ok {
		return nil, verdictSkip
	}

	body := obj
	declared := declaredMethod(obj)

	if mcp.IsEnvelope(obj) {
		if result, ok := obj["result"].(map[string]interface{}); ok {
			body = result

			if declared == "" {
				declared = declaredMethod(result)
			}
		}

		// An undeclared reply to some other correlated request is not ours.
		if declared == "" && !isUncorrelatedID(obj["id"]) {
			return nil, verdictSkip
		}
	}

	if declared != "" && declared != q.Method {
		return nil, verdictSkip
	}

	if val, ok := ExtractKeyed(body, q.Keys, q.Kind, q.Hint); ok {
		return val, verdictMatch
	}

	return nil, verdictSkip
}

func declaredMethod(obj map[string]interface{}) string {
	for _, key := range declaredMethodKeys {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}

	return ""
}

// isUncorrelatedID reports whether an envelope id is absent or the fixed id
// used by generic posts.
func isUncorrelatedID(id interface{}) bool {
	s := mcp.IDString(id)

	return s == "" || s == strconv.Itoa(mcp.GenericID)
}
