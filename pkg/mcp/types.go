// Package mcp holds the JSON-RPC 2.0 message shapes spoken by the analysis bridge.
package mcp

import (
	"fmt"
	"strconv"
)

// Version is the only JSON-RPC version the bridge speaks.
const Version = "2.0"

// GenericID is the fixed id carried by uncorrelated JSON-RPC shaped posts.
const GenericID = 1

// Request represents a JSON-RPC request posted to the bridge.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      interface{} `json:"id,omitempty"`
}

// Response is the decoded form of a JSON-RPC reply envelope.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}

// NewRequest creates a new JSON-RPC request.
func NewRequest(method string, params, id interface{}) *Request {
	if params == nil {
		params = map[string]interface{}{}
	}

	return &Request{
		JSONRPC: Version,
		Method:  method,
		Params:  params,
		ID:      id,
	}
}

// IsEnvelope reports whether a decoded JSON object is a JSON-RPC 2.0 envelope.
func IsEnvelope(obj map[string]interface{}) bool {
	v, ok := obj["jsonrpc"].(string)

	return ok && v == Version
}

// IDString renders a decoded JSON-RPC id for comparison. Numeric ids decoded by
// encoding/json arrive as float64 and are rendered without a fractional part.
func IDString(id interface{}) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
