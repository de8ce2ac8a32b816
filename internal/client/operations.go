package client

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/actual-software/re-bridge/internal/eventbus"
	"github.com/actual-software/re-bridge/internal/resolver"
	fields "github.com/actual-software/re-bridge/pkg/common/logging"
)

// Operation names, used as metric labels.
const (
	OpListBinaries    = "list_binaries"
	OpDecompile       = "decompile_function"
	OpListFunctions   = "list_functions"
	OpCompareBinaries = "compare_binaries"
	OpSearchFunctions = "search_functions"
)

// targetParam is the method parameter carrying the backend id.
const targetParam = "binary_id"

var (
	listServerMethods = []string{"list_binary_servers", "list_binja_servers", "list_binja_servers_smart-diff"}
	listServerKeys    = []string{"servers", "binaries", "list"}

	decompileKeys       = []string{"decompiled", "decompiled_code", "code", "text"}
	listFunctionMethods = []string{
		"list_binary_functions_smart-diff", "list_binary_functions_smart_diff", "list_functions", "list_binary_functions",
	}
	listFunctionKeys       = []string{"functions", "names", "symbols"}
	directListFunctionKeys = []string{"functions", "methods", "names"}
)

// ListBinaries returns the active backends and the source that listed them.
// Without any transport it returns the static roster.
func (c *Client) ListBinaries(ctx context.Context) ([]resolver.Target, string) {
	res, _ := c.Call(ctx, c.listBinariesRequest(staticRoster()))

	targets, _ := res.Value.([]resolver.Target)

	if res.Source != SourceStatic && len(targets) > 0 {
		c.resolver.Store(targets)
	}

	return targets, res.Source
}

// liveRoster lists backends without the static fallback. It feeds the resolver.
func (c *Client) liveRoster(ctx context.Context) ([]resolver.Target, error) {
	if c.Offline() {
		return nil, nil
	}

	res, ok := c.Call(ctx, c.listBinariesRequest(nil))
	if !ok {
		return nil, ErrExhausted
	}

	targets, _ := res.Value.([]resolver.Target)

	return targets, nil
}

func (c *Client) listBinariesRequest(fallback []resolver.Target) CallRequest {
	methods := make([]MethodCall, 0, len(listServerMethods))
	for _, name := range listServerMethods {
		methods = append(methods, MethodCall{Name: name})
	}

	req := CallRequest{
		Operation: OpListBinaries,
		Methods:   methods,
		REST: []RESTRequest{
			{Path: "servers"},
			{Path: "list_binja_servers"},
			{Path: "api/servers"},
		},
		Keys:   listServerKeys,
		Kind:   eventbus.KindList,
		Accept: rosterTargets,
	}

	if fallback != nil {
		req.Fallback = fallback
	}

	return req
}

// DecompileFunction returns the decompiled source of fn in the backend
// binaryID. ok is false when no transport produced it.
func (c *Client) DecompileFunction(ctx context.Context, binaryID, fn string) (string, bool) {
	key := cacheKey(OpDecompile, binaryID, fn)
	if code, ok := c.cache.Get(key); ok {
		return code, true
	}

	res, ok := c.Call(ctx, CallRequest{
		Operation:   OpDecompile,
		Target:      binaryID,
		TargetParam: targetParam,
		Direct: &DirectRequest{
			Path:  "/decompile",
			Query: url.Values{"name": {fn}},
			Body:  map[string]interface{}{"name": fn},
		},
		Methods: []MethodCall{
			{Name: "decompile_binary_function_smart-diff", Params: map[string]interface{}{"function_name": fn}},
			{Name: "decompile_binary_function_smart_diff", Params: map[string]interface{}{"function_name": fn}},
			{Name: "decompile_binary_function", Params: map[string]interface{}{"function_name": fn}},
			{Name: "decompile", Params: map[string]interface{}{"function": fn}},
		},
		REST: []RESTRequest{
			{Path: "binaries/" + url.PathEscape(binaryID) + "/decompile", Query: url.Values{"function": {fn}}, Text: true},
			{Path: url.PathEscape(binaryID) + "/decompile", Query: url.Values{"function": {fn}}, Text: true},
			{Path: "decompile", Query: url.Values{"binary_id": {binaryID}, "function": {fn}}, Text: true},
		},
		Keys: decompileKeys,
		Kind: eventbus.KindString,
		Hint: fn,
	})
	if !ok {
		c.logger.Info("could not decompile function",
			zap.String(fields.FieldTarget, binaryID),
			zap.String("function", fn))

		return "", false
	}

	code, _ := res.Value.(string)
	c.cache.Set(key, code)

	return code, true
}

// ListFunctions returns the function names of binaryID, optionally filtered by
// a case-insensitive search term, and the source that listed them.
func (c *Client) ListFunctions(ctx context.Context, binaryID, search string) ([]string, string) {
	params := map[string]interface{}{}
	if search != "" {
		params["search"] = search
	}

	methods := make([]MethodCall, 0, len(listFunctionMethods))
	for _, name := range listFunctionMethods {
		methods = append(methods, MethodCall{Name: name, Params: params})
	}

	var query url.Values
	if search != "" {
		query = url.Values{"search": {search}}
	}

	res, _ := c.Call(ctx, CallRequest{
		Operation:   OpListFunctions,
		Target:      binaryID,
		TargetParam: targetParam,
		Direct:      &DirectRequest{Path: "/functions", Keys: directListFunctionKeys},
		Methods:     methods,
		REST: []RESTRequest{
			{Path: "binaries/" + url.PathEscape(binaryID) + "/functions", Query: query},
			{Path: url.PathEscape(binaryID) + "/functions", Query: query},
		},
		Keys:     listFunctionKeys,
		Kind:     eventbus.KindList,
		Accept:   functionNames,
		Fallback: filterNames(staticFunctions, search),
	})

	names, _ := res.Value.([]string)

	// Direct backends do not take the search term.
	if res.Source == SourceDirect {
		names = filterNames(names, search)
	}

	return names, res.Source
}

// CompareBinaries asks the bridge to compare two backends and returns the
// comparison id.
func (c *Client) CompareBinaries(ctx context.Context, a, b string, threshold float64, useDecompiled bool) (string, error) {
	ta := c.resolver.Resolve(ctx, a)
	tb := c.resolver.Resolve(ctx, b)

	v, err := c.Invoke(ctx, OpCompareBinaries, map[string]interface{}{
		"binary_a_id":          ta.ID(),
		"binary_b_id":          tb.ID(),
		"similarity_threshold": threshold,
		"use_decompiled_code":  useDecompiled,
	}, "comparison_id")
	if err != nil {
		return "", err
	}

	id, _ := v.(string)

	return strings.TrimSpace(id), nil
}

// SearchFunctions searches function names across a comparison.
func (c *Client) SearchFunctions(ctx context.Context, comparisonID, query string, fuzzy bool, maxResults int) ([]string, error) {
	res, ok := c.Call(ctx, CallRequest{
		Operation: OpSearchFunctions,
		Methods: []MethodCall{{Name: "search_binary_functions", Params: map[string]interface{}{
			"comparison_id": comparisonID,
			"query":         query,
			"fuzzy":         fuzzy,
			"max_results":   maxResults,
		}}},
		Keys:   []string{"matches"},
		Kind:   eventbus.KindList,
		Accept: functionNames,
	})
	if !ok {
		return nil, ErrExhausted
	}

	names, _ := res.Value.([]string)

	return names, nil
}
