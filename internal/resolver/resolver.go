// Package resolver turns loosely typed backend identifiers into concrete targets.
package resolver

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/actual-software/re-bridge/pkg/common/logging"
)

// portPattern matches "port_<digits>" and bare "<digits>" identifiers.
var portPattern = regexp.MustCompile(`^(?:port_)?([0-9]+)$`)

// Target identifies one analysis backend.
type Target struct {
	LogicalID     string `json:"logical_id"               yaml:"logical_id"`
	ResolvedID    string `json:"resolved_id"              yaml:"resolved_id"`
	DirectBaseURL string `json:"direct_base_url,omitempty" yaml:"direct_base_url,omitempty"`
	DisplayName   string `json:"name"                     yaml:"name"`
	Architecture  string `json:"architecture"             yaml:"architecture"`
	BaseAddress   uint64 `json:"base_address"             yaml:"base_address"`
}

// HasDirect reports whether the backend can be reached without the bridge.
func (t Target) HasDirect() bool {
	return t.DirectBaseURL != ""
}

// ID returns the identifier to send to the bridge.
func (t Target) ID() string {
	if t.ResolvedID != "" {
		return t.ResolvedID
	}

	return t.LogicalID
}

// Source fetches the live roster of backends.
type Source interface {
	Roster(ctx context.Context) ([]Target, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]Target, error)

// Roster implements Source.
func (f SourceFunc) Roster(ctx context.Context) ([]Target, error) {
	return f(ctx)
}

// Options configures a Resolver.
type Options struct {
	// StrictMatch disables the single-backend heuristic.
	StrictMatch bool
}

// Resolver resolves identifiers against a cached roster.
type Resolver struct {
	source Source
	strict bool

	mu       sync.RWMutex
	roster   map[string]Target
	order    []string
	loaded   bool
	resolved map[string]Target

	group  singleflight.Group
	logger *zap.Logger
}

// New creates a Resolver. A nil source means no roster is ever fetched.
func New(source Source, opts Options, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Resolver{
		source:   source,
		strict:   opts.StrictMatch,
		roster:   make(map[string]Target),
		resolved: make(map[string]Target),
		logger:   logger.With(zap.String(logging.FieldComponent, "resolver")),
	}
}

// DirectBaseURL derives a direct base URL from an identifier: absolute
// http(s) URLs are used as is without a trailing slash, and "port_<port>" or
// "<port>" map to http://localhost:<port>.
func DirectBaseURL(id string) (string, bool) {
	id = strings.TrimSpace(id)

	if strings.HasPrefix(id, "http://") || strings.HasPrefix(id, "https://") {
		u, err := url.Parse(id)
		if err != nil || u.Host == "" {
			return "", false
		}

		return strings.TrimRight(id, "/"), true
	}

	m := portPattern.FindStringSubmatch(id)
	if m == nil {
		return "", false
	}

	return "http://localhost:" + m[1], true
}

// Resolve resolves id to a target. It never fails: an identifier that cannot
// be matched comes back as is and is not cached.
func (r *Resolver) Resolve(ctx context.Context, id string) Target {
	id = strings.TrimSpace(id)

	if base, ok := DirectBaseURL(id); ok {
		return Target{LogicalID: id, ResolvedID: id, DirectBaseURL: base}
	}

	if t, ok := r.cached(id); ok {
		return t
	}

	if t, ok := r.match(ctx, id); ok {
		return t
	}

	return Target{LogicalID: id, ResolvedID: id}
}

// Canonicalize completes a direct target's roster identity. It is used only
// once a call falls through to the bridge, so direct calls stay off it.
func (r *Resolver) Canonicalize(ctx context.Context, t Target) Target {
	if !t.HasDirect() {
		return t
	}

	if cached, ok := r.cached(t.LogicalID); ok {
		cached.DirectBaseURL = t.DirectBaseURL

		return cached
	}

	matched, ok := r.match(ctx, t.LogicalID)
	if !ok {
		return t
	}

	matched.DirectBaseURL = t.DirectBaseURL

	return matched
}

// Store replaces the cached roster.
func (r *Resolver) Store(targets []Target) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.storeLocked(targets)
}

func (r *Resolver) storeLocked(targets []Target) {
	r.roster = make(map[string]Target, len(targets))
	r.order = r.order[:0]
	r.resolved = make(map[string]Target)

	for _, t := range targets {
		if t.ResolvedID == "" {
			t.ResolvedID = t.LogicalID
		}

		if _, dup := r.roster[t.ResolvedID]; !dup {
			r.order = append(r.order, t.ResolvedID)
		}

		r.roster[t.ResolvedID] = t
	}

	r.loaded = len(r.roster) > 0
}

// Roster returns the cached roster in fetch order.
func (r *Resolver) Roster() []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Target, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.roster[id])
	}

	return out
}

// Refresh refetches the roster from the source.
func (r *Resolver) Refresh(ctx context.Context) ([]Target, error) {
	return r.fetch(ctx, true)
}

// fetch loads the roster, collapsing concurrent fetches into one. Without
// force, a roster loaded while waiting for the flight is reused.
func (r *Resolver) fetch(ctx context.Context, force bool) ([]Target, error) {
	if r.source == nil {
		return nil, nil
	}

	v, err, _ := r.group.Do("roster", func() (interface{}, error) {
		if !force && r.isLoaded() {
			return r.Roster(), nil
		}

		targets, err := r.source.Roster(ctx)
		if err != nil {
			return nil, err
		}

		if len(targets) > 0 {
			r.Store(targets)
		}

		return targets, nil
	})
	if err != nil {
		r.logger.Debug("roster fetch failed", zap.Error(err))

		return nil, err
	}

	targets, _ := v.([]Target)

	return targets, nil
}

func (r *Resolver) cached(id string) (Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.resolved[id]

	return t, ok
}

// match looks id up in the roster, fetching it once if needed, and caches a hit.
func (r *Resolver) match(ctx context.Context, id string) (Target, bool) {
	if !r.isLoaded() {
		_, _ = r.fetch(ctx, false)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) == 0 {
		return Target{}, false
	}

	if t, ok := r.roster[id]; ok {
		t.LogicalID = id
		r.resolved[id] = t

		return t, true
	}

	for _, rid := range r.order {
		if t := r.roster[rid]; t.DisplayName == id {
			t.LogicalID = id
			r.resolved[id] = t

			return t, true
		}
	}

	if r.strict || len(r.order) != 1 {
		return Target{}, false
	}

	t := r.roster[r.order[0]]
	t.LogicalID = id
	r.resolved[id] = t

	r.logger.Warn("identifier not in roster, using the only active backend",
		zap.String(logging.FieldTarget, id),
		zap.String(logging.FieldResolved, t.ResolvedID))

	return t, true
}

func (r *Resolver) isLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.loaded
}
