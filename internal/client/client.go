// Package client orchestrates calls to analysis backends across the direct,
// bridge and REST transports, degrading to static data when none answers.
//
// A Client owns its resolver, event bus and caches. Several clients may
// coexist in one process, each addressing its own bridge.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/actual-software/re-bridge/internal/circuit"
	"github.com/actual-software/re-bridge/internal/config"
	"github.com/actual-software/re-bridge/internal/eventbus"
	"github.com/actual-software/re-bridge/internal/logging"
	"github.com/actual-software/re-bridge/internal/metrics"
	"github.com/actual-software/re-bridge/internal/resolver"
	"github.com/actual-software/re-bridge/internal/transport"
)

// ErrExhausted is returned when every transport was tried without a usable result.
var ErrExhausted = errors.New("all transports exhausted without a result")

// Options carries the collaborators of a Client. Zero values are valid.
type Options struct {
	Logger *zap.Logger
	// Metrics may be nil.
	Metrics *metrics.Registry
	// HTTPClient is used for request/response calls; the event stream always
	// uses a client without a timeout.
	HTTPClient *http.Client
}

// Client is the entry point for all backend operations.
type Client struct {
	cfg        *config.Config
	direct     *transport.HTTP
	rest       *transport.HTTP
	bridge     *transport.Bridge
	bus        *eventbus.Bus
	correlator *eventbus.Correlator
	resolver   *resolver.Resolver
	breakers   *circuit.Set
	cache      *resultCache
	metrics    *metrics.Registry
	logger     *zap.Logger
	newID      func() string
}

// New creates a Client from configuration. A nil cfg uses the defaults, which
// leave the bridge unset (offline mode).
func New(cfg *config.Config, opts Options) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cache, err := newResultCache(cfg.Cache, opts.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}

	httpOpts := transport.HTTPOptions{
		Client:        opts.HTTPClient,
		UserAgent:     cfg.Bridge.UserAgent,
		PreviewLength: cfg.Bridge.PreviewLength,
		Observer:      opts.Metrics,
	}

	direct := transport.NewHTTP(transport.TransportDirect, httpOpts, logger)
	bridgeHTTP := transport.NewHTTP(transport.TransportBridge, httpOpts, logger)

	bus := eventbus.New(eventbus.Options{
		BaseURL:        cfg.Bridge.BaseURL,
		StreamPath:     cfg.Events.StreamPath,
		Capacity:       cfg.Events.Capacity,
		ReconnectDelay: cfg.Events.ReconnectDelay,
		Recorder:       opts.Metrics,
	}, logger)

	c := &Client{
		cfg:        cfg,
		direct:     direct,
		rest:       transport.NewHTTP(transport.TransportREST, httpOpts, logger),
		bridge:     transport.NewBridge(cfg.Bridge.BaseURL, cfg.Bridge.MessagePath, cfg.Bridge.RequestTimeout, bridgeHTTP, logger),
		bus:        bus,
		correlator: eventbus.NewCorrelator(bus, cfg.Correlation.WaitSlice, opts.Metrics, logger),
		cache:      cache,
		metrics:    opts.Metrics,
		logger:     logging.Component(logger, "client"),
		newID:      uuid.NewString,
	}

	c.breakers = circuit.NewSet(cfg.Circuit, func(name string, from, to circuit.State) {
		c.metrics.SetCircuitState(name, int(to))
		c.logger.Info("circuit breaker state changed",
			zap.String("stage", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	})

	c.resolver = resolver.New(resolver.SourceFunc(c.liveRoster), resolver.Options{
		StrictMatch: cfg.Resolver.StrictMatch,
	}, logger)

	return c, nil
}

// Offline reports whether no bridge is configured.
func (c *Client) Offline() bool {
	return !c.bridge.Configured()
}

// Resolver exposes the client's resolver.
func (c *Client) Resolver() *resolver.Resolver {
	return c.resolver
}

// Events exposes the client's event bus.
func (c *Client) Events() *eventbus.Bus {
	return c.bus
}

// Breakers exposes the per-stage circuit breakers.
func (c *Client) Breakers() *circuit.Set {
	return c.breakers
}

// Close stops the event stream reader and releases the cache.
func (c *Client) Close(ctx context.Context) error {
	var errs []error

	if err := c.bus.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := c.cache.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
