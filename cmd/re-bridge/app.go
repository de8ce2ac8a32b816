package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/actual-software/re-bridge/internal/client"
	"github.com/actual-software/re-bridge/internal/config"
	"github.com/actual-software/re-bridge/internal/constants"
	"github.com/actual-software/re-bridge/internal/logging"
	"github.com/actual-software/re-bridge/internal/metrics"
	fields "github.com/actual-software/re-bridge/pkg/common/logging"
)

// application holds everything a subcommand needs.
type application struct {
	cfg      *config.Config
	logger   *zap.Logger
	client   *client.Client
	renderer *renderer
	metrics  *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

// newApplication loads configuration, builds the logger and the client, and
// starts the metrics endpoint when asked to.
func newApplication(cmd *cobra.Command) (*application, error) {
	app := &application{}

	format, err := cmd.Flags().GetString("output")
	if err != nil {
		return nil, fmt.Errorf("failed to get output flag: %w", err)
	}

	app.renderer, err = newRenderer(cmd.OutOrStdout(), format)
	if err != nil {
		return nil, err
	}

	if err := app.initializeConfiguration(cmd); err != nil {
		return nil, err
	}

	if err := app.initializeLogging(cmd); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()

	app.client, err = client.New(app.cfg, client.Options{
		Logger:  app.logger,
		Metrics: metrics.NewRegistry(prometheus.WrapRegistererWith(app.cfg.Metrics.Labels, registry)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	if err := app.startMetricsServer(cmd, registry); err != nil {
		_ = app.client.Close(context.Background())

		return nil, err
	}

	app.ctx, app.cancel = signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)

	return app, nil
}

// initializeConfiguration loads the application configuration.
func (a *application) initializeConfiguration(cmd *cobra.Command) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}

	a.cfg, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	return nil
}

// initializeLogging sets up the logger; the flag wins over the file only when set.
func (a *application) initializeLogging(cmd *cobra.Command) error {
	quiet, err := cmd.Flags().GetBool("quiet")
	if err != nil {
		return fmt.Errorf("failed to get quiet flag: %w", err)
	}

	level := ""
	if cmd.Flags().Changed("log-level") {
		if level, err = cmd.Flags().GetString("log-level"); err != nil {
			return fmt.Errorf("failed to get log-level flag: %w", err)
		}
	}

	logger, err := logging.New(a.cfg.Logging, level, quiet)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.logger = logger.With(
		zap.String(fields.FieldService, fields.ServiceCLI),
		zap.String(fields.FieldVersion, Version),
	)

	return nil
}

func (a *application) startMetricsServer(cmd *cobra.Command, registry *prometheus.Registry) error {
	addr, err := cmd.Flags().GetString("metrics-addr")
	if err != nil {
		return fmt.Errorf("failed to get metrics-addr flag: %w", err)
	}

	if addr == "" && a.cfg.Metrics.Enabled {
		addr = a.cfg.Metrics.Endpoint
	}

	if addr == "" {
		return nil
	}

	path := a.cfg.Metrics.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	a.metrics = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		a.logger.Info("Starting metrics server", zap.String("addr", addr), zap.String("path", path))

		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	return nil
}

// Close stops the client and the metrics server.
func (a *application) Close() {
	if a.cancel != nil {
		a.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.MetricsShutdownTimeout)
	defer cancel()

	if a.metrics != nil {
		if err := a.metrics.Shutdown(ctx); err != nil {
			a.logger.Warn("Failed to stop metrics server", zap.Error(err))
		}
	}

	if err := a.client.Close(ctx); err != nil {
		a.logger.Warn("Failed to close client", zap.Error(err))
	}

	// Logger sync errors are typically not critical at shutdown.
	_ = a.logger.Sync()
}

// withApplication wraps a subcommand body with application setup and teardown.
func withApplication(fn func(app *application, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := newApplication(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		return fn(app, args)
	}
}
