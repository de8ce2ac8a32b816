// Package logging builds the process logger and expands typed errors into log fields.
package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/actual-software/re-bridge/internal/transport"
	common "github.com/actual-software/re-bridge/pkg/common/config"
	fields "github.com/actual-software/re-bridge/pkg/common/logging"
)

// New builds a logger from configuration. level overrides cfg.Level when set;
// quiet yields a no-op logger.
func New(cfg common.LoggingConfig, level string, quiet bool) (*zap.Logger, error) {
	// If quiet mode is enabled, create a no-op logger.
	if quiet {
		return zap.NewNop(), nil
	}

	if level == "" {
		level = cfg.Level
	}

	if level == "" {
		level = "info"
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoding := cfg.Format
	if encoding == "" {
		encoding = "json"
	}

	if encoding != "json" && encoding != "console" {
		return nil, fmt.Errorf("invalid log format %q", encoding)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg.IncludeCaller {
		encoderConfig.CallerKey = "caller"
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	}

	if cfg.IsFile() {
		return newFileLogger(cfg, zapLevel, encoding, encoderConfig)
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		DisableCaller:    !cfg.IncludeCaller,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{outputOrDefault(cfg.Output)},
		ErrorOutputPaths: []string{"stderr"},
	}

	if cfg.Sampling.Enabled {
		config.Sampling = &zap.SamplingConfig{
			Initial:    cfg.Sampling.Initial,
			Thereafter: cfg.Sampling.Thereafter,
		}
	}

	return config.Build()
}

// newFileLogger writes to a rotating file.
func newFileLogger(
	cfg common.LoggingConfig,
	level zapcore.Level,
	encoding string,
	encoderConfig zapcore.EncoderConfig,
) (*zap.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Output), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	var encoder zapcore.Encoder
	if encoding == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Output,
		MaxSize:    cfg.Rotation.MaxSizeMB,
		MaxBackups: cfg.Rotation.MaxBackups,
		MaxAge:     cfg.Rotation.MaxAgeDays,
		Compress:   cfg.Rotation.Compress,
	})

	core := zapcore.NewCore(encoder, sink, level)

	if cfg.Sampling.Enabled {
		core = zapcore.NewSamplerWithOptions(core, time.Second, cfg.Sampling.Initial, cfg.Sampling.Thereafter)
	}

	opts := []zap.Option{zap.ErrorOutput(zapcore.Lock(os.Stderr))}
	if cfg.IncludeCaller {
		opts = append(opts, zap.AddCaller())
	}

	return zap.New(core, opts...), nil
}

func outputOrDefault(output string) string {
	if output == "" {
		return "stderr"
	}

	return output
}

// WithError adds error context to logger fields.
func WithError(err error) []zap.Field {
	if err == nil {
		return []zap.Field{}
	}

	result := []zap.Field{
		zap.Error(err),
	}

	// Transport errors carry the attempt context.
	var transportErr *transport.Error
	if errors.As(err, &transportErr) {
		result = append(result,
			zap.String(fields.FieldErrorType, transportErr.Type),
			zap.String(fields.FieldTransport, transportErr.Transport),
			zap.Bool(fields.FieldRetryable, transportErr.Retryable),
		)

		if transportErr.URL != "" {
			result = append(result, zap.String(fields.FieldURL, transportErr.URL))
		}

		if transportErr.Status != 0 {
			result = append(result, zap.Int(fields.FieldStatusCode, transportErr.Status))
		}
	}

	return result
}

// Component returns a child logger tagged with the component name.
func Component(logger *zap.Logger, name string) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	return logger.With(zap.String(fields.FieldComponent, name))
}
