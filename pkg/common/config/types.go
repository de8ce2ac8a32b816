// Package config provides configuration types shared by the re-bridge packages.
package config

import "time"

// LoggingConfig represents standardized logging configuration.
type LoggingConfig struct {
	Level         string         `mapstructure:"level"  yaml:"level"`  // debug, info, warn, error
	Format        string         `mapstructure:"format" yaml:"format"` // json, console
	Output        string         `mapstructure:"output" yaml:"output"` // stdout, stderr, file path
	IncludeCaller bool           `mapstructure:"include_caller" yaml:"include_caller"`
	Sampling      SamplingConfig `mapstructure:"sampling" yaml:"sampling"`
	Rotation      RotationConfig `mapstructure:"rotation" yaml:"rotation"` // Only used for file outputs
}

// SamplingConfig represents standardized log sampling configuration.
type SamplingConfig struct {
	Enabled    bool `mapstructure:"enabled"    yaml:"enabled"`
	Initial    int  `mapstructure:"initial"    yaml:"initial"`
	Thereafter int  `mapstructure:"thereafter" yaml:"thereafter"`
}

// RotationConfig controls rotation of file log outputs.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool `mapstructure:"compress"    yaml:"compress"`
}

// MetricsConfig represents standardized metrics configuration.
type MetricsConfig struct {
	Enabled  bool              `mapstructure:"enabled"  yaml:"enabled"`
	Endpoint string            `mapstructure:"endpoint" yaml:"endpoint"` // Host:port for metrics endpoint
	Path     string            `mapstructure:"path"     yaml:"path"`     // URL path for metrics (default: /metrics)
	Labels   map[string]string `mapstructure:"labels"   yaml:"labels"`   // Additional constant labels
}

// CircuitBreakerConfig represents standardized circuit breaker configuration.
type CircuitBreakerConfig struct {
	Enabled          bool `mapstructure:"enabled"           yaml:"enabled"`
	FailureThreshold int  `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold int  `mapstructure:"success_threshold" yaml:"success_threshold"`
	TimeoutSeconds   int  `mapstructure:"timeout_seconds"   yaml:"timeout_seconds"`
}

// GetTimeout returns how long an open circuit stays open.
func (c *CircuitBreakerConfig) GetTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// IsFile reports whether the logging output is a file path rather than a standard stream.
func (c *LoggingConfig) IsFile() bool {
	switch c.Output {
	case "", "stdout", "stderr":
		return false
	default:
		return true
	}
}
