// Package config loads re-bridge configuration from file, environment and defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/actual-software/re-bridge/internal/constants"
	common "github.com/actual-software/re-bridge/pkg/common/config"
)

// Environment variables historically used to point tools at the bridge.
const (
	EnvBaseURL          = "BN_MCP_BASE_URL"
	EnvSmartDiffBaseURL = "SMART_DIFF_BASE_URL"
)

// Config is the complete client configuration.
type Config struct {
	Bridge      BridgeConfig                `mapstructure:"bridge"      yaml:"bridge"`
	Direct      DirectConfig                `mapstructure:"direct"      yaml:"direct"`
	REST        RESTConfig                  `mapstructure:"rest"        yaml:"rest"`
	Events      EventsConfig                `mapstructure:"events"      yaml:"events"`
	Correlation CorrelationConfig           `mapstructure:"correlation" yaml:"correlation"`
	Resolver    ResolverConfig              `mapstructure:"resolver"    yaml:"resolver"`
	Circuit     common.CircuitBreakerConfig `mapstructure:"circuit"     yaml:"circuit"`
	Cache       CacheConfig                 `mapstructure:"cache"       yaml:"cache"`
	Logging     common.LoggingConfig        `mapstructure:"logging"     yaml:"logging"`
	Metrics     common.MetricsConfig        `mapstructure:"metrics"     yaml:"metrics"`
}

// BridgeConfig selects the shared bridge. An empty BaseURL means offline mode.
type BridgeConfig struct {
	BaseURL        string        `mapstructure:"base_url"        yaml:"base_url"`
	MessagePath    string        `mapstructure:"message_path"    yaml:"message_path"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"      yaml:"user_agent"`
	PreviewLength  int           `mapstructure:"preview_length"  yaml:"preview_length"`
}

// DirectConfig controls calls that bypass the bridge.
type DirectConfig struct {
	GetTimeout  time.Duration `mapstructure:"get_timeout"  yaml:"get_timeout"`
	PostTimeout time.Duration `mapstructure:"post_timeout" yaml:"post_timeout"`
}

// RESTConfig controls the conventional-path fallback.
type RESTConfig struct {
	JSONTimeout time.Duration `mapstructure:"json_timeout" yaml:"json_timeout"`
	TextTimeout time.Duration `mapstructure:"text_timeout" yaml:"text_timeout"`
}

// EventsConfig controls the event stream reader and its buffer.
type EventsConfig struct {
	StreamPath     string        `mapstructure:"stream_path"     yaml:"stream_path"`
	Capacity       int           `mapstructure:"capacity"        yaml:"capacity"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
}

// CorrelationConfig bounds how long calls wait on the event stream.
type CorrelationConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"      yaml:"timeout"`
	ScanTimeout time.Duration `mapstructure:"scan_timeout" yaml:"scan_timeout"`
	WaitSlice   time.Duration `mapstructure:"wait_slice"   yaml:"wait_slice"`
}

// ResolverConfig controls logical id resolution.
type ResolverConfig struct {
	// StrictMatch disables the single-backend heuristic.
	StrictMatch bool `mapstructure:"strict_match" yaml:"strict_match"`
}

// CacheConfig controls the decompile result cache.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"     yaml:"ttl"`
}

// Offline reports whether no bridge is configured.
func (c *Config) Offline() bool {
	return c.Bridge.BaseURL == ""
}

// Load loads configuration from file or environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)
	setupViperConfig(v, configPath)
	setupViperEnvironment(v)

	if err := bindEnvironmentVariables(v); err != nil {
		return nil, err
	}

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	return unmarshalAndValidateConfig(v)
}

// Default returns the configuration used when nothing is loaded.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults are static and always decode.
	_ = v.Unmarshal(&cfg)

	return &cfg
}

func setupViperConfig(v *viper.Viper, configPath string) {
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")

		return
	}

	v.SetConfigName("re-bridge")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/re-bridge")
	v.AddConfigPath("/etc/re-bridge")
}

func setupViperEnvironment(v *viper.Viper) {
	v.SetEnvPrefix("RE_BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func bindEnvironmentVariables(v *viper.Viper) error {
	envBindings := map[string][]string{
		"bridge.base_url":       {"RE_BRIDGE_BRIDGE_BASE_URL", EnvBaseURL, EnvSmartDiffBaseURL},
		"logging.level":         {"RE_BRIDGE_LOGGING_LEVEL"},
		"resolver.strict_match": {"RE_BRIDGE_RESOLVER_STRICT_MATCH"},
	}

	for key, envVars := range envBindings {
		if err := v.BindEnv(append([]string{key}, envVars...)...); err != nil {
			return fmt.Errorf("failed to bind environment variables for %s: %w", key, err)
		}
	}

	return nil
}

func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine when searching; an explicit path must exist.
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && configPath == "" {
			return nil
		}

		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

func unmarshalAndValidateConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Bridge.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Bridge.BaseURL), "/")

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bridge.base_url", "")
	v.SetDefault("bridge.message_path", constants.MessagePath)
	v.SetDefault("bridge.request_timeout", constants.BridgeRequestTimeout)
	v.SetDefault("bridge.user_agent", "re-bridge/1.0")
	v.SetDefault("bridge.preview_length", constants.BodyPreviewLength)

	v.SetDefault("direct.get_timeout", constants.DirectGetTimeout)
	v.SetDefault("direct.post_timeout", constants.DirectPostTimeout)

	v.SetDefault("rest.json_timeout", constants.RESTJSONTimeout)
	v.SetDefault("rest.text_timeout", constants.RESTTextTimeout)

	v.SetDefault("events.stream_path", constants.StreamPath)
	v.SetDefault("events.capacity", constants.EventBufferCapacity)
	v.SetDefault("events.reconnect_delay", constants.StreamReconnectDelay)

	v.SetDefault("correlation.timeout", constants.CorrelationTimeout)
	v.SetDefault("correlation.scan_timeout", constants.MethodScanTimeout)
	v.SetDefault("correlation.wait_slice", constants.WaitSlice)

	v.SetDefault("resolver.strict_match", false)

	v.SetDefault("circuit.enabled", true)
	v.SetDefault("circuit.failure_threshold", constants.DefaultFailureThreshold)
	v.SetDefault("circuit.success_threshold", constants.DefaultSuccessThreshold)
	v.SetDefault("circuit.timeout_seconds", int(constants.DefaultOpenTimeout/time.Second))

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", constants.DefaultCacheTTL)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.rotation.max_size_mb", 50)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age_days", 14)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.path", "/metrics")
}

func validate(cfg *Config) error {
	if cfg.Bridge.BaseURL != "" {
		u, err := url.Parse(cfg.Bridge.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("bridge.base_url must be an absolute http(s) URL, got %q", cfg.Bridge.BaseURL)
		}
	}

	if cfg.Events.Capacity <= 0 {
		return errors.New("events.capacity must be positive")
	}

	if cfg.Events.ReconnectDelay <= 0 {
		return errors.New("events.reconnect_delay must be positive")
	}

	if cfg.Correlation.Timeout <= 0 || cfg.Correlation.ScanTimeout <= 0 {
		return errors.New("correlation timeouts must be positive")
	}

	if cfg.Correlation.WaitSlice <= 0 || cfg.Correlation.WaitSlice > constants.WaitSlice {
		return fmt.Errorf("correlation.wait_slice must be in (0, %s]", constants.WaitSlice)
	}

	if cfg.Circuit.Enabled && cfg.Circuit.FailureThreshold <= 0 {
		return errors.New("circuit.failure_threshold must be positive when the circuit is enabled")
	}

	return nil
}
