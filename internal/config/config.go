// Package config provides configuration management for hlssplit using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable override.
const EnvPrefix = "HLSSPLIT"

// Default configuration values.
const (
	defaultBaseURL        = "https://openapi.safie.link"
	defaultAuthHeader     = "Safie-API-Key"
	defaultBackend        = "native"
	defaultMaxReload      = 2
	defaultReadTimeout    = 8 * time.Second
	defaultReconnectDelay = time.Second
	defaultHTTPTimeout    = 30 * time.Second
	defaultRetryAttempts  = 2
	defaultRetryDelay     = 500 * time.Millisecond
	defaultDuration       = 60 * time.Second
	defaultContainer      = "mp4"
	defaultNaming         = "timestamp"
	defaultZoneOffset     = 9 * time.Hour
	defaultFragmentSize   = 300
	maxZoneOffset         = 14 * time.Hour
)

// Config holds all configuration for the application.
type Config struct {
	Source  SourceConfig  `mapstructure:"source"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Segment SegmentConfig `mapstructure:"segment"`
	Logging LoggingConfig `mapstructure:"logging"`
	Status  StatusConfig  `mapstructure:"status"`
}

// SourceConfig describes where the live stream comes from.
type SourceConfig struct {
	// URL is a full playlist URL. When set, BaseURL and DeviceID are ignored.
	URL      string `mapstructure:"url"`
	BaseURL  string `mapstructure:"base_url"`
	DeviceID string `mapstructure:"device_id"`

	APIKey      string `mapstructure:"api_key" masq:"secret"`
	AccessToken string `mapstructure:"access_token" masq:"secret"`
	AuthHeader  string `mapstructure:"auth_header"`

	Backend        string        `mapstructure:"backend"` // native, gohlslib
	MaxReload      int           `mapstructure:"max_reload"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

// HTTPConfig tunes the playlist and segment fetcher.
type HTTPConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// SegmentConfig controls how the stream is cut and written.
type SegmentConfig struct {
	Duration           time.Duration `mapstructure:"duration"`
	Container          string        `mapstructure:"container"` // mp4, ts
	Naming             string        `mapstructure:"naming"`    // timestamp, sequence
	TimeZoneOffset     time.Duration `mapstructure:"time_zone_offset"`
	OutputDir          string        `mapstructure:"output_dir"`
	Index              bool          `mapstructure:"index"`
	MaxFragmentSamples int           `mapstructure:"max_fragment_samples"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// StatusConfig configures the optional status HTTP server.
type StatusConfig struct {
	// Addr is the listen address. Empty disables the server.
	Addr string `mapstructure:"addr"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with HLSSPLIT_ and use underscores for
// nesting, e.g. HLSSPLIT_SEGMENT_DURATION=30s. SAFIE_API_KEY and
// SAFIE_ACCESS_TOKEN are accepted for the credentials.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	if err := Configure(v, configPath); err != nil {
		return nil, err
	}
	return Unmarshal(v)
}

// Configure installs defaults, the config file location and the environment
// bindings on v, then reads the config file if one is found.
func Configure(v *viper.Viper, configPath string) error {
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("hlssplit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/hlssplit")
		v.AddConfigPath("/etc/hlssplit")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := bindEnvAliases(v); err != nil {
		return err
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}
	return nil
}

// Unmarshal decodes and validates the settings held by v.
func Unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if cfg.Logging.Level == "warning" {
		cfg.Logging.Level = "warn"
	}
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// bindEnvAliases lets the credentials come from the variables the Safie
// samples use, in addition to the prefixed names.
func bindEnvAliases(v *viper.Viper) error {
	aliases := map[string]string{
		"source.api_key":      "SAFIE_API_KEY",
		"source.access_token": "SAFIE_ACCESS_TOKEN",
	}
	for key, alias := range aliases {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, alias); err != nil {
			return fmt.Errorf("binding %s: %w", key, err)
		}
	}
	return nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Source defaults
	v.SetDefault("source.url", "")
	v.SetDefault("source.base_url", defaultBaseURL)
	v.SetDefault("source.device_id", "")
	v.SetDefault("source.api_key", "")
	v.SetDefault("source.access_token", "")
	v.SetDefault("source.auth_header", defaultAuthHeader)
	v.SetDefault("source.backend", defaultBackend)
	v.SetDefault("source.max_reload", defaultMaxReload)
	v.SetDefault("source.read_timeout", defaultReadTimeout)
	v.SetDefault("source.reconnect_delay", defaultReconnectDelay)

	// HTTP defaults
	v.SetDefault("http.timeout", defaultHTTPTimeout)
	v.SetDefault("http.retry_attempts", defaultRetryAttempts)
	v.SetDefault("http.retry_delay", defaultRetryDelay)

	// Segment defaults
	v.SetDefault("segment.duration", defaultDuration)
	v.SetDefault("segment.container", defaultContainer)
	v.SetDefault("segment.naming", defaultNaming)
	v.SetDefault("segment.time_zone_offset", defaultZoneOffset)
	v.SetDefault("segment.output_dir", ".")
	v.SetDefault("segment.index", false)
	v.SetDefault("segment.max_fragment_samples", defaultFragmentSize)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", "")

	// Status defaults
	v.SetDefault("status.addr", "")
}

// Validate checks the configuration for errors. It does not require a
// stream target; see SourceConfig.Validate.
func (c *Config) Validate() error {
	// Source validation
	validBackends := map[string]bool{"native": true, "gohlslib": true}
	if !validBackends[c.Source.Backend] {
		return fmt.Errorf("source.backend must be one of: native, gohlslib")
	}
	if c.Source.MaxReload < 0 {
		return fmt.Errorf("source.max_reload must not be negative")
	}
	if c.Source.ReadTimeout <= 0 {
		return fmt.Errorf("source.read_timeout must be positive")
	}
	if c.Source.ReconnectDelay < 0 {
		return fmt.Errorf("source.reconnect_delay must not be negative")
	}

	// HTTP validation
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be positive")
	}
	if c.HTTP.RetryAttempts < 0 {
		return fmt.Errorf("http.retry_attempts must not be negative")
	}

	// Segment validation
	if c.Segment.Duration <= 0 {
		return fmt.Errorf("segment.duration must be positive")
	}
	validContainers := map[string]bool{"mp4": true, "ts": true}
	if !validContainers[c.Segment.Container] {
		return fmt.Errorf("segment.container must be one of: mp4, ts")
	}
	validNaming := map[string]bool{"timestamp": true, "sequence": true}
	if !validNaming[c.Segment.Naming] {
		return fmt.Errorf("segment.naming must be one of: timestamp, sequence")
	}
	if c.Segment.TimeZoneOffset < -maxZoneOffset || c.Segment.TimeZoneOffset > maxZoneOffset {
		return fmt.Errorf("segment.time_zone_offset must be within +/-%s", maxZoneOffset)
	}
	if c.Segment.OutputDir == "" {
		return fmt.Errorf("segment.output_dir is required")
	}
	if c.Segment.Index && c.Segment.Container != "ts" {
		return fmt.Errorf("segment.index requires segment.container ts")
	}
	if c.Segment.MaxFragmentSamples < 1 {
		return fmt.Errorf("segment.max_fragment_samples must be at least 1")
	}

	// Logging validation
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Validate checks that a stream target and, for device playlists,
// credentials are present.
func (c *SourceConfig) Validate() error {
	if c.URL != "" {
		u, err := url.Parse(c.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("source.url must be an absolute http(s) URL")
		}
		return nil
	}
	if c.DeviceID == "" {
		return fmt.Errorf("source.device_id or source.url is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.APIKey == "" && c.AccessToken == "" {
		return fmt.Errorf("source.api_key or source.access_token is required")
	}
	return nil
}
