package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		Source: SourceConfig{
			BaseURL:     defaultBaseURL,
			DeviceID:    "dev-1",
			APIKey:      "key",
			AuthHeader:  defaultAuthHeader,
			Backend:     "native",
			MaxReload:   2,
			ReadTimeout: 8 * time.Second,
		},
		HTTP: HTTPConfig{Timeout: 30 * time.Second, RetryAttempts: 2},
		Segment: SegmentConfig{
			Duration:           time.Minute,
			Container:          "mp4",
			Naming:             "timestamp",
			TimeZoneOffset:     9 * time.Hour,
			OutputDir:          ".",
			MaxFragmentSamples: 300,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Source defaults
	assert.Equal(t, "https://openapi.safie.link", cfg.Source.BaseURL)
	assert.Equal(t, "Safie-API-Key", cfg.Source.AuthHeader)
	assert.Equal(t, "native", cfg.Source.Backend)
	assert.Equal(t, 2, cfg.Source.MaxReload)
	assert.Equal(t, 8*time.Second, cfg.Source.ReadTimeout)
	assert.Equal(t, time.Second, cfg.Source.ReconnectDelay)

	// HTTP defaults
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 2, cfg.HTTP.RetryAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.HTTP.RetryDelay)

	// Segment defaults
	assert.Equal(t, 60*time.Second, cfg.Segment.Duration)
	assert.Equal(t, "mp4", cfg.Segment.Container)
	assert.Equal(t, "timestamp", cfg.Segment.Naming)
	assert.Equal(t, 9*time.Hour, cfg.Segment.TimeZoneOffset)
	assert.Equal(t, ".", cfg.Segment.OutputDir)
	assert.False(t, cfg.Segment.Index)
	assert.Equal(t, 300, cfg.Segment.MaxFragmentSamples)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)

	assert.Empty(t, cfg.Status.Addr)
}

func TestLoad_FromFile(t *testing.T) {
	configContent := `
source:
  device_id: cam-42
  api_key: from-file
  backend: gohlslib
  max_reload: 5
  read_timeout: 3s
segment:
  duration: 10m
  container: ts
  naming: sequence
  time_zone_offset: -5h
  output_dir: /var/recordings
  index: true
logging:
  level: DEBUG
  format: json
status:
  addr: 127.0.0.1:9090
`
	configPath := filepath.Join(t.TempDir(), "hlssplit.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o600))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "cam-42", cfg.Source.DeviceID)
	assert.Equal(t, "from-file", cfg.Source.APIKey)
	assert.Equal(t, "gohlslib", cfg.Source.Backend)
	assert.Equal(t, 5, cfg.Source.MaxReload)
	assert.Equal(t, 3*time.Second, cfg.Source.ReadTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Segment.Duration)
	assert.Equal(t, "ts", cfg.Segment.Container)
	assert.Equal(t, "sequence", cfg.Segment.Naming)
	assert.Equal(t, -5*time.Hour, cfg.Segment.TimeZoneOffset)
	assert.Equal(t, "/var/recordings", cfg.Segment.OutputDir)
	assert.True(t, cfg.Segment.Index)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "127.0.0.1:9090", cfg.Status.Addr)

	// Unset keys keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("HLSSPLIT_SEGMENT_DURATION", "30s")
	t.Setenv("HLSSPLIT_SEGMENT_CONTAINER", "ts")
	t.Setenv("HLSSPLIT_SOURCE_DEVICE_ID", "env-device")
	t.Setenv("HLSSPLIT_LOGGING_LEVEL", "warning")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Segment.Duration)
	assert.Equal(t, "ts", cfg.Segment.Container)
	assert.Equal(t, "env-device", cfg.Source.DeviceID)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_CredentialAliases(t *testing.T) {
	t.Setenv("SAFIE_API_KEY", "alias-key")
	t.Setenv("SAFIE_ACCESS_TOKEN", "alias-token")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "alias-key", cfg.Source.APIKey)
	assert.Equal(t, "alias-token", cfg.Source.AccessToken)
}

func TestLoad_PrefixedCredentialWins(t *testing.T) {
	t.Setenv("SAFIE_API_KEY", "alias-key")
	t.Setenv("HLSSPLIT_SOURCE_API_KEY", "prefixed-key")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "prefixed-key", cfg.Source.APIKey)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "hlssplit.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("segment:\n  duration: 5m\n"), 0o600))
	t.Setenv("HLSSPLIT_SEGMENT_DURATION", "90s")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Segment.Duration)
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "hlssplit.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("segment: [unclosed"), 0o600))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_RejectsZeroDuration(t *testing.T) {
	t.Setenv("HLSSPLIT_SEGMENT_DURATION", "0s")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "segment.duration")
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validTestConfig().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"negative duration", func(c *Config) { c.Segment.Duration = -time.Second }, "segment.duration"},
		{"unknown container", func(c *Config) { c.Segment.Container = "mkv" }, "segment.container"},
		{"unknown naming", func(c *Config) { c.Segment.Naming = "random" }, "segment.naming"},
		{"offset too large", func(c *Config) { c.Segment.TimeZoneOffset = 15 * time.Hour }, "time_zone_offset"},
		{"empty output dir", func(c *Config) { c.Segment.OutputDir = "" }, "output_dir"},
		{"index needs ts", func(c *Config) { c.Segment.Index = true }, "segment.index"},
		{"fragment size", func(c *Config) { c.Segment.MaxFragmentSamples = 0 }, "max_fragment_samples"},
		{"unknown backend", func(c *Config) { c.Source.Backend = "ffmpeg" }, "source.backend"},
		{"negative max reload", func(c *Config) { c.Source.MaxReload = -1 }, "max_reload"},
		{"zero read timeout", func(c *Config) { c.Source.ReadTimeout = 0 }, "read_timeout"},
		{"zero http timeout", func(c *Config) { c.HTTP.Timeout = 0 }, "http.timeout"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_IndexWithTS(t *testing.T) {
	cfg := validTestConfig()
	cfg.Segment.Container = "ts"
	cfg.Segment.Index = true
	assert.NoError(t, cfg.Validate())
}

func TestSourceConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		src     SourceConfig
		wantErr bool
	}{
		{"device with key", SourceConfig{BaseURL: defaultBaseURL, DeviceID: "d", APIKey: "k"}, false},
		{"device with token", SourceConfig{BaseURL: defaultBaseURL, DeviceID: "d", AccessToken: "t"}, false},
		{"device without credentials", SourceConfig{BaseURL: defaultBaseURL, DeviceID: "d"}, true},
		{"nothing", SourceConfig{BaseURL: defaultBaseURL}, true},
		{"missing base url", SourceConfig{DeviceID: "d", APIKey: "k"}, true},
		{"public url", SourceConfig{URL: "https://example.com/live.m3u8"}, false},
		{"relative url", SourceConfig{URL: "/live.m3u8"}, true},
		{"ftp url", SourceConfig{URL: "ftp://example.com/live.m3u8"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.src.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
