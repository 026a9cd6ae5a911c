// Package config loads engine configuration with the precedence
// defaults < config file < BOOTS_* environment < command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/openboots/openboots/pkg/telemetry"
)

// Config is the full engine configuration.
type Config struct {
	// RepoURL is the bootstrap manifest location (URL or local path).
	RepoURL string `mapstructure:"repo_url"`

	// CacheDir holds downloaded package payloads.
	CacheDir string `mapstructure:"cache_dir"`

	// StateDir holds the status database and JSON mirror.
	StateDir string `mapstructure:"state_dir"`

	// ContinueOnError keeps a phase running after a required package fails.
	ContinueOnError bool `mapstructure:"continue_on_error"`

	// GateUserland blocks userland when setupassistant failed.
	GateUserland bool `mapstructure:"gate_userland"`

	// DefaultTimeout bounds a package install without a manifest timeout.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`

	// GraceDelay is the pause between download completion and install.
	GraceDelay time.Duration `mapstructure:"grace_delay"`

	// ServiceInterval is how often service mode re-triggers a run.
	ServiceInterval time.Duration `mapstructure:"service_interval"`

	// StatusMaxAge is how long terminal status records are retained before
	// run-start cleanup removes them. Zero keeps them forever.
	StatusMaxAge time.Duration `mapstructure:"status_max_age"`

	Logging telemetry.LoggingConfig `mapstructure:"logging"`
	Tracing telemetry.TracingConfig `mapstructure:"tracing"`
	Metrics telemetry.MetricsConfig `mapstructure:"metrics"`
}

// DatabasePath returns the status database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.StateDir, "status.db")
}

// MirrorPath returns the JSON status mirror location.
func (c *Config) MirrorPath() string {
	return filepath.Join(c.StateDir, "status.json")
}

// DefaultPath returns the standard config file location.
func DefaultPath() string {
	if programData := os.Getenv("ProgramData"); programData != "" {
		return filepath.Join(programData, "openboots", "boots.yaml")
	}
	return filepath.Join("/etc", "openboots", "boots.yaml")
}

func defaultDataDir() string {
	if programData := os.Getenv("ProgramData"); programData != "" {
		return filepath.Join(programData, "openboots")
	}
	return filepath.Join("/var", "lib", "openboots")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("repo_url", "")
	v.SetDefault("cache_dir", filepath.Join(defaultDataDir(), "cache"))
	v.SetDefault("state_dir", defaultDataDir())
	v.SetDefault("continue_on_error", true)
	v.SetDefault("gate_userland", false)
	v.SetDefault("default_timeout", 30*time.Minute)
	v.SetDefault("grace_delay", 500*time.Millisecond)
	v.SetDefault("service_interval", time.Hour)
	v.SetDefault("status_max_age", 30*24*time.Hour)

	logging := telemetry.DefaultLoggingConfig()
	v.SetDefault("logging.level", logging.Level)
	v.SetDefault("logging.format", logging.Format)
	v.SetDefault("logging.output", logging.Output)

	tracing := telemetry.DefaultTracingConfig()
	v.SetDefault("tracing.enabled", tracing.Enabled)
	v.SetDefault("tracing.exporter", tracing.Exporter)
	v.SetDefault("tracing.endpoint", tracing.Endpoint)
	v.SetDefault("tracing.sample_rate", tracing.SampleRate)

	metrics := telemetry.DefaultMetricsConfig()
	v.SetDefault("metrics.enabled", metrics.Enabled)
	v.SetDefault("metrics.listen", metrics.Listen)
}

// Load reads configuration from path. An empty path falls back to the
// standard location; a missing file there is not an error, the defaults and
// environment still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BOOTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		// A missing file at the default location is fine, defaults and
		// environment still apply. An explicitly named file must exist.
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Save persists cfg to path as YAML, creating parent directories. Used by
// bootstrap to pin the repo URL for later service-mode runs.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.Set("repo_url", cfg.RepoURL)
	v.Set("cache_dir", cfg.CacheDir)
	v.Set("state_dir", cfg.StateDir)
	v.Set("continue_on_error", cfg.ContinueOnError)
	v.Set("gate_userland", cfg.GateUserland)
	v.Set("default_timeout", cfg.DefaultTimeout.String())
	v.Set("grace_delay", cfg.GraceDelay.String())
	v.Set("service_interval", cfg.ServiceInterval.String())
	v.Set("status_max_age", cfg.StatusMaxAge.String())
	v.Set("logging.level", cfg.Logging.Level)
	v.Set("logging.format", cfg.Logging.Format)
	v.Set("logging.output", cfg.Logging.Output)
	v.Set("tracing.enabled", cfg.Tracing.Enabled)
	v.Set("tracing.exporter", cfg.Tracing.Exporter)
	v.Set("tracing.endpoint", cfg.Tracing.Endpoint)
	v.Set("tracing.sample_rate", cfg.Tracing.SampleRate)
	v.Set("metrics.enabled", cfg.Metrics.Enabled)
	v.Set("metrics.listen", cfg.Metrics.Listen)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}
