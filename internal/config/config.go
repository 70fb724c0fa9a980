// Package config loads dayflow configuration from file, environment, and
// defaults via viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved engine configuration.
type Config struct {
	// BackendURL is the task backend root, e.g. "https://api.dayflow.app/v1".
	BackendURL string `mapstructure:"backend_url"`

	// Token is the bearer credential for the backend.
	Token string `mapstructure:"token"`

	// RequestTimeout bounds each backend call.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// StoragePath is the SQLite database location.
	StoragePath string `mapstructure:"storage_path"`

	// ProbeURL is the reachability probe endpoint. Defaults to
	// BackendURL + "/health" when empty.
	ProbeURL string `mapstructure:"probe_url"`

	// ProbeInterval is how often the connectivity monitor probes.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`

	// SyncInterval is the daemon's periodic sync cadence.
	SyncInterval time.Duration `mapstructure:"sync_interval"`

	// MaxAttempts caps per-operation retries before a queued operation
	// is dropped.
	MaxAttempts int `mapstructure:"max_attempts"`

	// InboxDir is the quick-entry drop directory.
	InboxDir string `mapstructure:"inbox_dir"`

	// DashboardPort is the WebSocket event server port.
	DashboardPort int `mapstructure:"dashboard_port"`

	// LogFile receives daemon logs (rotated). Empty means stderr only.
	LogFile string `mapstructure:"log_file"`
}

// Dir returns the dayflow home directory (~/.dayflow).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".dayflow"), nil
}

// Load reads configuration from cfgFile (or ~/.dayflow/config.yaml when
// empty), with DAYFLOW_* environment overrides and built-in defaults.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	dir, err := Dir()
	if err != nil {
		return nil, err
	}

	v.SetDefault("backend_url", "")
	v.SetDefault("token", "")
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("storage_path", filepath.Join(dir, "dayflow.db"))
	v.SetDefault("probe_url", "")
	v.SetDefault("probe_interval", 15*time.Second)
	v.SetDefault("sync_interval", 5*time.Minute)
	v.SetDefault("max_attempts", 25)
	v.SetDefault("inbox_dir", filepath.Join(dir, "inbox"))
	v.SetDefault("dashboard_port", 8377)
	v.SetDefault("log_file", "")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix("DAYFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			return nil, fmt.Errorf("failed to read config %s: %w", cfgFile, err)
		}
		// A missing default config file is fine; env and defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.ProbeURL == "" && cfg.BackendURL != "" {
		cfg.ProbeURL = strings.TrimRight(cfg.BackendURL, "/") + "/health"
	}

	return &cfg, nil
}
