package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Daily      bool   `mapstructure:"daily"`
}

// LoggingConfig configures daemon logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Path       string            `mapstructure:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// DaemonConfig configures the background daemon process.
type DaemonConfig struct {
	AutoStart    bool   `mapstructure:"auto_start"`
	BinaryPath   string `mapstructure:"binary_path"` // Path to resourcetunerd binary; loaded but not read by any caller
	ControlSock  string `mapstructure:"control_socket_path"`
	RPCSock      string `mapstructure:"rpc_socket_path"`
	PIDPath      string `mapstructure:"pid_path"`
}

// RateLimiterConfig configures per-thread admission control.
type RateLimiterConfig struct {
	DeltaMs       int64   `mapstructure:"delta_ms"`
	PenaltyFactor float64 `mapstructure:"penalty_factor"`
	RewardFactor  float64 `mapstructure:"reward_factor"`
}

// GarbageCollectionConfig configures dead-client sweeping.
type GarbageCollectionConfig struct {
	DurationMs int64 `mapstructure:"duration_ms"`
	BatchCap   int   `mapstructure:"batch_cap"`
}

// Config represents the daemon's runtime configuration.
type Config struct {
	MaxConcurrentRequests  int                     `mapstructure:"maximum_concurrent_requests"`
	MaxResourcesPerRequest int                     `mapstructure:"maximum_resources_per_request"`
	PulseDurationMs        int64                   `mapstructure:"pulse_duration_ms"`
	GarbageCollection      GarbageCollectionConfig `mapstructure:"garbage_collection"`
	RateLimiter            RateLimiterConfig       `mapstructure:"rate_limiter"`
	Logging                LoggingConfig           `mapstructure:"logging"`
	Daemon                 DaemonConfig            `mapstructure:"daemon"`
}

// Load loads configuration from file and environment variables.
// Config file locations (in order of precedence):
//   - $XDG_CONFIG_HOME/resourcetuner/config.yaml
//   - $HOME/.config/resourcetuner/config.yaml
//
// Environment variables are prefixed with RESOURCETUNER_ (e.g. RESOURCETUNER_PULSE_DURATION_MS).
// Config is read once at startup; the daemon does not watch this file for changes.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		v.AddConfigPath(filepath.Join(xdgConfigHome, "resourcetuner"))
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}
	v.AddConfigPath(filepath.Join(homeDir, ".config", "resourcetuner"))

	v.SetEnvPrefix("RESOURCETUNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("maximum_concurrent_requests", DefaultMaxConcurrentRequests)
	v.SetDefault("maximum_resources_per_request", DefaultMaxResourcesPerRequest)
	v.SetDefault("pulse_duration_ms", DefaultPulseDurationMs)
	v.SetDefault("garbage_collection.duration_ms", DefaultGCDurationMs)
	v.SetDefault("garbage_collection.batch_cap", DefaultGCBatchCap)
	v.SetDefault("rate_limiter.delta_ms", DefaultRateLimiterDeltaMs)
	v.SetDefault("rate_limiter.penalty_factor", DefaultPenaltyFactor)
	v.SetDefault("rate_limiter.reward_factor", DefaultRewardFactor)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "") // Empty means use DefaultLogPath
	v.SetDefault("logging.rotation.max_size", "10MB")
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.components", map[string]string{
		"tunerd":      "info",
		"coco":        "info",
		"ratelimiter": "warn",
		"pulse":       "warn",
		"gc":          "warn",
	})

	// Daemon defaults
	v.SetDefault("daemon.auto_start", true)
	v.SetDefault("daemon.control_socket_path", "") // Empty means use default XDG path
	v.SetDefault("daemon.rpc_socket_path", "")     // Empty means use default XDG path
	v.SetDefault("daemon.pid_path", "")            // Empty means use default XDG path

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is acceptable; we use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// ConfigDir returns the configuration directory path.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "resourcetuner"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", "resourcetuner"), nil
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return nil
}

// WriteDefault writes a default config file if none exists.
// Returns nil if a config file already exists.
func WriteDefault() error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}

	configDir, err := ConfigDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(configDir, "config.yaml")

	if _, err := os.Stat(configPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check config file: %w", err)
	}

	defaultConfig := fmt.Sprintf(`# Resource Tuner daemon configuration

# Upper bound on requests admitted concurrently by the rate limiter
maximum_concurrent_requests: %d

# Upper bound on (resource, sub-index, value) entries in a single request
maximum_resources_per_request: %d

# Interval between client liveness checks, in milliseconds
pulse_duration_ms: %d

# Dead-client sweeping
garbage_collection:
  duration_ms: %d
  batch_cap: %d

# Per-thread admission control
rate_limiter:
  delta_ms: %d
  penalty_factor: %g
  reward_factor: %g

# Logging configuration
logging:
  # Log level: debug, info, warn, error
  level: info
  # Log file path (empty means use default: $XDG_STATE_HOME/resourcetuner/resourcetuner.log)
  path: ""
  # Log rotation settings
  rotation:
    max_size: 10MB
    max_age: 30       # days
    max_backups: 5
    daily: true
  # Per-component log levels
  components:
    tunerd: info
    coco: info
    ratelimiter: warn
    pulse: warn
    gc: warn

# Daemon configuration
daemon:
  # Loaded but not acted on: resourcetunerctl does not start the daemon on its own
  auto_start: true
  # Unix socket hosting the gRPC health service (empty means use default XDG path)
  control_socket_path: ""
  # Unix socket carrying Tune/Retune/Untune/Status/Dump requests (empty means use default XDG path)
  rpc_socket_path: ""
  # PID file path (empty means use default XDG path)
  pid_path: ""
`, DefaultMaxConcurrentRequests, DefaultMaxResourcesPerRequest, DefaultPulseDurationMs,
		DefaultGCDurationMs, DefaultGCBatchCap,
		DefaultRateLimiterDeltaMs, DefaultPenaltyFactor, DefaultRewardFactor)

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}

	return nil
}

// ExpandPath expands ~ in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, path[1:]), nil
}

// DataDir returns $XDG_DATA_HOME/resourcetuner/ for socket and pid files.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "resourcetuner")
}

// StateDir returns $XDG_STATE_HOME/resourcetuner/ for log files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "resourcetuner")
}

// DefaultControlSocketPath returns the default Unix socket path for the gRPC health service.
func DefaultControlSocketPath() string {
	return filepath.Join(DataDir(), "control.sock")
}

// DefaultRPCSocketPath returns the default Unix socket path for the Tune/Retune/Untune/Status/Dump protocol.
func DefaultRPCSocketPath() string {
	return filepath.Join(DataDir(), "rpc.sock")
}

// DefaultPIDPath returns the default PID file path.
func DefaultPIDPath() string {
	return filepath.Join(DataDir(), "resourcetuner.pid")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(StateDir(), "resourcetuner.log")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	if err := os.MkdirAll(DataDir(), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	return nil
}

// EnsureStateDir creates the state directory if it doesn't exist.
func EnsureStateDir() error {
	if err := os.MkdirAll(StateDir(), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	return nil
}
