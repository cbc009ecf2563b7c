package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreConfig selects and configures the key/value backend.
type StoreConfig struct {
	Backend    string `yaml:"backend"`  // "memory", "pebble", "bolt" or "redis"
	DataDir    string `yaml:"data_dir"` // Used by pebble and bolt
	RedisURL   string `yaml:"redis_url"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// CacheConfig holds read cache configuration.
type CacheConfig struct {
	Enabled  bool `yaml:"enabled"`
	Capacity int  `yaml:"capacity"` // Number of keys
}

// IndexConfig holds order-statistic index configuration.
type IndexConfig struct {
	// Strict turns duplicate inserts and absent deletes into errors.
	Strict bool `yaml:"strict"`
}

// ChatConfig holds application level settings.
type ChatConfig struct {
	ChannelNamePattern string `yaml:"channel_name_pattern"`
	TopK               int    `yaml:"top_k"`
	PasswordHash       string `yaml:"password_hash"` // "bcrypt", "sha256" or "sha512"
	BcryptCost         int    `yaml:"bcrypt_cost"`

	// Operations slower than this are logged at Warn.
	SlowOperationThreshold string `yaml:"slow_operation_threshold"`
}

// HooksConfig configures the built-in hook listeners.
type HooksConfig struct {
	ChannelSizeAlertThreshold int64    `yaml:"channel_size_alert_threshold"`
	BannedWords               []string `yaml:"banned_words"`
	MaxMessageBytes           int      `yaml:"max_message_bytes"` // 0 disables the limit
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// MetricsConfig holds the prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // e.g., "localhost:4317" for gRPC OTLP collector
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

// Config is the top-level configuration struct.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Cache   CacheConfig   `yaml:"cache"`
	Index   IndexConfig   `yaml:"index"`
	Chat    ChatConfig    `yaml:"chat"`
	Hooks   HooksConfig   `yaml:"hooks"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:    "memory",
			DataDir:    "./data",
			RedisURL:   "redis://localhost:6379/0",
			SyncWrites: true,
		},
		Cache: CacheConfig{
			Enabled:  true,
			Capacity: 65536,
		},
		Index: IndexConfig{
			Strict: false,
		},
		Chat: ChatConfig{
			ChannelNamePattern:     `^#[#_A-Za-z0-9]*$`,
			TopK:                   10,
			PasswordHash:           "bcrypt",
			BcryptCost:             10,
			SlowOperationThreshold: "1s",
		},
		Hooks: HooksConfig{
			ChannelSizeAlertThreshold: 10000,
			MaxMessageBytes:           1 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			File:   "nexuschat.log",
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			ListenAddress: "0.0.0.0:9100",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
	}
}

// Load reads configuration from an io.Reader.
// This is the core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}

	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshal YAML into the config struct, overwriting defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted sensibly.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "pebble", "bolt", "redis":
	default:
		return fmt.Errorf("invalid store backend: %q", c.Store.Backend)
	}
	switch c.Chat.PasswordHash {
	case "bcrypt", "sha256", "sha512":
	default:
		return fmt.Errorf("invalid chat.password_hash: %q", c.Chat.PasswordHash)
	}
	if c.Chat.TopK <= 0 {
		return fmt.Errorf("chat.top_k must be positive, got %d", c.Chat.TopK)
	}
	if c.Cache.Enabled && c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be positive when the cache is enabled, got %d", c.Cache.Capacity)
	}
	return nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If file doesn't exist, return default config by calling Load with a nil reader.
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}
