// Package config provides configuration management for the gateway.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all gateway configuration.
type Config struct {
	Server  ServerConfig            `mapstructure:"server"`
	Logging LoggingConfig           `mapstructure:"logging"`
	Brokers map[string]BrokerConfig `mapstructure:"brokers"`
	Paper   PaperConfig             `mapstructure:"paper"`
	Retry   RetryConfig             `mapstructure:"retry"`
	Stream  StreamConfig            `mapstructure:"stream"`
	Pool    PoolConfig              `mapstructure:"credential_pool"`
}

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	APITokens       []string      `mapstructure:"api_tokens"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// BrokerConfig holds per-broker endpoint configuration. Everything is
// optional; adapters fall back to the published production endpoints.
type BrokerConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	StreamURL string `mapstructure:"stream_url"`
	APIKey    string `mapstructure:"api_key"`
}

// PaperConfig enables the in-memory simulated broker.
type PaperConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// RetryConfig governs caller-side retries for idempotent reads. Writes are
// never retried.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// StreamConfig governs market-data stream sessions.
type StreamConfig struct {
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
	SubscriberBuffer  int           `mapstructure:"subscriber_buffer"`
}

// PoolConfig bounds the credential pool.
type PoolConfig struct {
	MaxEntries int           `mapstructure:"max_entries"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/broker-gateway"
	}
	return filepath.Join(home, ".config", "broker-gateway")
}

// Load loads configuration from the specified directory. If configDir is
// empty, the default config directory is used. A missing config file yields
// the defaults rather than an error.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config.toml: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config.toml: %w", err)
	}

	// Viper lowercases TOML table keys, so [brokers.ANGEL] arrives as
	// "angel". Canonicalize to uppercase so lookups by broker id work.
	if len(cfg.Brokers) > 0 {
		brokers := make(map[string]BrokerConfig, len(cfg.Brokers))
		for id, bc := range cfg.Brokers {
			brokers[strings.ToUpper(id)] = bc
		}
		cfg.Brokers = brokers
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", false)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.max_delay", 10*time.Second)

	v.SetDefault("stream.reconnect_attempts", 3)
	v.SetDefault("stream.reconnect_interval", 10*time.Second)
	v.SetDefault("stream.subscriber_buffer", 256)

	v.SetDefault("credential_pool.max_entries", 1000)
	v.SetDefault("credential_pool.default_ttl", 8*time.Hour)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GATEWAY_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("GATEWAY_API_TOKENS"); v != "" {
		cfg.Server.APITokens = strings.Split(v, ",")
	}
	if v := os.Getenv("GATEWAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Per-broker API keys, e.g. GATEWAY_ANGEL_API_KEY.
	for _, id := range []string{"ALICEBLUE", "ANGEL", "FYERS", "UPSTOX"} {
		if v := os.Getenv("GATEWAY_" + id + "_API_KEY"); v != "" {
			if cfg.Brokers == nil {
				cfg.Brokers = make(map[string]BrokerConfig)
			}
			bc := cfg.Brokers[id]
			bc.APIKey = v
			cfg.Brokers[id] = bc
		}
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Stream.ReconnectAttempts < 0 {
		return fmt.Errorf("stream.reconnect_attempts must not be negative")
	}
	if c.Pool.MaxEntries < 1 {
		return fmt.Errorf("credential_pool.max_entries must be at least 1")
	}
	for id := range c.Brokers {
		switch strings.ToUpper(id) {
		case "ALICEBLUE", "ANGEL", "FYERS", "UPSTOX", "PAPER":
		default:
			return fmt.Errorf("brokers.%s: unknown broker", id)
		}
	}
	return nil
}
