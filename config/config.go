// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/livesync/core/validation"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Socket  SocketConfig  `yaml:"socket"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Events  EventsConfig  `yaml:"events"`
	Storage StorageConfig `yaml:"storage"`
	Stores  []StoreConfig `yaml:"stores"`
	Lists   []ListConfig  `yaml:"lists"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// SocketConfig configures the websocket listener shared by all channels.
type SocketConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Path         string        `yaml:"path"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	ReadLimit    int64         `yaml:"read_limit"` // bytes per inbound frame
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// EventsConfig configures event emitters.
type EventsConfig struct {
	MaxListeners int `yaml:"max_listeners"` // warn threshold per event, 0 = default
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string      `yaml:"driver"` // "memory", "sqlite" or "redis"
	DSN    string      `yaml:"dsn"`
	Redis  RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// StoreConfig declares one synced store.
type StoreConfig struct {
	Name       string            `yaml:"name"`
	Channel    string            `yaml:"channel,omitempty"`
	Writable   bool              `yaml:"writable"`
	AutoSave   bool              `yaml:"autosave"`
	Collection string            `yaml:"collection,omitempty"`
	Locale     string            `yaml:"locale,omitempty"`
	Defaults   map[string]any    `yaml:"defaults,omitempty"`
	Schema     validation.Schema `yaml:"schema,omitempty"`
}

// ListConfig declares one synced collection.
type ListConfig struct {
	Name      string         `yaml:"name"`
	Channel   string         `yaml:"channel,omitempty"`
	Writable  bool           `yaml:"writable"`
	MaxLength int            `yaml:"max_length,omitempty"`
	ItemIDs   bool           `yaml:"item_ids"`
	ItemName  string         `yaml:"item_name,omitempty"`
	Item      ListItemConfig `yaml:"item,omitempty"`
	Defaults  []any          `yaml:"defaults,omitempty"`
}

// ListItemConfig configures the stores created for list items.
type ListItemConfig struct {
	Defaults map[string]any    `yaml:"defaults,omitempty"`
	Schema   validation.Schema `yaml:"schema,omitempty"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse builds configuration from YAML content.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// No stores or lists are declared in this mode.
//
// Environment variables:
//
//	LIVESYNC_SERVER_HOST      - Admin host (default: 0.0.0.0)
//	LIVESYNC_SERVER_PORT      - Admin port (default: 8080)
//	LIVESYNC_SOCKET_HOST      - Websocket host (default: 0.0.0.0)
//	LIVESYNC_SOCKET_PORT      - Websocket port (default: 9889)
//	LIVESYNC_SOCKET_PATH      - Websocket path (default: xqsocket)
//	LIVESYNC_STORAGE_DRIVER   - memory, sqlite or redis (default: memory)
//	LIVESYNC_STORAGE_DSN      - SQLite path (default: livesync.db)
//	LIVESYNC_REDIS_ADDR       - Redis address
//	LIVESYNC_LOG_LEVEL        - Log level: debug, info, warn, error (default: info)
//	LIVESYNC_LOG_FORMAT       - Log format: json or console (default: json)
//	LIVESYNC_METRICS_ENABLED  - Enable /metrics endpoint
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// LoadWithFallback loads path when it exists and falls back to environment
// variables otherwise.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies LIVESYNC_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("LIVESYNC_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("LIVESYNC_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LIVESYNC_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("LIVESYNC_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	// Socket configuration
	if v := os.Getenv("LIVESYNC_SOCKET_HOST"); v != "" {
		cfg.Socket.Host = v
	}
	if v := os.Getenv("LIVESYNC_SOCKET_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Socket.Port = port
		}
	}
	if v := os.Getenv("LIVESYNC_SOCKET_PATH"); v != "" {
		cfg.Socket.Path = v
	}
	if v := os.Getenv("LIVESYNC_SOCKET_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Socket.WriteTimeout = d
		}
	}

	// Storage configuration
	if v := os.Getenv("LIVESYNC_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("LIVESYNC_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("LIVESYNC_REDIS_ADDR"); v != "" {
		cfg.Storage.Redis.Addr = v
	}
	if v := os.Getenv("LIVESYNC_REDIS_PASSWORD"); v != "" {
		cfg.Storage.Redis.Password = v
	}
	if v := os.Getenv("LIVESYNC_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Storage.Redis.DB = n
		}
	}
	if v := os.Getenv("LIVESYNC_REDIS_PREFIX"); v != "" {
		cfg.Storage.Redis.Prefix = v
	}

	// Events configuration
	if v := os.Getenv("LIVESYNC_EVENTS_MAX_LISTENERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Events.MaxListeners = n
		}
	}

	// Logging configuration
	if v := os.Getenv("LIVESYNC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LIVESYNC_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("LIVESYNC_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("LIVESYNC_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Socket.Host == "" {
		cfg.Socket.Host = "0.0.0.0"
	}
	if cfg.Socket.Port == 0 {
		cfg.Socket.Port = 9889
	}
	if cfg.Socket.Path == "" {
		cfg.Socket.Path = "xqsocket"
	}
	cfg.Socket.Path = strings.Trim(cfg.Socket.Path, "/")
	if cfg.Socket.WriteTimeout == 0 {
		cfg.Socket.WriteTimeout = 10 * time.Second
	}
	if cfg.Socket.ReadLimit == 0 {
		cfg.Socket.ReadLimit = 1 << 20
	}

	if cfg.Events.MaxListeners == 0 {
		cfg.Events.MaxListeners = 10
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "livesync.db"
	}
	if cfg.Storage.Redis.Prefix == "" {
		cfg.Storage.Redis.Prefix = "default"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	if err := validPort("server.port", cfg.Server.Port); err != nil {
		return err
	}
	if err := validPort("socket.port", cfg.Socket.Port); err != nil {
		return err
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", cfg.Metrics.Path)
	}

	validDrivers := map[string]bool{"memory": true, "sqlite": true, "redis": true}
	if !validDrivers[cfg.Storage.Driver] {
		return fmt.Errorf("storage.driver must be one of: memory, sqlite, redis, got %q", cfg.Storage.Driver)
	}
	if cfg.Storage.Driver == "redis" && cfg.Storage.Redis.Addr == "" {
		return fmt.Errorf("storage.redis.addr is required when storage.driver is 'redis'")
	}

	names := make(map[string]bool)
	for i, s := range cfg.Stores {
		if s.Name == "" {
			return fmt.Errorf("stores[%d].name is required", i)
		}
		if names["store:"+s.Name] {
			return fmt.Errorf("stores[%d].name %q is declared twice", i, s.Name)
		}
		names["store:"+s.Name] = true
		if err := validation.Default().Prepare(s.Schema); err != nil {
			return fmt.Errorf("stores[%d].schema: %w", i, err)
		}
	}
	for i, l := range cfg.Lists {
		if l.Name == "" {
			return fmt.Errorf("lists[%d].name is required", i)
		}
		if names["list:"+l.Name] {
			return fmt.Errorf("lists[%d].name %q is declared twice", i, l.Name)
		}
		names["list:"+l.Name] = true
		if l.MaxLength < 0 {
			return fmt.Errorf("lists[%d].max_length must not be negative", i)
		}
		if err := validation.Default().Prepare(l.Item.Schema); err != nil {
			return fmt.Errorf("lists[%d].item.schema: %w", i, err)
		}
	}

	return nil
}

func validPort(field string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", field, port)
	}
	return nil
}
