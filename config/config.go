// Package config loads the service configuration from defaults, an optional
// YAML file and SONIC_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

const envPrefix = "SONIC_"

type Config struct {
	Server ServerConfig `koanf:"server"`
	Log    LogConfig    `koanf:"log"`
	Access AccessConfig `koanf:"access"`
	Cache  CacheConfig  `koanf:"cache"`
	Store  StoreConfig  `koanf:"store"`
}

type ServerConfig struct {
	Addr           string        `koanf:"addr"`
	OpsAddr        string        `koanf:"ops_addr"`
	HandlerTimeout time.Duration `koanf:"handler_timeout"`
	ReadTimeout    time.Duration `koanf:"read_timeout"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
	// Requests per minute and client IP, zero disables limiting.
	RateLimit int `koanf:"rate_limit"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"`
}

type AccessConfig struct {
	AllowedHosts []string `koanf:"allowed_hosts"`
}

type CacheConfig struct {
	Provider      string        `koanf:"provider"`
	SQLitePath    string        `koanf:"sqlite_path"`
	RedisURL      string        `koanf:"redis_url"`
	RedisPrefix   string        `koanf:"redis_prefix"`
	Namespace     string        `koanf:"namespace"`
	SyncWrites    bool          `koanf:"sync_writes"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

type StoreConfig struct {
	Driver       string        `koanf:"driver"`
	SQLitePath   string        `koanf:"sqlite_path"`
	Migrate      bool          `koanf:"migrate"`
	D1AccountID  string        `koanf:"d1_account_id"`
	D1DatabaseID string        `koanf:"d1_database_id"`
	D1APIToken   string        `koanf:"d1_api_token"`
	D1BaseURL    string        `koanf:"d1_base_url"`
	Timeout      time.Duration `koanf:"timeout"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			OpsAddr:        ":9090",
			HandlerTimeout: 15 * time.Second,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   30 * time.Second,
		},
		Log: LogConfig{
			Level:  "debug",
			Format: "console",
		},
		Access: AccessConfig{
			AllowedHosts: []string{"blog-vincent.chyu.org", "vincent.chyu.org"},
		},
		Cache: CacheConfig{
			Provider:      "sqlite",
			SQLitePath:    "cache.db",
			SweepInterval: 10 * time.Minute,
		},
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "sonic-lens.db",
			Migrate:    true,
			Timeout:    10 * time.Second,
		},
	}
}

// Load builds the configuration. path may be empty, in which case no file is read.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envMappings maps lowercased variable names, prefix removed, to config paths.
var envMappings = map[string]string{
	"addr":            "server.addr",
	"ops_addr":        "server.ops_addr",
	"handler_timeout": "server.handler_timeout",
	"read_timeout":    "server.read_timeout",
	"write_timeout":   "server.write_timeout",
	"rate_limit":      "server.rate_limit",

	"log_level":  "log.level",
	"log_format": "log.format",
	"log_file":   "log.file",

	"allowed_hosts": "access.allowed_hosts",

	"cache_provider":       "cache.provider",
	"cache_sqlite_path":    "cache.sqlite_path",
	"cache_redis_url":      "cache.redis_url",
	"cache_redis_prefix":   "cache.redis_prefix",
	"cache_namespace":      "cache.namespace",
	"cache_sync_writes":    "cache.sync_writes",
	"cache_sweep_interval": "cache.sweep_interval",

	"store_driver":         "store.driver",
	"store_sqlite_path":    "store.sqlite_path",
	"store_migrate":        "store.migrate",
	"store_d1_account_id":  "store.d1_account_id",
	"store_d1_database_id": "store.d1_database_id",
	"store_d1_api_token":   "store.d1_api_token",
	"store_d1_base_url":    "store.d1_base_url",
	"store_timeout":        "store.timeout",
}

// envTransformFunc maps SONIC_CACHE_PROVIDER to cache.provider and so on.
// Unknown variables map to "" and are skipped.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	return envMappings[key]
}

var sliceConfigPaths = []string{
	"access.allowed_hosts",
}

// processSliceFields splits comma-separated strings coming from the environment.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit must not be negative"))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not console or json", c.Log.Format))
	}
	if len(c.Access.AllowedHosts) == 0 {
		errs = append(errs, errors.New("access.allowed_hosts must not be empty"))
	}
	switch c.Cache.Provider {
	case "sqlite", "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			errs = append(errs, errors.New("cache.redis_url is required for the redis provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache.provider %q", c.Cache.Provider))
	}
	switch c.Store.Driver {
	case "sqlite":
	case "d1":
		if c.Store.D1AccountID == "" || c.Store.D1DatabaseID == "" || c.Store.D1APIToken == "" {
			errs = append(errs, errors.New("store.d1_account_id, store.d1_database_id and store.d1_api_token are required for the d1 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	return errors.Join(errs...)
}
