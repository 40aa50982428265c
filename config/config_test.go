package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Server.HandlerTimeout)
	assert.Equal(t, []string{"blog-vincent.chyu.org", "vincent.chyu.org"}, cfg.Access.AllowedHosts)
	assert.Equal(t, "sqlite", cfg.Cache.Provider)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.True(t, cfg.Store.Migrate)
	assert.False(t, cfg.Cache.SyncWrites)
}

func TestFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sonic-lens.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
  handler_timeout: 5s
  rate_limit: 120
cache:
  provider: redis
  redis_url: redis://localhost:6379/0
access:
  allowed_hosts:
    - example.org
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.HandlerTimeout)
	assert.Equal(t, 120, cfg.Server.RateLimit)
	assert.Equal(t, "redis", cfg.Cache.Provider)
	assert.Equal(t, []string{"example.org"}, cfg.Access.AllowedHosts)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout, "unset keys keep their defaults")
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sonic-lens.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9000\"\n"), 0o600))

	t.Setenv("SONIC_ADDR", ":7000")
	t.Setenv("SONIC_CACHE_PROVIDER", "memory")
	t.Setenv("SONIC_CACHE_SYNC_WRITES", "true")
	t.Setenv("SONIC_ALLOWED_HOSTS", "a.example, b.example,,")
	t.Setenv("SONIC_STORE_TIMEOUT", "3s")
	t.Setenv("SONIC_UNRELATED", "ignored")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Cache.Provider)
	assert.True(t, cfg.Cache.SyncWrites)
	assert.Equal(t, []string{"a.example", "b.example"}, cfg.Access.AllowedHosts)
	assert.Equal(t, 3*time.Second, cfg.Store.Timeout)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown cache provider": func(c *Config) { c.Cache.Provider = "memcached" },
		"redis without url":      func(c *Config) { c.Cache.Provider = "redis" },
		"unknown store driver":   func(c *Config) { c.Store.Driver = "postgres" },
		"d1 without credentials": func(c *Config) { c.Store.Driver = "d1"; c.Store.D1AccountID = "acc" },
		"empty allow-list":       func(c *Config) { c.Access.AllowedHosts = nil },
		"bad log level":          func(c *Config) { c.Log.Level = "loud" },
		"bad log format":         func(c *Config) { c.Log.Format = "xml" },
		"negative rate limit":    func(c *Config) { c.Server.RateLimit = -1 },
	}
	for name, mutate := range cases {
		cfg := defaultConfig()
		mutate(cfg)
		assert.Error(t, cfg.Validate(), name)
	}

	cfg := defaultConfig()
	cfg.Store.Driver = "d1"
	cfg.Store.D1AccountID, cfg.Store.D1DatabaseID, cfg.Store.D1APIToken = "acc", "db", "token"
	assert.NoError(t, cfg.Validate())
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
