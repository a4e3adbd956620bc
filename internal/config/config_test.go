package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	tiktok "github.com/RavensCloud/tiktok-trending"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PROXY_USER", "PROXY_PASS", "TIKTOK_PROXIES",
		"DB_NAME", "DB_USER", "DB_PASSWORD", "DB_HOST", "DB_PORT",
		"TIKTOK_DB_DRIVER", "TIKTOK_OUTPUT", "TIKTOK_LOG_LEVEL", "TIKTOK_PUSHGATEWAY",
		"TIKTOK_HARVEST_ATTEMPTS", "TIKTOK_PAGE_SIZE", "TIKTOK_CONCURRENCY",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 6, cfg.Harvest.Attempts)
	assert.Equal(t, 60*time.Second, cfg.Harvest.NavigationTimeout)
	assert.Equal(t, 15*time.Second, cfg.Harvest.SettleDelay)
	assert.Equal(t, 30, cfg.Collect.PageSize)
	assert.Equal(t, 1, cfg.Collect.Concurrency)
	assert.Equal(t, "5432", cfg.Database.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "tiktok_trending_cleaned.json", cfg.Output.Path)
	assert.Empty(t, cfg.Proxy.Endpoints)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	data := `
proxy:
  endpoints:
    - 10.0.0.1:8080
    - socks5://10.0.0.2:1080
harvest:
  attempts: 3
  navigation_timeout: 30s
collect:
  page_size: 20
  concurrency: 4
database:
  driver: pgx
  batch_size: 50
output:
  path: /tmp/out.json
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, []string{"10.0.0.1:8080", "socks5://10.0.0.2:1080"}, cfg.Proxy.Endpoints)
	assert.Equal(t, 3, cfg.Harvest.Attempts)
	assert.Equal(t, 30*time.Second, cfg.Harvest.NavigationTimeout)
	assert.Equal(t, 15*time.Second, cfg.Harvest.SettleDelay, "unset keys keep defaults")
	assert.Equal(t, 20, cfg.Collect.PageSize)
	assert.Equal(t, 4, cfg.Collect.Concurrency)
	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, 50, cfg.Database.BatchSize)
	assert.Equal(t, "/tmp/out.json", cfg.Output.Path)
}

func TestLoadFromFile_Missing(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	keyring.MockInit()
	clearEnv(t)
	t.Setenv("PROXY_USER", "user")
	t.Setenv("PROXY_PASS", "pass")
	t.Setenv("TIKTOK_PROXIES", "10.0.0.1:8080, 10.0.0.2:8080")
	t.Setenv("DB_NAME", "tiktok")
	t.Setenv("DB_HOST", "db")
	t.Setenv("TIKTOK_CONCURRENCY", "5")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, tiktok.ProxyCredentials{Username: "user", Password: "pass"}, cfg.ProxyCredentials())
	assert.Equal(t, []string{"10.0.0.1:8080", "10.0.0.2:8080"}, cfg.Proxy.Endpoints)
	assert.Equal(t, "tiktok", cfg.Database.Name)
	assert.Equal(t, "db", cfg.Database.Host)
	assert.Equal(t, "5432", cfg.Database.Port, "DB_PORT defaults to 5432")
	assert.Equal(t, 5, cfg.Collect.Concurrency)
}

func TestLoadFromEnv_BadInt(t *testing.T) {
	keyring.MockInit()
	clearEnv(t)
	t.Setenv("TIKTOK_PAGE_SIZE", "thirty")

	err := DefaultConfig().LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TIKTOK_PAGE_SIZE")
}

func TestLoadFromEnv_KeyringFallback(t *testing.T) {
	keyring.MockInit()
	clearEnv(t)
	require.NoError(t, StoreProxyCredentials("ring-user", "ring-pass"))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())
	assert.Equal(t, "ring-user", cfg.Proxy.Username)
	assert.Equal(t, "ring-pass", cfg.Proxy.Password)

	t.Setenv("PROXY_USER", "env-user")
	require.NoError(t, cfg.LoadFromEnv())
	assert.Equal(t, "env-user", cfg.Proxy.Username, "environment wins over keyring")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Proxy.Endpoints = []string{"10.0.0.1:8080"}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no proxies", func(c *Config) { c.Proxy.Endpoints = nil }, "proxy pool is empty"},
		{"bad proxy", func(c *Config) { c.Proxy.Endpoints = []string{"ftp://x:1"} }, "ftp"},
		{"zero attempts", func(c *Config) { c.Harvest.Attempts = 0 }, "attempts"},
		{"zero page size", func(c *Config) { c.Collect.PageSize = 0 }, "page size"},
		{"zero concurrency", func(c *Config) { c.Collect.Concurrency = 0 }, "concurrency"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "mysql"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "loud"},
		{"missing db credentials", func(c *Config) { c.Database.User = ""; c.Database.Password = "" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Harvest.Attempts = 0
	cfg.Collect.PageSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, tiktok.ErrEmptyProxyPool)
	assert.Contains(t, err.Error(), "attempts")
	assert.Contains(t, err.Error(), "page size")
}

func TestProxyEndpoints(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Proxy.Endpoints = []string{"10.0.0.1:8080", "socks5://10.0.0.2:1080"}

	eps, err := cfg.ProxyEndpoints()
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, "10.0.0.1:8080", eps[0].String())
	assert.Equal(t, "socks5", eps[1].Scheme)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "localhost", Port: "5432", User: "bob", Password: "it's secret",
		Name: "tiktok", SSLMode: "disable", ConnectTimeout: 5 * time.Second,
	}
	dsn := d.DSN()

	assert.Contains(t, dsn, "host=localhost")
	assert.Contains(t, dsn, `password='it\'s secret'`)
	assert.Contains(t, dsn, "dbname=tiktok")
	assert.Contains(t, dsn, "connect_timeout=5")
}

func TestDatabaseConfig_URL(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: "6543", User: "bob", Password: "p@ss", Name: "tiktok", SSLMode: "require"}
	u := d.URL()

	assert.True(t, strings.HasPrefix(u, "postgres://bob:p%40ss@db:6543/tiktok?"), u)
	assert.Contains(t, u, "sslmode=require")
}
