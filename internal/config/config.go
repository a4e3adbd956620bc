// Package config loads run configuration from defaults, an optional YAML
// file, .env files and the process environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	tiktok "github.com/RavensCloud/tiktok-trending"
)

// Config holds all configuration options for a harvesting run.
type Config struct {
	Proxy    ProxyConfig    `yaml:"proxy"`
	Harvest  HarvestConfig  `yaml:"harvest"`
	Collect  CollectConfig  `yaml:"collect"`
	Database DatabaseConfig `yaml:"database"`
	Output   OutputConfig   `yaml:"output"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ProxyConfig lists the egress pool. Credentials only ever come from the
// environment or the OS keyring.
type ProxyConfig struct {
	Endpoints []string `yaml:"endpoints"`
	Username  string   `yaml:"-"`
	Password  string   `yaml:"-"`
}

// HarvestConfig controls token harvesting.
type HarvestConfig struct {
	Attempts          int           `yaml:"attempts"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	SettleDelay       time.Duration `yaml:"settle_delay"`
	UserAgent         string        `yaml:"user_agent"`
	TargetURL         string        `yaml:"target_url"`
	ChromiumBin       string        `yaml:"chromium_bin"`
}

// CollectConfig controls feed collection.
type CollectConfig struct {
	PageSize      int           `yaml:"page_size"`
	Concurrency   int           `yaml:"concurrency"`
	FeedDelay     time.Duration `yaml:"feed_delay"`
	ProxySessions bool          `yaml:"proxy_sessions"`
	Sign          bool          `yaml:"sign"`
}

// DatabaseConfig holds relational sink settings. Missing credentials are not
// validated here; they surface when the connection is attempted.
type DatabaseConfig struct {
	Driver         string        `yaml:"driver"` // "postgres" (sqlx + lib/pq) or "pgx"
	Name           string        `yaml:"-"`
	User           string        `yaml:"-"`
	Password       string        `yaml:"-"`
	Host           string        `yaml:"-"`
	Port           string        `yaml:"-"`
	SSLMode        string        `yaml:"ssl_mode"`
	BatchSize      int           `yaml:"batch_size"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Migrate        bool          `yaml:"migrate"`
	Disabled       bool          `yaml:"disabled"`
}

// OutputConfig holds the snapshot file location.
type OutputConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// MetricsConfig holds the optional Pushgateway target.
type MetricsConfig struct {
	Pushgateway string `yaml:"pushgateway"`
	Job         string `yaml:"job"`
}

// DefaultConfig returns a Config with the values of a standard run. The proxy
// list is empty and must be supplied.
func DefaultConfig() *Config {
	return &Config{
		Harvest: HarvestConfig{
			Attempts:          6,
			NavigationTimeout: 60 * time.Second,
			SettleDelay:       15 * time.Second,
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			TargetURL:         "https://www.tiktok.com",
		},
		Collect: CollectConfig{
			PageSize:    30,
			Concurrency: 1,
			FeedDelay:   1 * time.Second,
			Sign:        true,
		},
		Database: DatabaseConfig{
			Driver:         "postgres",
			Port:           "5432",
			SSLMode:        "disable",
			BatchSize:      200,
			ConnectTimeout: 10 * time.Second,
		},
		Output: OutputConfig{
			Path: "tiktok_trending_cleaned.json",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Job: "tiktok_trending",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then .env, then environment variables.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	return cfg, nil
}

// LoadFromFile overlays a YAML file onto c.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv overlays environment variables onto c.
func (c *Config) LoadFromEnv() error {
	c.Proxy.Username = lookupSecret("PROXY_USER", keyringProxyUser)
	c.Proxy.Password = lookupSecret("PROXY_PASS", keyringProxyPass)

	if v := os.Getenv("TIKTOK_PROXIES"); v != "" {
		c.Proxy.Endpoints = splitList(v)
	}

	setString(&c.Database.Name, "DB_NAME")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.Host, "DB_HOST")
	setString(&c.Database.Port, "DB_PORT")
	setString(&c.Database.Driver, "TIKTOK_DB_DRIVER")
	setString(&c.Output.Path, "TIKTOK_OUTPUT")
	setString(&c.Logging.Level, "TIKTOK_LOG_LEVEL")
	setString(&c.Metrics.Pushgateway, "TIKTOK_PUSHGATEWAY")

	var errs []error
	errs = append(errs, setInt(&c.Harvest.Attempts, "TIKTOK_HARVEST_ATTEMPTS"))
	errs = append(errs, setInt(&c.Collect.PageSize, "TIKTOK_PAGE_SIZE"))
	errs = append(errs, setInt(&c.Collect.Concurrency, "TIKTOK_CONCURRENCY"))
	return errors.Join(errs...)
}

// Validate checks the settings a run cannot start without.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Proxy.Endpoints) == 0 {
		errs = append(errs, tiktok.ErrEmptyProxyPool)
	} else if _, err := c.ProxyEndpoints(); err != nil {
		errs = append(errs, err)
	}
	if c.Harvest.Attempts <= 0 {
		errs = append(errs, errors.New("harvest attempts must be positive"))
	}
	if c.Harvest.NavigationTimeout <= 0 {
		errs = append(errs, errors.New("navigation timeout must be positive"))
	}
	if c.Harvest.SettleDelay < 0 {
		errs = append(errs, errors.New("settle delay cannot be negative"))
	}
	if c.Collect.PageSize <= 0 {
		errs = append(errs, errors.New("page size must be positive"))
	}
	if c.Collect.Concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be positive"))
	}
	switch c.Database.Driver {
	case "postgres", "pgx":
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	if c.Output.Path == "" {
		errs = append(errs, errors.New("output path is required"))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error", "disabled":
	default:
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}

// ProxyEndpoints parses the configured proxy list.
func (c *Config) ProxyEndpoints() ([]tiktok.ProxyEndpoint, error) {
	out := make([]tiktok.ProxyEndpoint, 0, len(c.Proxy.Endpoints))
	for _, s := range c.Proxy.Endpoints {
		p, err := tiktok.ParseProxyEndpoint(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ProxyCredentials returns the credentials shared by every proxy.
func (c *Config) ProxyCredentials() tiktok.ProxyCredentials {
	return tiktok.ProxyCredentials{Username: c.Proxy.Username, Password: c.Proxy.Password}
}

// DSN renders a lib/pq keyword connection string.
func (d DatabaseConfig) DSN() string {
	parts := []string{
		"host=" + quoteDSN(d.Host),
		"port=" + quoteDSN(d.Port),
		"user=" + quoteDSN(d.User),
		"password=" + quoteDSN(d.Password),
		"dbname=" + quoteDSN(d.Name),
		"sslmode=" + quoteDSN(d.SSLMode),
	}
	if d.ConnectTimeout > 0 {
		parts = append(parts, "connect_timeout="+strconv.Itoa(int(d.ConnectTimeout.Seconds())))
	}
	return strings.Join(parts, " ")
}

// URL renders a postgres:// connection URL for pgx and golang-migrate.
func (d DatabaseConfig) URL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	q := url.Values{}
	q.Set("sslmode", d.SSLMode)
	if d.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(d.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func quoteDSN(v string) string {
	if v == "" {
		return "''"
	}
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}
