package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// DatabaseDriver selects the storage backend.
type DatabaseDriver string

const (
	DriverSQLite   DatabaseDriver = "sqlite"
	DriverPostgres DatabaseDriver = "postgres"
)

// LockBackend selects the tenant/node lock implementation.
type LockBackend string

const (
	LockLocal LockBackend = "local"
	LockRedis LockBackend = "redis"
)

// Environment variables read by ApplyEnv.
const (
	EnvDBPath      = "BOMCAT_DB_PATH"
	EnvDatabaseURL = "BOMCAT_DATABASE_URL"
	EnvRedisURL    = "BOMCAT_REDIS_URL"
	EnvLogLevel    = "BOMCAT_LOG_LEVEL"
	EnvHTTPBind    = "BOMCAT_HTTP_BIND"
)

type Config struct {
	Database DatabaseConfig `toml:"database"`
	Logging  LoggingConfig  `toml:"logging"`
	Server   ServerConfig   `toml:"server"`
	Locking  LockingConfig  `toml:"locking"`
	Tree     TreeConfig     `toml:"tree"`
	Issues   IssuesConfig   `toml:"issues"`
}

type DatabaseConfig struct {
	Driver DatabaseDriver `toml:"driver"`
	Path   string         `toml:"path"`
	URL    string         `toml:"url"`
}

type LoggingConfig struct {
	Level   string        `toml:"level"`
	DevFile DevFileConfig `toml:"dev_file"`
}

// DevFileConfig enables a logfmt copy of runtime logs under Dir. An empty Dir selects the platform log dir.
type DevFileConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

type ServerConfig struct {
	HTTPBind         string `toml:"http_bind"`
	APIEndpoint      string `toml:"api_endpoint"`
	MCPEndpoint      string `toml:"mcp_endpoint"`
	MetricsEndpoint  string `toml:"metrics_endpoint"`
	RequestTimeoutMS int    `toml:"request_timeout_ms"`
}

type LockingConfig struct {
	Backend       LockBackend `toml:"backend"`
	RedisURL      string      `toml:"redis_url"`
	LeaseTTLMS    int         `toml:"lease_ttl_ms"`
	WaitTimeoutMS int         `toml:"wait_timeout_ms"`
}

type TreeConfig struct {
	MaxNodes int `toml:"max_nodes"`
}

type IssuesConfig struct {
	SequenceRetries int    `toml:"sequence_retries"`
	DisplayPrefix   string `toml:"display_prefix"`
}

// Default returns the local-first configuration rooted at dbPath.
func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   dbPath,
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: false,
			},
		},
		Server: ServerConfig{
			HTTPBind:         "127.0.0.1:8080",
			APIEndpoint:      "/api/v1",
			MCPEndpoint:      "/mcp",
			MetricsEndpoint:  "/metrics",
			RequestTimeoutMS: 30_000,
		},
		Locking: LockingConfig{
			Backend:       LockLocal,
			LeaseTTLMS:    30_000,
			WaitTimeoutMS: 10_000,
		},
		Tree: TreeConfig{
			MaxNodes: 10_000,
		},
		Issues: IssuesConfig{
			SequenceRetries: 5,
			DisplayPrefix:   "ISS",
		},
	}
}

// Load overlays the TOML file at path onto defaults. A missing or empty file yields defaults.
func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any set environment variable found by lookup.
// Setting BOMCAT_DATABASE_URL switches the driver to postgres and BOMCAT_REDIS_URL
// switches locking to redis.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookupTrimmed(lookup, EnvDBPath); ok {
		c.Database.Path = v
	}
	if v, ok := lookupTrimmed(lookup, EnvDatabaseURL); ok {
		c.Database.URL = v
		c.Database.Driver = DriverPostgres
	}
	if v, ok := lookupTrimmed(lookup, EnvRedisURL); ok {
		c.Locking.RedisURL = v
		c.Locking.Backend = LockRedis
	}
	if v, ok := lookupTrimmed(lookup, EnvLogLevel); ok {
		c.Logging.Level = v
	}
	if v, ok := lookupTrimmed(lookup, EnvHTTPBind); ok {
		c.Server.HTTPBind = v
	}
}

// lookupTrimmed reads key and treats blank values as unset.
func lookupTrimmed(lookup func(string) (string, bool), key string) (string, bool) {
	v, ok := lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			return errors.New("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Database.URL) == "" {
			return errors.New("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid database.driver: %q", c.Database.Driver)
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}

	if strings.TrimSpace(c.Server.HTTPBind) == "" {
		return errors.New("server.http_bind is required")
	}
	if c.Server.RequestTimeoutMS < 0 {
		return errors.New("server.request_timeout_ms must be >= 0")
	}

	switch c.Locking.Backend {
	case LockLocal:
	case LockRedis:
		if strings.TrimSpace(c.Locking.RedisURL) == "" {
			return errors.New("locking.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid locking.backend: %q", c.Locking.Backend)
	}
	if c.Locking.LeaseTTLMS < 0 || c.Locking.WaitTimeoutMS < 0 {
		return errors.New("locking durations must be >= 0")
	}

	if c.Tree.MaxNodes <= 0 {
		return errors.New("tree.max_nodes must be > 0")
	}
	if c.Issues.SequenceRetries <= 0 {
		return errors.New("issues.sequence_retries must be > 0")
	}
	prefix := strings.TrimSpace(c.Issues.DisplayPrefix)
	if prefix == "" || strings.ContainsAny(prefix, " -") {
		return fmt.Errorf("invalid issues.display_prefix: %q", c.Issues.DisplayPrefix)
	}
	return nil
}

// RequestTimeout returns the per-request API deadline. Zero disables it.
func (s ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutMS) * time.Millisecond
}

// LeaseTTL returns the redis lock lease duration.
func (l LockingConfig) LeaseTTL() time.Duration {
	return time.Duration(l.LeaseTTLMS) * time.Millisecond
}

// WaitTimeout returns how long lock acquisition may block.
func (l LockingConfig) WaitTimeout() time.Duration {
	return time.Duration(l.WaitTimeoutMS) * time.Millisecond
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
