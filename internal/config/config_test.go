package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default("/tmp/bomcat.db")
	if cfg.Database.Driver != DriverSQLite || cfg.Database.Path != "/tmp/bomcat.db" {
		t.Fatalf("unexpected database config %#v", cfg.Database)
	}
	if cfg.Locking.Backend != LockLocal {
		t.Fatalf("unexpected lock backend %q", cfg.Locking.Backend)
	}
	if cfg.Issues.DisplayPrefix != "ISS" || cfg.Issues.SequenceRetries != 5 {
		t.Fatalf("unexpected issues config %#v", cfg.Issues)
	}
	if got := cfg.Server.RequestTimeout(); got != 30*time.Second {
		t.Fatalf("RequestTimeout() = %s", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	defaults := Default("/tmp/bomcat.db")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"), defaults)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != defaults.Database.Path {
		t.Fatalf("expected default db path, got %q", cfg.Database.Path)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[database]
driver = "postgres"
url = "postgres://bomcat@localhost/bomcat"

[logging]
level = "debug"

[logging.dev_file]
enabled = true
dir = "/var/log/bomcat"

[server]
http_bind = "0.0.0.0:9090"
request_timeout_ms = 1500

[locking]
backend = "redis"
redis_url = "redis://localhost:6379/0"
lease_ttl_ms = 5000

[issues]
display_prefix = "RISK"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path, Default("/tmp/default.db"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Driver != DriverPostgres || cfg.Database.URL == "" {
		t.Fatalf("unexpected database config %#v", cfg.Database)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.DevFile.Enabled || cfg.Logging.DevFile.Dir != "/var/log/bomcat" {
		t.Fatalf("unexpected logging config %#v", cfg.Logging)
	}
	if cfg.Server.HTTPBind != "0.0.0.0:9090" || cfg.Server.RequestTimeout() != 1500*time.Millisecond {
		t.Fatalf("unexpected server config %#v", cfg.Server)
	}
	if cfg.Server.APIEndpoint != "/api/v1" {
		t.Fatalf("expected default api endpoint, got %q", cfg.Server.APIEndpoint)
	}
	if cfg.Locking.Backend != LockRedis || cfg.Locking.LeaseTTL() != 5*time.Second || cfg.Locking.WaitTimeout() != 10*time.Second {
		t.Fatalf("unexpected locking config %#v", cfg.Locking)
	}
	if cfg.Issues.DisplayPrefix != "RISK" || cfg.Tree.MaxNodes != 10_000 {
		t.Fatalf("unexpected issues/tree config %#v %#v", cfg.Issues, cfg.Tree)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"driver":       "[database]\ndriver = \"mysql\"\n",
		"postgres url": "[database]\ndriver = \"postgres\"\n",
		"level":        "[logging]\nlevel = \"loud\"\n",
		"redis url":    "[locking]\nbackend = \"redis\"\n",
		"max nodes":    "[tree]\nmax_nodes = 0\n",
		"prefix":       "[issues]\ndisplay_prefix = \"A-B\"\n",
		"syntax":       "[database\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}
			if _, err := Load(path, Default("/tmp/bomcat.db")); err == nil {
				t.Fatal("expected Load() error")
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		EnvDatabaseURL: " postgres://db/bomcat ",
		EnvRedisURL:    "redis://cache:6379/1",
		EnvLogLevel:    "warn",
		EnvDBPath:      "   ",
	}
	cfg := Default("/tmp/bomcat.db")
	cfg.ApplyEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	if cfg.Database.Driver != DriverPostgres || cfg.Database.URL != "postgres://db/bomcat" {
		t.Fatalf("unexpected database config %#v", cfg.Database)
	}
	if cfg.Database.Path != "/tmp/bomcat.db" {
		t.Fatalf("blank env value overrode db path: %q", cfg.Database.Path)
	}
	if cfg.Locking.Backend != LockRedis || !strings.HasPrefix(cfg.Locking.RedisURL, "redis://") {
		t.Fatalf("unexpected locking config %#v", cfg.Locking)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("unexpected log level %q", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestEnsureConfigDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bomcat", "config.toml")
	if err := EnsureConfigDir(path); err != nil {
		t.Fatalf("EnsureConfigDir() error = %v", err)
	}
	if info, err := os.Stat(filepath.Dir(path)); err != nil || !info.IsDir() {
		t.Fatalf("expected config dir, stat err = %v", err)
	}
}
