package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	serveradapter "github.com/hylla/bomcat/internal/adapters/server"
	servercommon "github.com/hylla/bomcat/internal/adapters/server/common"
	"github.com/hylla/bomcat/internal/adapters/storage/sqlite"
	"github.com/hylla/bomcat/internal/app"
	"github.com/hylla/bomcat/internal/config"
	"github.com/hylla/bomcat/internal/domain"
)

// noEnv reports every environment variable as unset.
func noEnv(string) (string, bool) { return "", false }

// execute runs the command tree with args and returns stdout.
func execute(t *testing.T, lookup func(string) (string, bool), args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCommand(&stdout, &stderr, lookup)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

// seedTenant writes a small tree with one high issue into the sqlite file at dbPath.
func seedTenant(t *testing.T, dbPath string) {
	t.Helper()
	repo, err := sqlite.Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = repo.Close() }()
	svc := app.NewService(repo, nil, nil, app.ServiceConfig{})
	ctx := context.Background()
	root, err := svc.InsertNode(ctx, "acme", app.InsertNodeInput{Name: "Procure to pay"})
	if err != nil {
		t.Fatalf("InsertNode() error = %v", err)
	}
	child, err := svc.InsertNode(ctx, "acme", app.InsertNodeInput{ParentID: root.ID, Name: "Approve invoice"})
	if err != nil {
		t.Fatalf("InsertNode(child) error = %v", err)
	}
	if _, err := svc.CreateIssue(ctx, "acme", app.CreateIssueInput{
		ProcessID:   child.ID,
		Title:       "No segregation of duties",
		Dimension:   domain.DimensionPeople,
		Criticality: domain.CriticalityHigh,
	}); err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}
}

func TestPathsCommand(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "custom.toml")
	out, err := execute(t, noEnv, "paths", "--config", configPath, "--app", "bomcat-test")
	if err != nil {
		t.Fatalf("paths error = %v", err)
	}
	if !strings.Contains(out, "config: "+configPath) {
		t.Fatalf("expected config override in output, got %q", out)
	}
	for _, want := range []string{"data_dir:", "db:", "log_dir:", "bomcat-test"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got %q", want, out)
		}
	}
}

func TestPathsCommandHonoursConfigEnv(t *testing.T) {
	env := map[string]string{EnvConfigPath: "/etc/bomcat/config.toml"}
	out, err := execute(t, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}, "paths")
	if err != nil {
		t.Fatalf("paths error = %v", err)
	}
	if !strings.Contains(out, "config: /etc/bomcat/config.toml") {
		t.Fatalf("expected env config path, got %q", out)
	}
}

func TestMaintenanceCommands(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "bomcat.db")
	configPath := filepath.Join(dir, "missing.toml")
	seedTenant(t, dbPath)

	out, err := execute(t, noEnv, "--config", configPath, "--db", dbPath, "codes", "regenerate", "--tenant", "acme")
	if err != nil {
		t.Fatalf("codes regenerate error = %v", err)
	}
	if strings.TrimSpace(out) != "codes changed: 0" {
		t.Fatalf("unexpected regenerate output %q", out)
	}

	out, err = execute(t, noEnv, "--config", configPath, "--db", dbPath, "rag", "recompute", "--tenant", "acme")
	if err != nil {
		t.Fatalf("rag recompute error = %v", err)
	}
	if strings.TrimSpace(out) != "processes changed: 0" {
		t.Fatalf("unexpected recompute output %q", out)
	}

	out, err = execute(t, noEnv, "--config", configPath, "--db", dbPath, "heatmap", "--tenant", "acme", "--rollup", "--json")
	if err != nil {
		t.Fatalf("heatmap error = %v", err)
	}
	var heatmap servercommon.Heatmap
	if err := json.Unmarshal([]byte(out), &heatmap); err != nil {
		t.Fatalf("Unmarshal() error = %v (out %q)", err, out)
	}
	if heatmap.View != "rollup" || len(heatmap.Cells) != 2 {
		t.Fatalf("unexpected heatmap %#v", heatmap)
	}
	if heatmap.Cells[0].Counts["people"].High != 1 || heatmap.Cells[0].Colours.People != "red" {
		t.Fatalf("root rollup cell = %#v", heatmap.Cells[0])
	}

	out, err = execute(t, noEnv, "--config", configPath, "--db", dbPath, "heatmap", "--tenant", "acme")
	if err != nil {
		t.Fatalf("heatmap table error = %v", err)
	}
	for _, want := range []string{"direct heatmap", "Approve invoice", "1.1", "1 (1/0/0)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in table, got %q", want, out)
		}
	}
}

func TestImportCommandSeedsTenant(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "bomcat.db")
	configPath := filepath.Join(dir, "missing.toml")
	seedPath := filepath.Join(dir, "tree.yaml")
	doc := `processes:
  - name: Order to cash
    children:
      - name: Invoice customer
        issues:
          - title: Manual invoice numbering
            dimension: system
            criticality: medium
  - name: Record to report
`
	if err := os.WriteFile(seedPath, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	out, err := execute(t, noEnv, "--config", configPath, "--db", dbPath, "import", "--tenant", "acme", "--in", seedPath)
	if err != nil {
		t.Fatalf("import error = %v", err)
	}
	if strings.TrimSpace(out) != "imported 3 processes, 1 issues" {
		t.Fatalf("unexpected import output %q", out)
	}

	out, err = execute(t, noEnv, "--config", configPath, "--db", dbPath, "heatmap", "--tenant", "acme", "--json")
	if err != nil {
		t.Fatalf("heatmap error = %v", err)
	}
	var heatmap servercommon.Heatmap
	if err := json.Unmarshal([]byte(out), &heatmap); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	codes := make([]string, 0, len(heatmap.Cells))
	for _, cell := range heatmap.Cells {
		codes = append(codes, cell.Code)
	}
	if strings.Join(codes, ",") != "1,1.1,2" {
		t.Fatalf("unexpected codes %v", codes)
	}
	if heatmap.Cells[1].Colours.System != "amber" {
		t.Fatalf("expected amber system cell, got %#v", heatmap.Cells[1].Colours)
	}

	_, err = execute(t, noEnv, "--config", configPath, "--db", dbPath, "import", "--tenant", "acme", "--in", filepath.Join(dir, "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "absent.yaml") {
		t.Fatalf("expected missing file error, got %v", err)
	}
}

func TestTenantFlagRequired(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, noEnv, "--config", filepath.Join(dir, "c.toml"), "--db", filepath.Join(dir, "b.db"), "heatmap")
	if err == nil || !strings.Contains(err.Error(), "tenant") {
		t.Fatalf("expected required tenant flag error, got %v", err)
	}
}

func TestInvalidConfigFails(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(configPath, []byte("[locking]\nbackend = \"zookeeper\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	_, err := execute(t, noEnv, "--config", configPath, "--db", filepath.Join(dir, "b.db"), "codes", "regenerate", "--tenant", "acme")
	if err == nil || !strings.Contains(err.Error(), "locking.backend") {
		t.Fatalf("expected locking validation error, got %v", err)
	}
}

func TestServeCommandWiresServer(t *testing.T) {
	dir := t.TempDir()
	var gotCfg serveradapter.Config
	var gotDeps serveradapter.Dependencies
	prev := serveCommandRunner
	serveCommandRunner = func(_ context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
		gotCfg, gotDeps = cfg, deps
		return nil
	}
	t.Cleanup(func() { serveCommandRunner = prev })

	_, err := execute(t, noEnv, "--config", filepath.Join(dir, "c.toml"), "--db", filepath.Join(dir, "b.db"), "serve", "--http", "127.0.0.1:9999")
	if err != nil {
		t.Fatalf("serve error = %v", err)
	}
	if gotCfg.HTTPBind != "127.0.0.1:9999" || gotCfg.APIEndpoint != "/api/v1" || gotCfg.RequestTimeout != 30*time.Second {
		t.Fatalf("unexpected serve config %#v", gotCfg)
	}
	if gotDeps.Service == nil || gotDeps.Readiness["database"] == nil || gotDeps.Logger == nil {
		t.Fatalf("unexpected serve deps %#v", gotDeps)
	}
	if _, ok := gotDeps.Readiness["locker"]; ok {
		t.Fatal("local locking should not register a readiness check")
	}
}

func TestRuntimeLoggerDevFile(t *testing.T) {
	dir := t.TempDir()
	var stderr bytes.Buffer
	now := func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	logger, err := newRuntimeLogger(&stderr, "bomcat", config.LoggingConfig{
		Level:   "debug",
		DevFile: config.DevFileConfig{Enabled: true, Dir: dir},
	}, now)
	if err != nil {
		t.Fatalf("newRuntimeLogger() error = %v", err)
	}
	logger.Info("hello", "tenant_id", "acme")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	want := filepath.Join(dir, "bomcat-20260301.log")
	if logger.DevLogPath() != want {
		t.Fatalf("DevLogPath() = %q, want %q", logger.DevLogPath(), want)
	}
	content, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(content), "tenant_id=acme") {
		t.Fatalf("expected logfmt entry, got %q", content)
	}
	if !strings.Contains(stderr.String(), "hello") {
		t.Fatalf("expected console entry, got %q", stderr.String())
	}
	if logger.Service() == nil {
		t.Fatal("Service() returned nil")
	}
}

func TestSanitizeLogFileStem(t *testing.T) {
	cases := map[string]string{
		"":              "bomcat",
		" bomcat dev ":  "bomcat-dev",
		"team/bomcat:1": "team-bomcat-1",
		"///":           "bomcat",
	}
	for in, want := range cases {
		if got := sanitizeLogFileStem(in); got != want {
			t.Fatalf("sanitizeLogFileStem(%q) = %q, want %q", in, got, want)
		}
	}
}
