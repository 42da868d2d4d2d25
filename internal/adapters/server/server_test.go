package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hylla/bomcat/internal/adapters/server/common"
	"github.com/hylla/bomcat/internal/adapters/storage/sqlite"
	"github.com/hylla/bomcat/internal/app"
)

// pingFunc adapts a function to common.ReadinessChecker.
type pingFunc func(context.Context) error

// Ping calls f.
func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// newTestDeps wires dependencies over a fresh in-memory database.
func newTestDeps(t *testing.T) Dependencies {
	t.Helper()
	repo, err := sqlite.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	svc := app.NewService(repo, nil, nil, app.ServiceConfig{})
	return Dependencies{
		Service:   common.NewAppServiceAdapter(svc),
		Readiness: map[string]common.ReadinessChecker{"database": repo},
	}
}

func TestNormalizeConfig(t *testing.T) {
	cfg, err := normalizeConfig(Config{APIEndpoint: "api/v2/", MCPEndpoint: " "})
	require.NoError(t, err)
	assert.Equal(t, defaultBindAddress, cfg.HTTPBind)
	assert.Equal(t, "/api/v2", cfg.APIEndpoint)
	assert.Equal(t, "/mcp", cfg.MCPEndpoint)
	assert.Equal(t, "/metrics", cfg.MetricsEndpoint)
	assert.Equal(t, "bomcat", cfg.ServerName)

	_, err = normalizeConfig(Config{APIEndpoint: "/x", MCPEndpoint: "/x"})
	assert.Error(t, err)
	_, err = normalizeConfig(Config{MetricsEndpoint: "/readyz"})
	assert.Error(t, err)
}

func TestNewHandlerRequiresService(t *testing.T) {
	_, _, err := NewHandler(Config{}, Dependencies{})
	require.Error(t, err)
}

func TestHandlerServesAllSurfaces(t *testing.T) {
	handler, cfg, err := NewHandler(Config{}, newTestDeps(t))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var ready map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ready))
	assert.Equal(t, "ok", ready["status"])

	req := httptest.NewRequest(http.MethodPost, cfg.APIEndpoint+"/processes", strings.NewReader(`{"name":"Plan"}`))
	req.Header.Set("X-Tenant-ID", "t1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, cfg.MetricsEndpoint, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bomcat_http_requests_total")
}

func TestReadinessReportsFailures(t *testing.T) {
	deps := newTestDeps(t)
	deps.Readiness["redis"] = pingFunc(func(context.Context) error { return errors.New("connection refused") })
	handler, _, err := NewHandler(Config{}, deps)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "unavailable", body.Status)
	assert.Equal(t, "ok", body.Checks["database"])
	assert.Equal(t, "connection refused", body.Checks["redis"])
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, Config{HTTPBind: "127.0.0.1:0"}, newTestDeps(t))
	assert.NoError(t, err)
}
