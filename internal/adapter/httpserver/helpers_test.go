package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/adapter/memory"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/adapter/metrics"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/match"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/platform/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*Server
	manager *match.Manager
	store   *memory.Store
	http    *httptest.Server
}

type testOption func(*config.Config, *[]HealthCheck)

func withHealthChecks(checks ...HealthCheck) testOption {
	return func(_ *config.Config, hc *[]HealthCheck) { *hc = checks }
}

func withConfig(fn func(*config.Config)) testOption {
	return func(cfg *config.Config, _ *[]HealthCheck) { fn(cfg) }
}

func newTestServer(t *testing.T, opts ...testOption) *testServer {
	t.Helper()

	cfg := &config.Config{
		AppEnv:             "test",
		Port:               "0",
		MaxClientsPerMatch: 50,
		CommandRateLimit:   1000,
		CommandRateBurst:   1000,
	}
	var checks []HealthCheck
	for _, opt := range opts {
		opt(cfg, &checks)
	}

	reg := prometheus.NewRegistry()
	store := memory.NewStore()
	manager := match.NewManager(match.Config{
		Store:      store,
		Metrics:    metrics.NewActorMetrics(reg),
		MaxClients: cfg.MaxClientsPerMatch,
	})

	srv := NewServer(cfg, manager, reg, checks)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		manager.Shutdown()
		ts.Close()
	})

	return &testServer{Server: srv, manager: manager, store: store, http: ts}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, ts.http.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.http.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func (ts *testServer) createMatch(t *testing.T) int {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/api/matches", `{"opponent":"Eagles","date":"2024-10-05"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeJSON[map[string]int](t, resp)["id"]
}
