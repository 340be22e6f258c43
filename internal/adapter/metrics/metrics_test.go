package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_BuildInfo(t *testing.T) {
	reg := NewRegistry()

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "volleyball_build_info" {
			found = true
			require.Len(t, f.GetMetric(), 1)
			assert.InDelta(t, 1, f.GetMetric()[0].GetGauge().GetValue(), 0)
		}
	}
	assert.True(t, found)
}

func TestConstructorsRegisterOnOneRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.NotPanics(t, func() {
		NewHTTPMetrics(reg)
		NewActorMetrics(reg)
		NewFanoutMetrics(reg)
		NewStoreMetrics(reg)
	})
}

func TestHTTPMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/matches/:id", func(c echo.Context) error { return c.NoContent(http.StatusNotFound) })
	e.GET("/api/matches/:id/stream", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	for _, path := range []string{"/api/matches/1", "/api/matches/2", "/api/matches/1/stream", "/health/live"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.InDelta(t, 2, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/api/matches/:id", "404")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestsTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestDuration))
	assert.InDelta(t, 0, testutil.ToFloat64(m.InFlightGauge), 0)

	expected := `
# HELP volleyball_http_requests_total HTTP requests by route and exact status code.
# TYPE volleyball_http_requests_total counter
volleyball_http_requests_total{method="GET",route="/api/matches/:id",status_code="404"} 2
`
	assert.NoError(t, testutil.CollectAndCompare(m.RequestsTotal, strings.NewReader(expected)))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(http.StatusOK))
	assert.Equal(t, "4xx", statusClass(http.StatusTooManyRequests))
	assert.Equal(t, "5xx", statusClass(http.StatusBadGateway))
	assert.Equal(t, "other", statusClass(0))
}

func TestUntrackedRoute(t *testing.T) {
	for _, route := range []string{"/metrics", "/health/ready", "/api/live/score", "/api/matches/:id/stream"} {
		assert.True(t, untrackedRoute(route), route)
	}
	for _, route := range []string{"/api/matches", "/api/matches/:id/commands", "/api/live/broadcast", ""} {
		assert.False(t, untrackedRoute(route), route)
	}
}
