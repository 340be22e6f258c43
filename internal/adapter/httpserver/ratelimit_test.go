package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/platform/config"
	apperrors "github.com/Muppet1856/Volleyball-Stats-sub001/internal/platform/errors"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRemoteAddr = "1.2.3.4:1234"

type limitedHandler struct {
	e       *echo.Echo
	handler echo.HandlerFunc
}

func newLimitedHandler(ratePerSecond float64, burst int) *limitedHandler {
	mw := newRateLimiter(ratePerSecond, burst)
	return &limitedHandler{
		e: echo.New(),
		handler: mw(func(c echo.Context) error {
			return c.String(http.StatusOK, "ok")
		}),
	}
}

func (h *limitedHandler) call(remoteAddr, matchID string) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(http.MethodPost, "/api/matches/"+matchID+"/commands", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	c := h.e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(matchID)
	return rec, h.handler(c)
}

func requireRateLimited(t *testing.T, rec *httptest.ResponseRecorder, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeRateLimited))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRateLimiterAllowsRequestsUnderLimit(t *testing.T) {
	h := newLimitedHandler(10, 3)

	for range 3 {
		rec, err := h.call(testRemoteAddr, "1")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimiterBlocksExcessiveRequests(t *testing.T) {
	h := newLimitedHandler(0.01, 1)

	rec, err := h.call(testRemoteAddr, "1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, err = h.call(testRemoteAddr, "1")
	requireRateLimited(t, rec, err)
	assert.Equal(t, "100", rec.Header().Get("Retry-After"))
}

func TestRateLimiterKeysOnClientAndMatch(t *testing.T) {
	h := newLimitedHandler(0.01, 1)

	_, err := h.call(testRemoteAddr, "1")
	require.NoError(t, err)

	// Another client on the same match has its own budget.
	_, err = h.call("5.6.7.8:5678", "1")
	require.NoError(t, err)

	// So does the same client on another match.
	_, err = h.call(testRemoteAddr, "2")
	require.NoError(t, err)

	rec, err := h.call(testRemoteAddr, "1")
	requireRateLimited(t, rec, err)
}

func TestRateLimitedCommandThroughServer(t *testing.T) {
	srv := newTestServer(t, withConfig(func(cfg *config.Config) {
		cfg.CommandRateLimit = 0.01
		cfg.CommandRateBurst = 1
	}))
	id := srv.createMatch(t)
	path := "/api/matches/" + strconv.Itoa(id) + "/commands"
	body := `{"match":{"set-location":{"location":"Gym"}}}`

	resp := srv.do(t, http.MethodPost, path, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.do(t, http.MethodPost, path, body)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "100", resp.Header.Get("Retry-After"))
	errBody := decodeJSON[apperrors.ErrorResponse](t, resp)
	assert.Equal(t, apperrors.TypeRateLimited, errBody.Type)
	assert.True(t, errBody.Retryable)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(10))
	assert.Equal(t, 1, retryAfterSeconds(1))
	assert.Equal(t, 2, retryAfterSeconds(0.5))
	assert.Equal(t, 60, retryAfterSeconds(0))
}

func TestCommandLimiter(t *testing.T) {
	l := newCommandLimiter(0.01, 0)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}
