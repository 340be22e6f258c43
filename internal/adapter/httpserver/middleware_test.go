package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/platform/correlation"
	apperrors "github.com/Muppet1856/Volleyball-Stats-sub001/internal/platform/errors"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runMiddleware(t *testing.T, handler echo.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := ErrorHandlingMiddleware()(handler)(c)
	require.NoError(t, err) // the middleware writes the error, it doesn't return it
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.ErrorResponse {
	t.Helper()
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestMiddlewareWithStructuredError(t *testing.T) {
	rec := runMiddleware(t, func(c echo.Context) error {
		return apperrors.ValidationError("setNumber must be between 1 and 5")
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "setNumber must be between 1 and 5", resp.Error)
	assert.Equal(t, apperrors.TypeValidation, resp.Type)
}

func TestMiddlewareWithStandardError(t *testing.T) {
	rec := runMiddleware(t, func(c echo.Context) error {
		return errors.New("standard error")
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "internal server error", resp.Error)
	assert.Equal(t, apperrors.TypeInternal, resp.Type)
}

func TestMiddlewareMapsDomainSentinels(t *testing.T) {
	rec := runMiddleware(t, func(c echo.Context) error {
		return fmt.Errorf("load: %w", domain.ErrMatchNotFound)
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Match not found", decodeError(t, rec).Error)
}

func TestMiddlewareWithPersistenceError(t *testing.T) {
	rec := runMiddleware(t, func(c echo.Context) error {
		return apperrors.PersistenceError("failed to persist match", errors.New("disk full"))
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, decodeError(t, rec).Retryable)
}

func TestMiddlewareWithEchoHTTPError(t *testing.T) {
	rec := runMiddleware(t, func(c echo.Context) error {
		return echo.ErrNotFound
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, apperrors.TypeNotFound, resp.Type)
	assert.Equal(t, "Not Found", resp.Error)
}

func TestMiddlewareWithNoError(t *testing.T) {
	rec := runMiddleware(t, func(c echo.Context) error {
		return c.String(http.StatusOK, "success")
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", rec.Body.String())
}

func TestMiddlewareWithContext(t *testing.T) {
	rec := runMiddleware(t, func(c echo.Context) error {
		return apperrors.ConflictError("revision mismatch").
			WithField("revision", 4).
			WithField("expectedRevision", 3)
	})

	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeError(t, rec)
	assert.Len(t, resp.Context, 2)
	assert.EqualValues(t, 4, resp.Context["revision"])
}

func TestMiddlewareAfterCommit(t *testing.T) {
	rec := runMiddleware(t, func(c echo.Context) error {
		_ = c.String(http.StatusOK, "partial")
		return errors.New("late failure")
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "partial", rec.Body.String())
}

func TestMiddlewareAllErrorTypes(t *testing.T) {
	tests := []struct {
		name       string
		err        *apperrors.Error
		wantStatus int
		wantType   apperrors.ErrorType
	}{
		{"validation", apperrors.ValidationError("invalid"), http.StatusBadRequest, apperrors.TypeValidation},
		{"not_found", apperrors.NotFoundError("missing"), http.StatusNotFound, apperrors.TypeNotFound},
		{"conflict", apperrors.ConflictError("stale"), http.StatusConflict, apperrors.TypeConflict},
		{"internal", apperrors.InternalError("failed", errors.New("cause")), http.StatusInternalServerError, apperrors.TypeInternal},
		{"external", apperrors.ExternalError("redis failed", errors.New("timeout")), http.StatusBadGateway, apperrors.TypeExternal},
		{"rate_limited", apperrors.RateLimitedError("slow down"), http.StatusTooManyRequests, apperrors.TypeRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := runMiddleware(t, func(c echo.Context) error { return tt.err })

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantType, decodeError(t, rec).Type)
		})
	}
}

func TestWrapHTTPError(t *testing.T) {
	tests := []struct {
		name       string
		httpErr    *echo.HTTPError
		wantType   apperrors.ErrorType
		wantStatus int
	}{
		{"bad_request", echo.NewHTTPError(http.StatusBadRequest, "bad request"), apperrors.TypeValidation, http.StatusBadRequest},
		{"method_not_allowed", echo.ErrMethodNotAllowed, apperrors.TypeValidation, http.StatusBadRequest},
		{"not_found", echo.NewHTTPError(http.StatusNotFound, "not found"), apperrors.TypeNotFound, http.StatusNotFound},
		{"conflict", echo.NewHTTPError(http.StatusConflict, "conflict"), apperrors.TypeConflict, http.StatusConflict},
		{"too_many_requests", echo.ErrTooManyRequests, apperrors.TypeRateLimited, http.StatusTooManyRequests},
		{"bad_gateway", echo.NewHTTPError(http.StatusBadGateway, "bad gateway"), apperrors.TypeExternal, http.StatusBadGateway},
		{"service_unavailable", echo.NewHTTPError(http.StatusServiceUnavailable, "unavailable"), apperrors.TypeExternal, http.StatusBadGateway},
		{"internal", echo.NewHTTPError(http.StatusInternalServerError, "internal error"), apperrors.TypeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WrapHTTPError(tt.httpErr)

			assert.Equal(t, tt.wantType, err.Type)
			assert.Equal(t, tt.wantStatus, err.HTTPStatus())
		})
	}
}

func TestWrapHTTPErrorWithInternalCause(t *testing.T) {
	cause := errors.New("underlying cause")
	httpErr := echo.NewHTTPError(http.StatusInternalServerError, "wrapped")
	httpErr.Internal = cause

	err := WrapHTTPError(httpErr)

	assert.Equal(t, apperrors.TypeInternal, err.Type)
	assert.Equal(t, cause, err.Cause)
}

func TestWrapHTTPErrorWithNonStringMessage(t *testing.T) {
	err := WrapHTTPError(echo.NewHTTPError(http.StatusBadRequest, 12345))

	assert.Equal(t, "Bad Request", err.Message)
	assert.Equal(t, apperrors.TypeValidation, err.Type)
}

func TestWrapHTTPErrorWithUnknownCode(t *testing.T) {
	err := WrapHTTPError(&echo.HTTPError{Code: 599})

	assert.Equal(t, "internal server error", err.Message)
	assert.Equal(t, apperrors.TypeInternal, err.Type)
}

func TestCorrelationMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
		check   func(t *testing.T, got string)
	}{
		{"generated", "", func(t *testing.T, got string) { assert.Len(t, got, 8) }},
		{"upstream kept", "lb-7f3a", func(t *testing.T, got string) { assert.Equal(t, "lb-7f3a", got) }},
		{"unsafe replaced", "x\ty", func(t *testing.T, got string) { assert.Len(t, got, 8) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.inbound != "" {
				req.Header.Set(correlationHeader, tt.inbound)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			var seen string
			err := correlationMiddleware(func(c echo.Context) error {
				seen, _ = correlation.ID(c.Request().Context())
				return nil
			})(c)

			require.NoError(t, err)
			tt.check(t, seen)
			assert.Equal(t, seen, rec.Header().Get(correlationHeader))
		})
	}
}
