package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	err := ValidationError("set number out of range")

	assert.Equal(t, TypeValidation, err.Type)
	assert.Nil(t, err.Cause)
	assert.False(t, err.Retryable)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus())
	assert.Equal(t, "validation: set number out of range", err.Error())
}

func TestNotFoundError(t *testing.T) {
	err := NotFoundError("Match not found")

	assert.Equal(t, TypeNotFound, err.Type)
	assert.Equal(t, http.StatusNotFound, err.HTTPStatus())
	assert.Contains(t, err.Error(), "not_found")
}

func TestConflictError(t *testing.T) {
	err := ConflictError("revision mismatch").WithField("revision", int64(4))

	assert.Equal(t, http.StatusConflict, err.HTTPStatus())
	assert.Equal(t, int64(4), err.Context["revision"])
}

func TestInternalError(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := InternalError("failed to load match", cause)

	assert.Equal(t, TypeInternal, err.Type)
	assert.Equal(t, cause, err.Cause)
	assert.False(t, err.Retryable)
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
	assert.Contains(t, err.Error(), "connection reset")
}

func TestInternalErrorWithoutCause(t *testing.T) {
	err := InternalError("something went wrong", nil)

	assert.NotContains(t, err.Error(), "<nil>")
}

func TestPersistenceError(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := PersistenceError("failed to persist match", cause)

	assert.Equal(t, TypeInternal, err.Type)
	assert.True(t, err.Retryable)
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
	assert.True(t, errors.Is(err, cause))

	resp := err.ToResponse()
	assert.True(t, resp.Retryable)
}

func TestExternalError(t *testing.T) {
	err := ExternalError("redis unavailable", fmt.Errorf("dial tcp: refused"))

	assert.Equal(t, TypeExternal, err.Type)
	assert.Equal(t, http.StatusBadGateway, err.HTTPStatus())
}

func TestRateLimitedError(t *testing.T) {
	err := RateLimitedError("rate limit exceeded")

	assert.Equal(t, TypeRateLimited, err.Type)
	assert.True(t, err.Retryable)
	assert.Equal(t, http.StatusTooManyRequests, err.HTTPStatus())
}

func TestWithFieldChaining(t *testing.T) {
	err := ValidationError("invalid score").
		WithField("set_number", 2).
		WithField("field", "homeScore")

	assert.Len(t, err.Context, 2)
	assert.Equal(t, 2, err.Context["set_number"])
	assert.Equal(t, "homeScore", err.Context["field"])
}

func TestWithFieldNilMap(t *testing.T) {
	err := &Error{Type: TypeValidation, Message: "test"}

	err = err.WithField("key", "value")

	require.NotNil(t, err.Context)
	assert.Equal(t, "value", err.Context["key"])
}

func TestToResponse(t *testing.T) {
	err := NotFoundError("player not found").WithField("player_id", 7)

	resp := err.ToResponse()

	assert.Equal(t, "player not found", resp.Error)
	assert.Equal(t, TypeNotFound, resp.Type)
	assert.False(t, resp.Retryable)
	assert.Equal(t, 7, resp.Context["player_id"])
}

func TestAsStructuredError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType ErrorType
		wantMsg  string
	}{
		{"structured", ValidationError("bad"), TypeValidation, "bad"},
		{"wrapped structured", fmt.Errorf("apply: %w", NotFoundError("Match not found")), TypeNotFound, "Match not found"},
		{"plain", fmt.Errorf("boom"), TypeInternal, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := AsStructuredError(tt.err)
			require.NotNil(t, result)
			assert.Equal(t, tt.wantType, result.Type)
			assert.Equal(t, tt.wantMsg, result.Message)
		})
	}
}

func TestAsStructuredErrorWithNil(t *testing.T) {
	assert.Nil(t, AsStructuredError(nil))
}

func TestIsType(t *testing.T) {
	assert.True(t, IsType(fmt.Errorf("x: %w", ConflictError("stale")), TypeConflict))
	assert.False(t, IsType(ConflictError("stale"), TypeNotFound))
	assert.False(t, IsType(fmt.Errorf("plain"), TypeInternal))
}

func TestHTTPStatusAllTypes(t *testing.T) {
	tests := []struct {
		errorType  ErrorType
		wantStatus int
	}{
		{TypeValidation, http.StatusBadRequest},
		{TypeNotFound, http.StatusNotFound},
		{TypeConflict, http.StatusConflict},
		{TypeInternal, http.StatusInternalServerError},
		{TypeExternal, http.StatusBadGateway},
		{ErrorType("unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.errorType), func(t *testing.T) {
			err := &Error{Type: tt.errorType}
			assert.Equal(t, tt.wantStatus, err.HTTPStatus())
		})
	}
}
