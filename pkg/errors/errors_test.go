package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewInvalidInputError("meeting_code is required")
	assert.Equal(t, "INVALID_INPUT: meeting_code is required", err.Error())
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)

	cause := errors.New("dial tcp: refused")
	wrapped := WrapError(cause, ErrCodeInternal, "history unavailable", http.StatusInternalServerError)
	assert.Equal(t, "INTERNAL_ERROR: history unavailable (caused by: dial tcp: refused)", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestGetAppError_FindsWrapped(t *testing.T) {
	appErr := NewConflictError("meeting already exists")
	err := fmt.Errorf("handler: %w", appErr)

	assert.Same(t, appErr, GetAppError(err))
	assert.Nil(t, GetAppError(errors.New("plain")))
	assert.Nil(t, GetAppError(nil))
}

func TestAppError_ResponseHidesCause(t *testing.T) {
	err := WrapError(errors.New("secret dsn"), ErrCodeInternal, "Internal server error", http.StatusInternalServerError).
		WithDetail("request_id", "abc")

	data, jerr := json.Marshal(err.Response())
	require.NoError(t, jerr)
	assert.JSONEq(t, `{"error":"INTERNAL_ERROR","message":"Internal server error","details":{"request_id":"abc"}}`, string(data))

	data, jerr = json.Marshal(NewRateLimitError().Response())
	require.NoError(t, jerr)
	assert.JSONEq(t, `{"error":"RATE_LIMIT_EXCEEDED","message":"rate limit exceeded"}`, string(data))
}

func TestConstructorsStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, NewUnauthorizedError("x").HTTPStatus)
	assert.Equal(t, http.StatusConflict, NewConflictError("x").HTTPStatus)
	assert.Equal(t, http.StatusTooManyRequests, NewRateLimitError().HTTPStatus)
	assert.Equal(t, http.StatusInternalServerError, NewInternalError("x").HTTPStatus)
	assert.Equal(t, http.StatusServiceUnavailable, NewServiceUnavailableError("x").HTTPStatus)
}

func TestAppError_WithCause(t *testing.T) {
	cause := errors.New("breaker open")
	err := NewServiceUnavailableError("history store unavailable").WithCause(cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "SERVICE_UNAVAILABLE: history store unavailable (caused by: breaker open)", err.Error())
}
