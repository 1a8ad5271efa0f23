package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrNotFound, ErrInvalidInput, ErrUnauthorized,
		ErrInternal, ErrConflict, ErrServiceUnavail,
	}

	for i := 0; i < len(sentinels); i++ {
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j])
		}
	}
}

func TestAppError_ErrorString(t *testing.T) {
	inner := fmt.Errorf("db connection lost")
	withInner := &AppError{Code: "INTERNAL_ERROR", Message: "something broke", Err: inner}
	assert.Contains(t, withInner.Error(), "db connection lost")

	bare := &AppError{Code: "NOT_FOUND", Message: "sync log not found"}
	assert.Equal(t, "NOT_FOUND: sync log not found", bare.Error())
}

func TestNotFound(t *testing.T) {
	err := NotFound("sync log", "abc-123")
	require.NotNil(t, err)
	assert.Equal(t, http.StatusNotFound, err.Status)
	assert.Contains(t, err.Message, "abc-123")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestConflict_CustomCode(t *testing.T) {
	err := Conflict("SYNC_ALREADY_RUNNING", "a full sync is already running")
	assert.Equal(t, "SYNC_ALREADY_RUNNING", err.Code)
	assert.Equal(t, http.StatusConflict, err.Status)
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestConflict_DefaultCode(t *testing.T) {
	err := Conflict("", "busy")
	assert.Equal(t, "CONFLICT", err.Code)
}

func TestServiceUnavailable(t *testing.T) {
	err := ServiceUnavailable("search index is not configured")
	assert.Equal(t, http.StatusServiceUnavailable, err.Status)
	assert.True(t, errors.Is(err, ErrServiceUnavail))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"app error", InvalidInput("bad"), http.StatusBadRequest},
		{"wrapped not found", fmt.Errorf("get: %w", ErrNotFound), http.StatusNotFound},
		{"wrapped conflict", fmt.Errorf("update: %w", ErrConflict), http.StatusConflict},
		{"unavailable", ErrServiceUnavail, http.StatusServiceUnavailable},
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestWrap(t *testing.T) {
	err := Wrap(ErrNotFound, "load product")
	assert.Equal(t, "load product: resource not found", err.Error())
	assert.True(t, errors.Is(err, ErrNotFound))
}
