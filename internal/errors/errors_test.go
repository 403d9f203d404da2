package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wearable-sync/internal/types"
)

func TestCategorize_WrappedCategorizedError(t *testing.T) {
	base := NewUserNotConnectedError("u1")
	wrapped := fmt.Errorf("manual fetch: %w", base)

	got := Categorize(wrapped)
	require.NotNil(t, got)
	assert.Equal(t, CodeUserNotConnected, got.Code)
	assert.Equal(t, http.StatusConflict, got.StatusCode)
	assert.True(t, HasCode(wrapped, CodeUserNotConnected))
}

func TestCategorize_ServiceError(t *testing.T) {
	tests := []struct {
		code       string
		wantStatus int
	}{
		{CodeInvalidSchedule, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeUserNotConnected, http.StatusConflict},
		{CodeProviderTimeout, http.StatusBadGateway},
		{"SOMETHING_ELSE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := &types.ServiceError{Code: tt.code, Message: "boom"}
			assert.Equal(t, tt.wantStatus, GetHTTPStatusCode(err))
		})
	}
}

func TestCategorize_Nil(t *testing.T) {
	assert.Nil(t, Categorize(nil))
	assert.False(t, IsRetryable(nil))
}

func TestCategorize_DeadlineExceeded(t *testing.T) {
	err := fmt.Errorf("fetch sleep: %w", context.DeadlineExceeded)
	assert.Equal(t, http.StatusGatewayTimeout, GetHTTPStatusCode(err))
	assert.True(t, IsRetryable(err))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewProviderError("/daily", fmt.Errorf("502"))))
	assert.True(t, IsRetryable(NewProviderRateLimitError("/sleep")))
	assert.True(t, IsRetryable(NewDatabaseError("create record", fmt.Errorf("conn reset"))))
	assert.False(t, IsRetryable(NewNotFoundError("user", "u1")))
	assert.False(t, IsRetryable(NewInvalidScheduleError("bad", nil)))
	assert.False(t, IsRetryable(fmt.Errorf("plain")))
}

func TestIsUserError(t *testing.T) {
	assert.True(t, IsUserError(NewInvalidParameterError("userId", "empty")))
	assert.True(t, IsUserError(NewRateLimitError(1)))
	assert.False(t, IsUserError(NewInternalError("x", nil)))
}

func TestCategorizedError_ErrorText(t *testing.T) {
	err := NewDatabaseError("update sync metadata", fmt.Errorf("timeout"))
	assert.Contains(t, err.Error(), "DATABASE_ERROR")
	assert.Contains(t, err.Error(), "caused by: timeout")

	svc := NewNotFoundError("user", "42").ToServiceError()
	assert.Equal(t, CodeNotFound, svc.Code)
	assert.Equal(t, "42", svc.Details["id"])
}
