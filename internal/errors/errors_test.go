package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	err := NewSourceUnavailableError("search failed", fmt.Errorf("boom"))
	assert.Equal(t, "SOURCE_UNAVAILABLE: search failed (boom)", err.Error())

	assert.Equal(t, "NOT_FOUND: run not found", NewNotFoundError("run").Error())
}

func TestPredicatesSeeWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("batch 3: %w", NewQueryError("Field 'x' doesn't exist"))

	assert.True(t, IsQueryError(wrapped))
	assert.False(t, IsMalformedResponse(wrapped))
	assert.Equal(t, ErrCodeQuery, CodeOf(wrapped))
	assert.Equal(t, ErrCode(""), CodeOf(fmt.Errorf("plain")))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"query error", NewQueryError("bad"), true},
		{"transient", NewTransientNetworkError("reset", nil), true},
		{"bad gateway", NewRequestFailedError(http.StatusBadGateway, "502"), true},
		{"unavailable", NewRequestFailedError(http.StatusServiceUnavailable, "503"), true},
		{"gateway timeout", NewRequestFailedError(http.StatusGatewayTimeout, "504"), true},
		{"internal server error", NewRequestFailedError(http.StatusInternalServerError, "500"), false},
		{"unauthorized", NewRequestFailedError(http.StatusUnauthorized, "401"), false},
		{"malformed", NewMalformedResponseError("bad json", nil), false},
		{"plain", fmt.Errorf("plain"), false},
		{"wrapped", fmt.Errorf("ctx: %w", NewRequestFailedError(http.StatusBadGateway, "502")), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
