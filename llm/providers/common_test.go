package providers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/llmgate/llm"
)

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCode  llm.ErrorCode
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, llm.ErrUnauthorized, false},
		{"forbidden", http.StatusForbidden, llm.ErrUnauthorized, false},
		{"rate limited", http.StatusTooManyRequests, llm.ErrRateLimited, true},
		{"bad request", http.StatusBadRequest, llm.ErrInvalidRequest, false},
		{"not found", http.StatusNotFound, llm.ErrInvalidRequest, false},
		{"bad gateway", http.StatusBadGateway, llm.ErrUpstreamError, true},
		{"service unavailable", http.StatusServiceUnavailable, llm.ErrUpstreamError, true},
		{"gateway timeout", http.StatusGatewayTimeout, llm.ErrUpstreamError, true},
		{"unknown 5xx", 599, llm.ErrUpstreamError, true},
		{"unknown 4xx", 418, llm.ErrUpstreamError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapHTTPError(tt.status, "boom", "bedrock")
			assert.Equal(t, tt.wantCode, err.Code)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.status, err.HTTPStatus)
			assert.Equal(t, "bedrock", err.Provider)
		})
	}
}

func TestReadErrorMessage(t *testing.T) {
	t.Run("aws style", func(t *testing.T) {
		msg := ReadErrorMessage(strings.NewReader(`{"message":"model not ready"}`))
		assert.Equal(t, "model not ready", msg)
	})

	t.Run("openai style", func(t *testing.T) {
		msg := ReadErrorMessage(strings.NewReader(`{"error":{"message":"quota exceeded"}}`))
		assert.Equal(t, "quota exceeded", msg)
	})

	t.Run("raw text fallback", func(t *testing.T) {
		msg := ReadErrorMessage(strings.NewReader("plain failure"))
		assert.Equal(t, "plain failure", msg)
	})
}
