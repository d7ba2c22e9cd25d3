package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okHandler())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "1; mode=block", w.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestRequestID_GeneratedAndPreserved(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})
	handler := RequestID()(inner)

	// Auto generated
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, w.Header().Get("X-Request-ID"), seen)

	// Client-provided ID is preserved
	w = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "req-fixed")
	handler.ServeHTTP(w, r)
	assert.Equal(t, "req-fixed", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "req-fixed", seen)
}

func TestRecovery(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	handler := Recovery(zap.NewNop())(inner)

	w := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(okHandler(), mk("first"), mk("second"), mk("third"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestAPIKeyAuth(t *testing.T) {
	handler := APIKeyAuth([]string{"secret-key"}, []string{"/health"}, zap.NewNop())(okHandler())

	// Missing key
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/llm/generate", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Wrong key
	w = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/llm/generate", nil)
	r.Header.Set("X-API-Key", "wrong")
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Valid key
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/api/llm/generate", nil)
	r.Header.Set("X-API-Key", "secret-key")
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	// Skip path needs no key
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJWTAuth(t *testing.T) {
	secret := "test-jwt-secret"
	handler := JWTAuth(secret, []string{"/health"}, zap.NewNop())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(SubjectFromContext(r.Context())))
		}),
	)

	// Missing header
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/llm/chat", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Garbage token
	w = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/llm/chat", nil)
	r.Header.Set("Authorization", "Bearer not-a-token")
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Valid HS256 token carries the subject into context
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "client-42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/api/llm/chat", nil)
	r.Header.Set("Authorization", "Bearer "+signed)
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "client-42", w.Body.String())

	// Expired token is rejected
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "client-42",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signedExpired, err := expired.SignedString([]byte(secret))
	require.NoError(t, err)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/api/llm/chat", nil)
	r.Header.Set("Authorization", "Bearer "+signedExpired)
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Skip path passes without a token
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// burst 2, negligible refill within the test window
	handler := RateLimiter(ctx, 0.001, 2, zap.NewNop())(okHandler())

	mkReq := func() *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/api/llm/generate", nil)
		r.RemoteAddr = "10.0.0.1:12345"
		return r
	}

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, mkReq())
		assert.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, mkReq())
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Different IP has its own bucket
	w = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/llm/generate", nil)
	r.RemoteAddr = "10.0.0.2:12345"
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://app.example.com"})(okHandler())

	// Allowed origin gets CORS headers
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://app.example.com")
	handler.ServeHTTP(w, r)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	// Unknown origin gets none
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	handler.ServeHTTP(w, r)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	// Preflight for allowed origin
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodOptions, "/", nil)
	r.Header.Set("Origin", "https://app.example.com")
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCORS_EmptyAllowlistRejectsPreflight(t *testing.T) {
	handler := CORS(nil)(okHandler())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodOptions, "/", nil)
	r.Header.Set("Origin", "https://app.example.com")
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/api/llm/generate", "/api/llm/generate"},
		{"/api/llm/generate/stream", "/api/llm/generate/stream"},
		{"/health", "/health"},
		{"/api/v1/requests/0b51a2cd-0f48-4b6a-9f1e-000000000001", "/api/v1/requests/:id"},
		{"/api/v1/requests/12345", "/api/v1/requests/:id"},
		{"/api/v1/requests/deadbeefcafe", "/api/v1/requests/:id"},
		{"/api/llm/chat", "/api/llm/chat"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePath(tt.in), "path %s", tt.in)
	}
}
