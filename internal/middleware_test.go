package internal

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	token, err := generateJWT("user-1", "secret")
	require.NoError(t, err)

	userID, err := parseJWT(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	_, err = parseJWT(token, "other-secret")
	assert.Error(t, err)

	_, err = generateJWT("user-1", "")
	assert.Error(t, err)
}

func TestParseJWTRejectsExpired(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": "user-1",
		"exp":    time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = parseJWT(signed, "secret")
	assert.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	valid, err := generateJWT("user-1", "secret")
	require.NoError(t, err)

	var seen string
	handler := AuthMiddleware("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetUserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name     string
		header   string
		expected int
	}{
		{name: "Missing header", header: "", expected: http.StatusUnauthorized},
		{name: "Wrong scheme", header: "Basic abc", expected: http.StatusUnauthorized},
		{name: "Bad token", header: "Bearer nope", expected: http.StatusUnauthorized},
		{name: "Valid token", header: "Bearer " + valid, expected: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodPost, "/chat", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.expected, rec.Code)
			if tt.expected == http.StatusOK {
				assert.Equal(t, "user-1", seen)
			} else {
				assert.Empty(t, seen)
			}
		})
	}
}

func TestCorsMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	t.Run("Allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/feed", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		rec := httptest.NewRecorder()
		CorsMiddleware([]string{"http://localhost:5173"})(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTeapot, rec.Code)
		assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Unknown origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/feed", nil)
		req.Header.Set("Origin", "http://evil.example")
		rec := httptest.NewRecorder()
		CorsMiddleware([]string{"http://localhost:5173"})(next).ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
		req.Header.Set("Origin", "http://a.example")
		rec := httptest.NewRecorder()
		CorsMiddleware([]string{"*"})(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "http://a.example", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestLoggingMiddlewareKeepsStatusAndFlush(t *testing.T) {
	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := w.(http.Flusher)
		assert.True(t, ok)
		w.WriteHeader(http.StatusCreated)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)
}
