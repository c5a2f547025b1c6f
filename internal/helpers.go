package internal

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"manim-server/internal/llm"
	"manim-server/internal/render"
	"manim-server/internal/session"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const userIDKey contextKey = "userID"

// SetUserIDInContext adds a user ID to the request context
func SetUserIDInContext(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserIDFromContext retrieves the user ID from the request context
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok
}

// LogRequest logs an incoming call of endpoint.
func LogRequest(endpoint, message string) {
	log.Info().Str("endpoint", endpoint).Msg("[REQUEST] " + message)
}

// LogResponse logs the outcome of endpoint. Errors are logged at warn level.
func LogResponse(endpoint, message string, err error) {
	if err != nil {
		log.Warn().Str("endpoint", endpoint).Err(err).Msg("[RESPONSE] " + message)
		return
	}
	log.Info().Str("endpoint", endpoint).Msg("[RESPONSE] " + message)
}

// EncodeError writes a JSON error response
func EncodeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}{
		Error:  message,
		Status: statusCode,
	}
	_ = json.NewEncoder(w).Encode(response)
}

func encodeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("[RESPONSE] Could not encode response")
	}
}

// errorStatus maps collaborator errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, llm.ErrEmptyPrompt), errors.Is(err, llm.ErrUnknownProvider):
		return http.StatusBadRequest
	case errors.Is(err, render.ErrRenderFailed), errors.Is(err, render.ErrVideoNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, llm.ErrMissingAPIKey):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// sseWriter writes server-sent events.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, true
}

// Send writes one event. An empty name sends an unnamed "message" event.
func (s *sseWriter) Send(event string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// generateRandomID generates a random ID for database records
func generateRandomID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes)[:22], nil
}
