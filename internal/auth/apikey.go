// Package auth authenticates API requests with a static set of API keys.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/stiffinWanjohi/bulkmail/internal/logging"
)

var log = logging.Component("auth")

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// APIKeyHeader is the header name for API key authentication.
	APIKeyHeader = "X-API-Key"

	// AuthorizationHeader is the standard Authorization header.
	AuthorizationHeader = "Authorization"

	// BearerPrefix is the prefix for Bearer token authentication.
	BearerPrefix = "Bearer "

	clientIDKey contextKey = "clientID"
)

// Errors for authentication.
var (
	ErrMissingAPIKey = errors.New("missing API key")
	ErrInvalidAPIKey = errors.New("invalid API key")
	ErrUnauthorized  = errors.New("unauthorized")
)

// APIKeyValidator validates API keys and returns the associated client ID.
type APIKeyValidator interface {
	ValidateAPIKey(ctx context.Context, apiKey string) (clientID string, err error)
}

// Middleware rejects requests without a valid API key and stores the
// caller's client ID in the request context.
func Middleware(validator APIKeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := extractAPIKey(r)
			if apiKey == "" {
				writeUnauthorized(w, ErrMissingAPIKey)
				return
			}

			clientID, err := validator.ValidateAPIKey(r.Context(), apiKey)
			if err != nil {
				log.Debug("rejected API key", "path", r.URL.Path, "key_prefix", keyPrefix(apiKey))
				writeUnauthorized(w, ErrInvalidAPIKey)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClientID(r.Context(), clientID)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="bulkmail"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"code":  "UNAUTHORIZED",
	})
}

// extractAPIKey checks the X-API-Key header first, then a Bearer token.
func extractAPIKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(APIKeyHeader)); apiKey != "" {
		return apiKey
	}

	authHeader := r.Header.Get(AuthorizationHeader)
	if strings.HasPrefix(authHeader, BearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, BearerPrefix))
	}

	return ""
}

// WithClientID returns a context carrying clientID.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

// ClientIDFromContext retrieves the client ID from the context.
func ClientIDFromContext(ctx context.Context) (string, bool) {
	clientID, ok := ctx.Value(clientIDKey).(string)
	return clientID, ok
}

// RequireClientID retrieves the client ID from context or returns an error.
func RequireClientID(ctx context.Context) (string, error) {
	clientID, ok := ClientIDFromContext(ctx)
	if !ok || clientID == "" {
		return "", ErrUnauthorized
	}
	return clientID, nil
}
