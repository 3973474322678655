package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"crowdpark/internal/types"
)

// APIKeyHeader carries the shared API key. A Bearer Authorization header is
// accepted as well.
const APIKeyHeader = "X-API-Key"

// maxCachedKeys bounds the verified-key cache.
const maxCachedKeys = 64

// authPublicPaths are served without a key.
var authPublicPaths = map[string]bool{
	"/health": true,
}

// Authenticator verifies a presented API key.
type Authenticator interface {
	// Authenticate returns an auth_token_invalid AppError for a wrong key.
	Authenticate(ctx context.Context, key string) error
}

// APIKeyAuthenticator checks keys against a bcrypt hash. Successful keys are
// remembered by SHA-256 digest so bcrypt runs once per distinct key.
type APIKeyAuthenticator struct {
	hash []byte

	mu       sync.RWMutex
	verified map[string]struct{}
}

// NewAPIKeyAuthenticator validates that hash is a bcrypt hash.
func NewAPIKeyAuthenticator(hash string) (*APIKeyAuthenticator, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("API_KEY_HASH is not a bcrypt hash: %w", err)
	}
	return &APIKeyAuthenticator{
		hash:     []byte(hash),
		verified: make(map[string]struct{}),
	}, nil
}

// Authenticate implements Authenticator.
func (a *APIKeyAuthenticator) Authenticate(_ context.Context, key string) error {
	digest := digestKey(key)

	a.mu.RLock()
	_, ok := a.verified[digest]
	a.mu.RUnlock()
	if ok {
		return nil
	}

	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(key)); err != nil {
		return types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid API key", err)
	}

	a.mu.Lock()
	if len(a.verified) < maxCachedKeys {
		a.verified[digest] = struct{}{}
	}
	a.mu.Unlock()
	return nil
}

func digestKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// AuthMiddleware rejects requests without a valid API key. It passes
// everything through when no Authenticator is configured, and always
// serves public paths.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil || authPublicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		key := strings.TrimSpace(r.Header.Get(APIKeyHeader))
		if key == "" {
			key = extractBearerToken(r.Header.Get("Authorization"))
		}
		if key == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "API key is required")
			return
		}

		if err := s.Authenticator.Authenticate(r.Context(), key); err != nil {
			var appErr *types.AppError
			if !errors.As(err, &appErr) {
				s.Logger.Error("authentication failed: unexpected error",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
			} else {
				s.Logger.Warn("authentication failed",
					slog.String("path", r.URL.Path),
					slog.String("client_ip", extractClientIP(r)),
				)
			}
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractBearerToken returns the token from "Bearer <token>" (scheme is
// case-insensitive), or "" for any other format.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="crowdpark"`)
	JSON(w, r, http.StatusUnauthorized, APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			RequestID: types.GetRequestID(r.Context()),
		},
	})
}
