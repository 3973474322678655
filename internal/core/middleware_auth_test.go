package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"crowdpark/internal/types"
)

func mustHash(t *testing.T, key string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashing: %v", err)
	}
	return string(h)
}

type stubAuthenticator struct {
	err   error
	calls int
}

func (s *stubAuthenticator) Authenticate(context.Context, string) error {
	s.calls++
	return s.err
}

func TestNewAPIKeyAuthenticator_RejectsNonBcrypt(t *testing.T) {
	if _, err := NewAPIKeyAuthenticator("plaintext"); err == nil {
		t.Error("expected error for non-bcrypt hash")
	}
}

func TestAPIKeyAuthenticator(t *testing.T) {
	a, err := NewAPIKeyAuthenticator(mustHash(t, "s3cret"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := a.Authenticate(context.Background(), "s3cret"); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}
	if _, cached := a.verified[digestKey("s3cret")]; !cached {
		t.Error("expected valid key to be cached")
	}
	if err := a.Authenticate(context.Background(), "s3cret"); err != nil {
		t.Errorf("cached key rejected: %v", err)
	}

	err = a.Authenticate(context.Background(), "wrong")
	if !types.HasCode(err, types.ErrCodeAuthTokenInvalid) {
		t.Errorf("expected auth_token_invalid, got %v", err)
	}
	if _, cached := a.verified[digestKey("wrong")]; cached {
		t.Error("invalid key must not be cached")
	}
}

func TestAPIKeyAuthenticator_CacheBounded(t *testing.T) {
	a, err := NewAPIKeyAuthenticator(mustHash(t, "k"))
	if err != nil {
		t.Fatal(err)
	}
	for i := range maxCachedKeys + 5 {
		a.verified[digestKey(string(rune('a'+i)))] = struct{}{}
	}
	before := len(a.verified)
	if err := a.Authenticate(context.Background(), "k"); err != nil {
		t.Fatal(err)
	}
	if len(a.verified) != before {
		t.Error("cache grew past its bound")
	}
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		headers  map[string]string
		authErr  error
		wantCode int
		wantErr  types.ErrorCode
	}{
		{
			name:     "header key accepted",
			path:     "/v1/x",
			headers:  map[string]string{APIKeyHeader: "k"},
			wantCode: http.StatusOK,
		},
		{
			name:     "bearer key accepted",
			path:     "/v1/x",
			headers:  map[string]string{"Authorization": "bearer k"},
			wantCode: http.StatusOK,
		},
		{
			name:     "missing key",
			path:     "/v1/x",
			wantCode: http.StatusUnauthorized,
			wantErr:  types.ErrCodeAuthTokenMissing,
		},
		{
			name:     "non-bearer authorization",
			path:     "/v1/x",
			headers:  map[string]string{"Authorization": "Basic abc"},
			wantCode: http.StatusUnauthorized,
			wantErr:  types.ErrCodeAuthTokenMissing,
		},
		{
			name:     "wrong key",
			path:     "/v1/x",
			headers:  map[string]string{APIKeyHeader: "bad"},
			authErr:  types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid API key", nil),
			wantCode: http.StatusUnauthorized,
			wantErr:  types.ErrCodeAuthTokenInvalid,
		},
		{
			name:     "unexpected authenticator error",
			path:     "/v1/x",
			headers:  map[string]string{APIKeyHeader: "k"},
			authErr:  errors.New("boom"),
			wantCode: http.StatusUnauthorized,
			wantErr:  types.ErrCodeAuthTokenInvalid,
		},
		{
			name:     "health is public",
			path:     "/health",
			wantCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			srv.Authenticator = &stubAuthenticator{err: tt.authErr}

			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			srv.AuthMiddleware(okHandler()).ServeHTTP(w, r)

			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, w.Code)
			}
			if tt.wantErr == "" {
				return
			}
			var body APIErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error.Code != string(tt.wantErr) {
				t.Errorf("expected %s, got %s", tt.wantErr, body.Error.Code)
			}
			if w.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header")
			}
		})
	}
}

func TestAuthMiddleware_NoAuthenticator(t *testing.T) {
	srv := newTestServer(t)
	w := httptest.NewRecorder()
	srv.AuthMiddleware(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/x", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected pass-through, got %d", w.Code)
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":   "abc",
		"BEARER  abc ": "abc",
		"Basic abc":    "",
		"Bearer":       "",
		"":             "",
	}
	for in, want := range tests {
		if got := extractBearerToken(in); got != want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", in, got, want)
		}
	}
}
