package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/portalhq/portal/internal/auth"
	"github.com/portalhq/portal/internal/model"
	"github.com/portalhq/portal/internal/session"
	"github.com/portalhq/portal/internal/store"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func okHandler(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestID_Generated(t *testing.T) {
	t.Parallel()

	var captured string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if captured == "" {
		t.Error("expected a generated request ID in context")
	}
	if got := rec.Header().Get(RequestIDHeader); got != captured {
		t.Errorf("response header %q should match context ID %q", got, captured)
	}
}

func TestRequestID_Propagated(t *testing.T) {
	t.Parallel()

	var captured string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-supplied-id")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if captured != "client-supplied-id" {
		t.Errorf("expected client-supplied ID to be kept, got %q", captured)
	}
}

func TestCORS(t *testing.T) {
	t.Parallel()

	mw := CORS(CORSConfig{AllowedOrigins: []string{"https://app.example", "*"}, MaxAge: 600})

	t.Run("allowed origin", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.Header.Set("Origin", "https://app.example")
		rec := httptest.NewRecorder()
		mw(okHandler(t)).ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
			t.Errorf("unexpected allow-origin: %q", got)
		}
		if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
			t.Error("credentials should be allowed")
		}
	})

	t.Run("preflight", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodOptions, "/login", nil)
		req.Header.Set("Origin", "https://app.example")
		rec := httptest.NewRecorder()
		mw(okHandler(t)).ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("preflight should return 204, got %d", rec.Code)
		}
		if rec.Header().Get("Access-Control-Allow-Methods") == "" {
			t.Error("preflight should list allowed methods")
		}
		if rec.Header().Get("Access-Control-Max-Age") != "600" {
			t.Error("preflight should carry the max age")
		}
	})

	t.Run("unknown origin gets no headers", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		mw(okHandler(t)).ServeHTTP(rec, req)

		if rec.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("unknown origin should not receive CORS headers")
		}
	})

	t.Run("wildcard is never honored", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodOptions, "/login", nil)
		req.Header.Set("Origin", "https://random.example")
		rec := httptest.NewRecorder()
		mw(okHandler(t)).ServeHTTP(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Errorf("preflight from unlisted origin should be 403, got %d", rec.Code)
		}
	})

	t.Run("same-origin passes through", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		mw(okHandler(t)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		if rec.Code != http.StatusOK {
			t.Errorf("same-origin request should pass, got %d", rec.Code)
		}
	})
}

type fakeSessionReader struct {
	sessions map[string]*model.Session
}

func (f *fakeSessionReader) Get(_ context.Context, token string) (*model.Session, error) {
	if s, ok := f.sessions[token]; ok {
		return s, nil
	}
	return nil, session.ErrSessionNotFound
}

type fakeAccountReader struct {
	accounts map[string]*model.Account
}

func (f *fakeAccountReader) GetAccount(_ context.Context, email, app string) (*model.Account, error) {
	if a, ok := f.accounts[email+"|"+app]; ok {
		return a, nil
	}
	return nil, store.ErrAccountNotFound
}

func newSessionAuth(sessions map[string]*model.Session, accounts map[string]*model.Account) func(http.Handler) http.Handler {
	return SessionAuth(SessionAuthConfig{
		Logger:   discardLogger,
		Sessions: &fakeSessionReader{sessions: sessions},
		Accounts: &fakeAccountReader{accounts: accounts},
	})
}

func TestSessionAuth_ValidSession(t *testing.T) {
	t.Parallel()

	mw := newSessionAuth(
		map[string]*model.Session{
			"tok": {Token: "tok", Email: "dev@acme.io", App: "acme", Role: model.RoleUser, ExpiresAt: time.Now().Add(time.Hour)},
		},
		map[string]*model.Account{
			// Account role has been bumped since login; the new role must win.
			"dev@acme.io|acme": {Email: "dev@acme.io", App: "acme", Role: model.RoleDeveloper},
		},
	)

	var id model.Identity
	var ok bool
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok = auth.IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "tok"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !ok {
		t.Fatal("identity should be in context")
	}
	if id.Role != model.RoleDeveloper {
		t.Errorf("role should come from the account, got %q", id.Role)
	}
}

func TestSessionAuth_Rejections(t *testing.T) {
	t.Parallel()

	mw := newSessionAuth(
		map[string]*model.Session{
			"orphan": {Token: "orphan", Email: "gone@acme.io", App: "acme", Role: model.RoleUser, ExpiresAt: time.Now().Add(time.Hour)},
		},
		nil,
	)

	tests := []struct {
		name   string
		cookie *http.Cookie
	}{
		{"no cookie", nil},
		{"empty cookie", &http.Cookie{Name: SessionCookieName, Value: ""}},
		{"unknown token", &http.Cookie{Name: SessionCookieName, Value: "nope"}},
		{"deleted account", &http.Cookie{Name: SessionCookieName, Value: "orphan"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			rec := httptest.NewRecorder()
			mw(okHandler(t)).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}

			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("response should be JSON: %v", err)
			}
			if body["detail"] != "Invalid or expired session" {
				t.Errorf("unexpected detail: %q", body["detail"])
			}
		})
	}
}

type fakeLimiter struct {
	allowed bool
	err     error
}

func (f *fakeLimiter) CheckIPRateLimit(context.Context, string, int, int) (*session.RateLimitResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &session.RateLimitResult{Allowed: f.allowed, RetryAfter: 3 * time.Second}, nil
}

func TestRateLimitIP(t *testing.T) {
	t.Parallel()

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "10.0.0.1:54321"
		return req
	}

	t.Run("allowed", func(t *testing.T) {
		t.Parallel()

		mw := RateLimitIP(RateLimitConfig{Logger: discardLogger, Limiter: &fakeLimiter{allowed: true}, Enabled: true, RPS: 5, Burst: 10})
		rec := httptest.NewRecorder()
		mw(okHandler(t)).ServeHTTP(rec, newReq())

		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("denied", func(t *testing.T) {
		t.Parallel()

		mw := RateLimitIP(RateLimitConfig{Logger: discardLogger, Limiter: &fakeLimiter{allowed: false}, Enabled: true, RPS: 5, Burst: 10})
		rec := httptest.NewRecorder()
		mw(okHandler(t)).ServeHTTP(rec, newReq())

		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d", rec.Code)
		}
		if rec.Header().Get("Retry-After") != "3" {
			t.Errorf("unexpected Retry-After: %q", rec.Header().Get("Retry-After"))
		}
	})

	t.Run("fails open on limiter error", func(t *testing.T) {
		t.Parallel()

		mw := RateLimitIP(RateLimitConfig{Logger: discardLogger, Limiter: &fakeLimiter{err: context.DeadlineExceeded}, Enabled: true, RPS: 5, Burst: 10})
		rec := httptest.NewRecorder()
		mw(okHandler(t)).ServeHTTP(rec, newReq())

		if rec.Code != http.StatusOK {
			t.Errorf("limiter errors should fail open, got %d", rec.Code)
		}
	})

	t.Run("disabled is a no-op", func(t *testing.T) {
		t.Parallel()

		mw := RateLimitIP(RateLimitConfig{Logger: discardLogger, Limiter: &fakeLimiter{allowed: false}, Enabled: false})
		rec := httptest.NewRecorder()
		mw(okHandler(t)).ServeHTTP(rec, newReq())

		if rec.Code != http.StatusOK {
			t.Errorf("disabled limiter should pass everything, got %d", rec.Code)
		}
	})
}
