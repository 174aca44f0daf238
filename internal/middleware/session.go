package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/portalhq/portal/internal/auth"
	"github.com/portalhq/portal/internal/model"
	"github.com/portalhq/portal/internal/session"
	"github.com/portalhq/portal/internal/store"
)

// SessionCookieName is the cookie carrying the opaque session token.
const SessionCookieName = "portal_session"

// SessionReader reads and lazily expires sessions.
type SessionReader interface {
	Get(ctx context.Context, token string) (*model.Session, error)
}

// AccountReader looks up the account a session vouches for.
type AccountReader interface {
	GetAccount(ctx context.Context, email, app string) (*model.Account, error)
}

// SessionAuthConfig holds configuration for the session auth middleware.
type SessionAuthConfig struct {
	Logger   *slog.Logger
	Sessions SessionReader
	Accounts AccountReader
}

// SessionAuth returns a middleware that authenticates requests by session
// cookie. The account behind the session is re-read on every request, so a
// session stops authorizing the moment its account is deleted (e.g. by an
// app deletion cascade).
func SessionAuth(cfg SessionAuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				writeSessionError(w)
				return
			}

			sess, err := cfg.Sessions.Get(r.Context(), cookie.Value)
			if err != nil {
				if !errors.Is(err, session.ErrSessionNotFound) {
					cfg.Logger.Error("session store error",
						slog.String("error", err.Error()),
						slog.String("request_id", GetRequestID(r.Context())),
					)
				}
				writeSessionError(w)
				return
			}

			acct, err := cfg.Accounts.GetAccount(r.Context(), sess.Email, sess.App)
			if err != nil {
				if !errors.Is(err, store.ErrAccountNotFound) {
					cfg.Logger.Error("account lookup error during auth",
						slog.String("error", err.Error()),
						slog.String("request_id", GetRequestID(r.Context())),
					)
				} else {
					cfg.Logger.Warn("session for deleted account",
						slog.String("email", sess.Email),
						slog.String("app", sess.App),
						slog.String("request_id", GetRequestID(r.Context())),
					)
				}
				writeSessionError(w)
				return
			}

			// Role comes from the account, not the session, so role changes
			// take effect without a re-login.
			id := model.Identity{Email: acct.Email, App: acct.App, Role: acct.Role}
			ctx := auth.ContextWithIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeSessionError writes a 401 Unauthorized response.
// One message for every failure mode to prevent probing.
func writeSessionError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"detail":"Invalid or expired session"}`))
}
