// Package handler provides HTTP request handlers.
//
// Mutating endpoints accept form-encoded fields and answer with a JSON
// acknowledgement; errors are {"detail": ...} status/detail pairs raised
// synchronously at the point of failure. Nothing is retried.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/portalhq/portal/internal/auth"
	"github.com/portalhq/portal/internal/mail"
	"github.com/portalhq/portal/internal/model"
	"github.com/portalhq/portal/internal/policy"
)

// AccountStore persists account records.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct *model.Account) error
	GetAccount(ctx context.Context, email, app string) (*model.Account, error)
	AccountsByEmail(ctx context.Context, email string) ([]*model.Account, error)
	AccountsByApp(ctx context.Context, app string) ([]*model.Account, error)
	UpdatePassword(ctx context.Context, email, passwordHash string) (int64, error)
	UpdateRole(ctx context.Context, email, app, role string) error
	DeleteAccount(ctx context.Context, email, app string) error
	DeleteAccountsByApp(ctx context.Context, app string) (int64, error)
	CountAccounts(ctx context.Context) (int64, error)
}

// AppStore persists the tenant registry and mutates tenant databases.
type AppStore interface {
	CreateApp(ctx context.Context, app *model.App) error
	GetApp(ctx context.Context, name string) (*model.App, error)
	ListApps(ctx context.Context) ([]*model.App, error)
	DeleteApp(ctx context.Context, name string) error
	SetOwner(ctx context.Context, name, owner string) error
	AddCollection(ctx context.Context, appName, collection string) error
	RemoveCollection(ctx context.Context, appName, collection string) error
	DropTenant(ctx context.Context, appName string) error
	SeedMember(ctx context.Context, appName string, collections []string, email string) error
	SeedCollection(ctx context.Context, appName, collection string, emails []string) error
	UpsertObject(ctx context.Context, appName, collection, userID string, fields map[string]any) error
	PurgeMemberDocs(ctx context.Context, appName string, collections []string, email string) error
}

// VerificationStore persists pending one-time codes.
type VerificationStore interface {
	PutVerification(ctx context.Context, rec *model.Verification) error
	GetVerification(ctx context.Context, email string) (*model.Verification, error)
	DeleteVerification(ctx context.Context, email string) error
}

// SessionStore creates, reads and deletes sessions.
type SessionStore interface {
	Create(ctx context.Context, id model.Identity) (*model.Session, error)
	Get(ctx context.Context, token string) (*model.Session, error)
	Delete(ctx context.Context, token string) error
}

// Config wires the handler dependencies.
type Config struct {
	Logger        *slog.Logger
	Accounts      AccountStore
	Apps          AppStore
	Verifications VerificationStore
	Sessions      SessionStore
	Mailer        mail.Sender

	// AdminEmail identifies the distinguished admin account (app scope "").
	AdminEmail string
	// VerificationTTL is the lifetime of one-time codes.
	VerificationTTL time.Duration
}

// Handler wraps application dependencies for HTTP handlers.
type Handler struct {
	logger        *slog.Logger
	accounts      AccountStore
	apps          AppStore
	verifications VerificationStore
	sessions      SessionStore
	mailer        mail.Sender

	adminEmail      string
	verificationTTL time.Duration
	now             func() time.Time
}

// New creates a new Handler instance.
func New(cfg Config) *Handler {
	return &Handler{
		logger:          cfg.Logger,
		accounts:        cfg.Accounts,
		apps:            cfg.Apps,
		verifications:   cfg.Verifications,
		sessions:        cfg.Sessions,
		mailer:          cfg.Mailer,
		adminEmail:      cfg.AdminEmail,
		verificationTTL: cfg.VerificationTTL,
		now:             time.Now,
	}
}

// Hello is the root info endpoint.
// GET /
func (h *Handler) Hello(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Portal API",
		"version": "0.1.0",
	})
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "Resource not found")
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

// emailRegex is a shape check, not RFC validation; the verification email is
// the real proof of ownership.
var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// nameRegex constrains app and collection names to characters safe for
// database and collection naming.
var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{1,40}$`)

func validEmail(email string) bool {
	return emailRegex.MatchString(email)
}

func validName(name string) bool {
	return nameRegex.MatchString(name)
}

// identity pulls the authenticated caller from the request context.
// The session middleware guarantees presence on protected routes; the 401
// here covers misrouted handlers.
func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
	}
	return id, ok
}

// authorize runs the policy check for the action and, for destructive
// actions, re-verifies the distinguished admin password submitted with the
// request. Writes the error response itself when denying.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, appName string, action policy.Action) (model.Identity, bool) {
	id, ok := h.identity(w, r)
	if !ok {
		return id, false
	}

	if !policy.Can(id, appName, action) {
		writeError(w, http.StatusForbidden, "Insufficient permissions")
		return id, false
	}

	if policy.RequiresAdminPassword(action) {
		if !h.verifyAdminPassword(r.Context(), r.FormValue("admin_password")) {
			writeError(w, http.StatusUnauthorized, "Invalid admin password")
			return id, false
		}
	}

	return id, true
}

// verifyAdminPassword checks the submitted password against the distinguished
// admin account.
func (h *Handler) verifyAdminPassword(ctx context.Context, password string) bool {
	if password == "" {
		return false
	}

	admin, err := h.accounts.GetAccount(ctx, h.adminEmail, "")
	if err != nil {
		h.logger.Error("admin account lookup failed", slog.String("error", err.Error()))
		return false
	}

	match, err := auth.VerifyPassword(password, admin.PasswordHash)
	if err != nil {
		return false
	}
	return match
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON status/detail error response.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeMessage writes a 200 JSON acknowledgement.
func writeMessage(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, map[string]string{"message": message})
}
