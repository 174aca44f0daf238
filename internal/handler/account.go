package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/portalhq/portal/internal/auth"
	"github.com/portalhq/portal/internal/middleware"
	"github.com/portalhq/portal/internal/model"
	"github.com/portalhq/portal/internal/session"
	"github.com/portalhq/portal/internal/store"
)

// Register starts a registration: it validates the request, stores a pending
// verification record and emails a 6-digit code. No account exists until the
// code is confirmed via VerifyEmail.
//
// POST /register
// Form fields: email, password, app_name, account_type?, admin_password?
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(strings.ToLower(r.FormValue("email")))
	password := r.FormValue("password")
	appName := r.FormValue("app_name")
	role := r.FormValue("account_type")

	if !validEmail(email) {
		writeError(w, http.StatusBadRequest, "Invalid email address")
		return
	}
	if password == "" {
		writeError(w, http.StatusBadRequest, "Password is required")
		return
	}
	if role == "" {
		role = model.RoleUser
	}
	if !model.IsValidRole(role) {
		writeError(w, http.StatusBadRequest, "Invalid account type")
		return
	}

	if _, err := h.apps.GetApp(r.Context(), appName); err != nil {
		if errors.Is(err, store.ErrAppNotFound) {
			writeError(w, http.StatusNotFound, "App not found")
			return
		}
		h.serverError(w, r, "app lookup failed", err)
		return
	}

	// Requesting an elevated role requires the distinguished admin password
	// on top of everything else.
	if role != model.RoleUser {
		if !h.verifyAdminPassword(r.Context(), r.FormValue("admin_password")) {
			writeError(w, http.StatusUnauthorized, "Invalid admin password")
			return
		}
	}

	if _, err := h.accounts.GetAccount(r.Context(), email, appName); err == nil {
		writeError(w, http.StatusConflict, "Email already registered for this app")
		return
	} else if !errors.Is(err, store.ErrAccountNotFound) {
		h.serverError(w, r, "account lookup failed", err)
		return
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		h.serverError(w, r, "password hashing failed", err)
		return
	}

	code, err := auth.NewVerificationCode()
	if err != nil {
		h.serverError(w, r, "code generation failed", err)
		return
	}

	now := h.now()
	rec := &model.Verification{
		Email:        email,
		Code:         code,
		Purpose:      model.PurposeRegister,
		PasswordHash: hash,
		Role:         role,
		App:          appName,
		ExpiresAt:    now.Add(h.verificationTTL),
		CreatedAt:    now,
	}

	if err := h.verifications.PutVerification(r.Context(), rec); err != nil {
		h.serverError(w, r, "failed to store verification record", err)
		return
	}

	if err := h.mailer.SendCode(r.Context(), email, code); err != nil {
		h.serverError(w, r, "failed to send verification email", err)
		return
	}

	h.logger.Info("verification code sent",
		slog.String("email", email),
		slog.String("app", appName),
		slog.String("role", role),
	)

	writeMessage(w, "Verification code sent")
}

// VerifyEmail completes a registration: it consumes the pending verification
// record, inserts the account and fans a placeholder membership document out
// into every existing collection of the target app.
//
// POST /verify_email
// Form fields: email, code
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(strings.ToLower(r.FormValue("email")))
	code := r.FormValue("code")

	rec, err := h.verifications.GetVerification(r.Context(), email)
	if err != nil {
		if errors.Is(err, store.ErrVerificationNotFound) {
			writeError(w, http.StatusNotFound, "Verification record not found")
			return
		}
		h.serverError(w, r, "verification lookup failed", err)
		return
	}

	if rec.Purpose != model.PurposeRegister {
		writeError(w, http.StatusNotFound, "Verification record not found")
		return
	}

	if rec.Expired(h.now()) {
		// TTL index sweeps lazily; drop the stale record ourselves.
		_ = h.verifications.DeleteVerification(r.Context(), email)
		writeError(w, http.StatusBadRequest, "Verification code expired")
		return
	}

	if rec.Code != code {
		writeError(w, http.StatusBadRequest, "Invalid verification code")
		return
	}

	app, err := h.apps.GetApp(r.Context(), rec.App)
	if err != nil {
		if errors.Is(err, store.ErrAppNotFound) {
			writeError(w, http.StatusNotFound, "App not found")
			return
		}
		h.serverError(w, r, "app lookup failed", err)
		return
	}

	acct := &model.Account{
		ID:           ulid.Make().String(),
		Email:        email,
		App:          rec.App,
		Role:         rec.Role,
		PasswordHash: rec.PasswordHash,
		CreatedAt:    h.now(),
	}

	if err := h.accounts.CreateAccount(r.Context(), acct); err != nil {
		if errors.Is(err, store.ErrEmailExists) {
			writeError(w, http.StatusConflict, "Email already registered for this app")
			return
		}
		h.serverError(w, r, "account creation failed", err)
		return
	}

	if err := h.apps.SeedMember(r.Context(), rec.App, app.Collections, email); err != nil {
		// Account exists but membership fan-out failed partway; no
		// transaction covers the two steps.
		h.serverError(w, r, "membership fan-out failed", err)
		return
	}

	if err := h.verifications.DeleteVerification(r.Context(), email); err != nil {
		h.logger.Warn("failed to delete consumed verification record",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
	}

	h.logger.Info("account registered",
		slog.String("email", email),
		slog.String("app", rec.App),
		slog.String("role", rec.Role),
	)

	writeMessage(w, "User registered successfully")
}

// Login verifies credentials and opens a session, returned as an opaque
// cookie token. Candidate accounts are scoped by app when app_name is given;
// otherwise every account under the email is tried, which covers the
// unscoped distinguished admin.
//
// POST /login
// Form fields: email, password, app_name?
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(strings.ToLower(r.FormValue("email")))
	password := r.FormValue("password")
	appName := r.FormValue("app_name")

	if email == "" || password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	var candidates []*model.Account
	if appName != "" && email != h.adminEmail {
		acct, err := h.accounts.GetAccount(r.Context(), email, appName)
		if err != nil && !errors.Is(err, store.ErrAccountNotFound) {
			h.serverError(w, r, "account lookup failed", err)
			return
		}
		if acct != nil {
			candidates = append(candidates, acct)
		}
	} else {
		accts, err := h.accounts.AccountsByEmail(r.Context(), email)
		if err != nil {
			h.serverError(w, r, "account lookup failed", err)
			return
		}
		candidates = accts
	}

	var matched *model.Account
	for _, acct := range candidates {
		ok, err := auth.VerifyPassword(password, acct.PasswordHash)
		if err != nil {
			continue
		}
		if ok {
			matched = acct
			break
		}
	}

	// One message for unknown email and wrong password alike.
	if matched == nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	sess, err := h.sessions.Create(r.Context(), model.Identity{
		Email: matched.Email,
		App:   matched.App,
		Role:  matched.Role,
	})
	if err != nil {
		h.serverError(w, r, "session creation failed", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	h.logger.Info("login successful",
		slog.String("email", matched.Email),
		slog.String("app", matched.App),
	)

	writeMessage(w, "Login successful")
}

// Me returns the identity behind the session cookie.
//
// GET /me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, id)
}

// Logout unconditionally deletes the session and clears the cookie.
// Logging out an already-absent session is not an error.
//
// POST /logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil && cookie.Value != "" {
		if err := h.sessions.Delete(r.Context(), cookie.Value); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
			h.logger.Warn("session deletion failed", slog.String("error", err.Error()))
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	writeMessage(w, "Logged out")
}

// ResetPassword starts a password reset by emailing a fresh one-time code.
// The record replaces any pending code for the email.
//
// POST /reset_password
// Form fields: email
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(strings.ToLower(r.FormValue("email")))

	if !validEmail(email) {
		writeError(w, http.StatusBadRequest, "Invalid email address")
		return
	}

	accts, err := h.accounts.AccountsByEmail(r.Context(), email)
	if err != nil {
		h.serverError(w, r, "account lookup failed", err)
		return
	}
	if len(accts) == 0 {
		writeError(w, http.StatusNotFound, "Account not found")
		return
	}

	code, err := auth.NewVerificationCode()
	if err != nil {
		h.serverError(w, r, "code generation failed", err)
		return
	}

	now := h.now()
	rec := &model.Verification{
		Email:     email,
		Code:      code,
		Purpose:   model.PurposeReset,
		ExpiresAt: now.Add(h.verificationTTL),
		CreatedAt: now,
	}

	if err := h.verifications.PutVerification(r.Context(), rec); err != nil {
		h.serverError(w, r, "failed to store verification record", err)
		return
	}

	if err := h.mailer.SendCode(r.Context(), email, code); err != nil {
		h.serverError(w, r, "failed to send verification email", err)
		return
	}

	h.logger.Info("password reset code sent", slog.String("email", email))

	writeMessage(w, "Verification code sent")
}

// ConfirmResetPassword consumes the reset code and replaces the password hash
// on every account registered under the email.
//
// POST /confirm_reset_password
// Form fields: email, code, new_password
func (h *Handler) ConfirmResetPassword(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(strings.ToLower(r.FormValue("email")))
	code := r.FormValue("code")
	newPassword := r.FormValue("new_password")

	if newPassword == "" {
		writeError(w, http.StatusBadRequest, "New password is required")
		return
	}

	rec, err := h.verifications.GetVerification(r.Context(), email)
	if err != nil {
		if errors.Is(err, store.ErrVerificationNotFound) {
			writeError(w, http.StatusNotFound, "Verification record not found")
			return
		}
		h.serverError(w, r, "verification lookup failed", err)
		return
	}

	if rec.Purpose != model.PurposeReset {
		writeError(w, http.StatusNotFound, "Verification record not found")
		return
	}

	if rec.Expired(h.now()) {
		_ = h.verifications.DeleteVerification(r.Context(), email)
		writeError(w, http.StatusBadRequest, "Verification code expired")
		return
	}

	if rec.Code != code {
		writeError(w, http.StatusBadRequest, "Invalid verification code")
		return
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		h.serverError(w, r, "password hashing failed", err)
		return
	}

	n, err := h.accounts.UpdatePassword(r.Context(), email, hash)
	if err != nil {
		h.serverError(w, r, "password update failed", err)
		return
	}
	if n == 0 {
		writeError(w, http.StatusNotFound, "Account not found")
		return
	}

	if err := h.verifications.DeleteVerification(r.Context(), email); err != nil {
		h.logger.Warn("failed to delete consumed verification record",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
	}

	h.logger.Info("password reset completed", slog.String("email", email))

	writeMessage(w, "Password reset successfully")
}

// serverError logs and answers a 500 without leaking internals.
func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg,
		slog.String("error", err.Error()),
		slog.String("request_id", middleware.GetRequestID(r.Context())),
	)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}
