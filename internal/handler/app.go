package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/portalhq/portal/internal/model"
	"github.com/portalhq/portal/internal/policy"
	"github.com/portalhq/portal/internal/store"
)

// CreateApp registers a new tenant app owned by the caller.
//
// POST /create_app
// Form fields: app_name
func (h *Handler) CreateApp(w http.ResponseWriter, r *http.Request) {
	appName := r.FormValue("app_name")
	if !validName(appName) {
		writeError(w, http.StatusBadRequest, "Invalid app name")
		return
	}

	id, ok := h.authorize(w, r, appName, policy.ActionCreateApp)
	if !ok {
		return
	}

	app := &model.App{
		ID:          ulid.Make().String(),
		Name:        appName,
		Owner:       id.Email,
		Collections: []string{},
		CreatedAt:   h.now(),
	}

	if err := h.apps.CreateApp(r.Context(), app); err != nil {
		if errors.Is(err, store.ErrAppExists) {
			writeError(w, http.StatusConflict, "App name already taken")
			return
		}
		h.serverError(w, r, "app creation failed", err)
		return
	}

	h.logger.Info("app created",
		slog.String("app", appName),
		slog.String("owner", id.Email),
	)

	writeMessage(w, "App created successfully")
}

// DeleteApp removes the registry entry, drops the tenant database and
// deletes member accounts. The cascade is best-effort: a failure partway
// leaves orphaned data with no reconciliation path.
//
// POST /delete_app
// Form fields: app_name, admin_password
func (h *Handler) DeleteApp(w http.ResponseWriter, r *http.Request) {
	appName := r.FormValue("app_name")

	if _, ok := h.authorize(w, r, appName, policy.ActionDeleteApp); !ok {
		return
	}

	if err := h.apps.DeleteApp(r.Context(), appName); err != nil {
		if errors.Is(err, store.ErrAppNotFound) {
			writeError(w, http.StatusNotFound, "App not found")
			return
		}
		h.serverError(w, r, "app deletion failed", err)
		return
	}

	if err := h.apps.DropTenant(r.Context(), appName); err != nil {
		h.serverError(w, r, "tenant database drop failed", err)
		return
	}

	n, err := h.accounts.DeleteAccountsByApp(r.Context(), appName)
	if err != nil {
		h.serverError(w, r, "member account deletion failed", err)
		return
	}

	h.logger.Info("app deleted",
		slog.String("app", appName),
		slog.Int64("accounts_removed", n),
	)

	writeMessage(w, "App deleted successfully")
}

// AddCollection creates a named collection in the app's tenant database and
// backfills one placeholder membership document per existing member.
//
// POST /add_collection
// Form fields: app_name, collection_name
func (h *Handler) AddCollection(w http.ResponseWriter, r *http.Request) {
	appName := r.FormValue("app_name")
	collection := r.FormValue("collection_name")

	if !validName(collection) {
		writeError(w, http.StatusBadRequest, "Invalid collection name")
		return
	}

	if _, ok := h.authorize(w, r, appName, policy.ActionAddCollection); !ok {
		return
	}

	app, err := h.apps.GetApp(r.Context(), appName)
	if err != nil {
		if errors.Is(err, store.ErrAppNotFound) {
			writeError(w, http.StatusNotFound, "App not found")
			return
		}
		h.serverError(w, r, "app lookup failed", err)
		return
	}

	if app.HasCollection(collection) {
		writeError(w, http.StatusConflict, "Collection already exists")
		return
	}

	members, err := h.accounts.AccountsByApp(r.Context(), appName)
	if err != nil {
		h.serverError(w, r, "member lookup failed", err)
		return
	}

	if err := h.apps.AddCollection(r.Context(), appName, collection); err != nil {
		if errors.Is(err, store.ErrCollectionExists) {
			writeError(w, http.StatusConflict, "Collection already exists")
			return
		}
		h.serverError(w, r, "collection creation failed", err)
		return
	}

	emails := make([]string, 0, len(members))
	for _, m := range members {
		emails = append(emails, m.Email)
	}

	if err := h.apps.SeedCollection(r.Context(), appName, collection, emails); err != nil {
		h.serverError(w, r, "collection backfill failed", err)
		return
	}

	h.logger.Info("collection added",
		slog.String("app", appName),
		slog.String("collection", collection),
		slog.Int("members_seeded", len(emails)),
	)

	writeMessage(w, "Collection added successfully")
}

// DeleteCollection drops a collection from the app.
//
// POST /delete_collection
// Form fields: app_name, collection_name, admin_password
func (h *Handler) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	appName := r.FormValue("app_name")
	collection := r.FormValue("collection_name")

	if _, ok := h.authorize(w, r, appName, policy.ActionDeleteCollection); !ok {
		return
	}

	if err := h.apps.RemoveCollection(r.Context(), appName, collection); err != nil {
		switch {
		case errors.Is(err, store.ErrAppNotFound):
			writeError(w, http.StatusNotFound, "App not found")
		case errors.Is(err, store.ErrCollectionNotFound):
			writeError(w, http.StatusNotFound, "Collection not found")
		default:
			h.serverError(w, r, "collection deletion failed", err)
		}
		return
	}

	h.logger.Info("collection deleted",
		slog.String("app", appName),
		slog.String("collection", collection),
	)

	writeMessage(w, "Collection deleted successfully")
}

// ListCollections returns the app's registered collections.
//
// GET /list_collections?app_name=...
func (h *Handler) ListCollections(w http.ResponseWriter, r *http.Request) {
	appName := r.URL.Query().Get("app_name")

	if _, ok := h.authorize(w, r, appName, policy.ActionListCollections); !ok {
		return
	}

	app, err := h.apps.GetApp(r.Context(), appName)
	if err != nil {
		if errors.Is(err, store.ErrAppNotFound) {
			writeError(w, http.StatusNotFound, "App not found")
			return
		}
		h.serverError(w, r, "app lookup failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"app":         app.Name,
		"collections": app.Collections,
	})
}

// ListApps returns the apps visible to the caller: everything for the
// distinguished admin, otherwise the apps the caller belongs to or owns.
//
// GET /apps
func (h *Handler) ListApps(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r, "", policy.ActionListApps)
	if !ok {
		return
	}

	apps, err := h.apps.ListApps(r.Context())
	if err != nil {
		h.serverError(w, r, "app listing failed", err)
		return
	}

	if !id.IsRootAdmin() {
		visible := apps[:0]
		for _, app := range apps {
			if app.Name == id.App || app.Owner == id.Email {
				visible = append(visible, app)
			}
		}
		apps = visible
	}

	if apps == nil {
		apps = []*model.App{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"apps": apps})
}

// UpdateObject merges a JSON payload onto a member's document in a tenant
// collection, creating the document if absent.
//
// POST /update_object
// Form fields: app_name, collection_name, user_id, data (JSON object)
func (h *Handler) UpdateObject(w http.ResponseWriter, r *http.Request) {
	appName := r.FormValue("app_name")
	collection := r.FormValue("collection_name")
	userID := r.FormValue("user_id")
	data := r.FormValue("data")

	if _, ok := h.authorize(w, r, appName, policy.ActionUpdateObject); !ok {
		return
	}

	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	app, err := h.apps.GetApp(r.Context(), appName)
	if err != nil {
		if errors.Is(err, store.ErrAppNotFound) {
			writeError(w, http.StatusNotFound, "App not found")
			return
		}
		h.serverError(w, r, "app lookup failed", err)
		return
	}

	if !app.HasCollection(collection) {
		writeError(w, http.StatusNotFound, "Collection not found")
		return
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	if err := h.apps.UpsertObject(r.Context(), appName, collection, userID, fields); err != nil {
		h.serverError(w, r, "object update failed", err)
		return
	}

	writeMessage(w, "Object updated successfully")
}

// DeleteUser removes a member account from an app along with the member's
// documents in the app's collections.
//
// POST /delete_user
// Form fields: email, app_name, admin_password
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(strings.ToLower(r.FormValue("email")))
	appName := r.FormValue("app_name")

	if _, ok := h.authorize(w, r, appName, policy.ActionDeleteUser); !ok {
		return
	}

	app, err := h.apps.GetApp(r.Context(), appName)
	if err != nil {
		if errors.Is(err, store.ErrAppNotFound) {
			writeError(w, http.StatusNotFound, "App not found")
			return
		}
		h.serverError(w, r, "app lookup failed", err)
		return
	}

	if err := h.accounts.DeleteAccount(r.Context(), email, appName); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		h.serverError(w, r, "account deletion failed", err)
		return
	}

	if err := h.apps.PurgeMemberDocs(r.Context(), appName, app.Collections, email); err != nil {
		h.serverError(w, r, "member document purge failed", err)
		return
	}

	h.logger.Info("user deleted",
		slog.String("email", email),
		slog.String("app", appName),
	)

	writeMessage(w, "User deleted successfully")
}

// TransferOwnership reassigns the app's owner to another member account.
//
// POST /transfer_app_ownership
// Form fields: app_name, new_owner, admin_password
func (h *Handler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	appName := r.FormValue("app_name")
	newOwner := strings.TrimSpace(strings.ToLower(r.FormValue("new_owner")))

	if _, ok := h.authorize(w, r, appName, policy.ActionTransferOwnership); !ok {
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

	if _, err := h.accounts.GetAccount(r.Context(), newOwner, appName); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "New owner is not a member of this app")
			return
		}
		h.serverError(w, r, "account lookup failed", err)
		return
	}

	if err := h.apps.SetOwner(r.Context(), appName, newOwner); err != nil {
		h.serverError(w, r, "ownership transfer failed", err)
		return
	}

	h.logger.Info("app ownership transferred",
		slog.String("app", appName),
		slog.String("new_owner", newOwner),
	)

	writeMessage(w, "Ownership transferred successfully")
}

// ChangeUserType changes a member account's role.
//
// POST /change_user_type
// Form fields: email, app_name, new_type, admin_password
func (h *Handler) ChangeUserType(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(strings.ToLower(r.FormValue("email")))
	appName := r.FormValue("app_name")
	newRole := r.FormValue("new_type")

	if !model.IsValidRole(newRole) {
		writeError(w, http.StatusBadRequest, "Invalid account type")
		return
	}

	if _, ok := h.authorize(w, r, appName, policy.ActionChangeRole); !ok {
		return
	}

	if err := h.accounts.UpdateRole(r.Context(), email, appName, newRole); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		h.serverError(w, r, "role update failed", err)
		return
	}

	h.logger.Info("user role changed",
		slog.String("email", email),
		slog.String("app", appName),
		slog.String("new_type", newRole),
	)

	writeMessage(w, "User type updated successfully")
}
