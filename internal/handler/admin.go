package handler

import (
	"net/http"

	"github.com/portalhq/portal/internal/policy"
)

// appSummary is one row of the dashboard app listing.
type appSummary struct {
	Name        string `json:"name"`
	Owner       string `json:"owner"`
	Collections int    `json:"collections"`
}

// Dashboard returns a summary of the deployment for the distinguished admin.
//
// GET /admin/dashboard
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, "", policy.ActionViewDashboard); !ok {
		return
	}

	apps, err := h.apps.ListApps(r.Context())
	if err != nil {
		h.serverError(w, r, "app listing failed", err)
		return
	}

	accounts, err := h.accounts.CountAccounts(r.Context())
	if err != nil {
		h.serverError(w, r, "account count failed", err)
		return
	}

	summaries := make([]appSummary, 0, len(apps))
	for _, app := range apps {
		summaries = append(summaries, appSummary{
			Name:        app.Name,
			Owner:       app.Owner,
			Collections: len(app.Collections),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_apps":     len(apps),
		"total_accounts": accounts,
		"apps":           summaries,
	})
}
