// Package policy holds the authorization decision logic.
//
// Every state-mutating handler consults Can instead of re-deriving role and
// membership checks per endpoint. This is a deliberately simple allow-list
// check over the caller identity, not a policy engine: no delegation, no
// expiring grants, no audit trail.
package policy

import "github.com/portalhq/portal/internal/model"

// Action enumerates the operations the policy knows about.
type Action int

const (
	// ActionCreateApp creates a new tenant app.
	ActionCreateApp Action = iota
	// ActionDeleteApp deletes an app and cascades to its data.
	ActionDeleteApp
	// ActionAddCollection adds a named collection to an app.
	ActionAddCollection
	// ActionDeleteCollection drops a collection from an app.
	ActionDeleteCollection
	// ActionListCollections lists an app's collections.
	ActionListCollections
	// ActionListApps lists registered apps.
	ActionListApps
	// ActionUpdateObject mutates a document in a tenant collection.
	ActionUpdateObject
	// ActionDeleteUser removes a member account from an app.
	ActionDeleteUser
	// ActionTransferOwnership reassigns the app owner.
	ActionTransferOwnership
	// ActionChangeRole changes a member account's role.
	ActionChangeRole
	// ActionViewDashboard views the admin dashboard.
	ActionViewDashboard
)

// destructive actions require call-time re-verification of the distinguished
// admin account's password on top of the caller's own session.
var destructive = map[Action]bool{
	ActionDeleteApp:         true,
	ActionDeleteCollection:  true,
	ActionDeleteUser:        true,
	ActionTransferOwnership: true,
	ActionChangeRole:        true,
}

// RequiresAdminPassword reports whether the action demands re-entry of the
// distinguished admin password at call time.
func RequiresAdminPassword(action Action) bool {
	return destructive[action]
}

// Can decides whether the caller may perform action against the named app.
//
// Rules:
//   - the distinguished admin identity bypasses all scope checks;
//   - the dashboard is admin-only;
//   - listing apps is open to any authenticated identity (the handler
//     narrows the result to membership and ownership);
//   - every other app-management action requires role "developer" or better;
//   - except for app creation (the app does not exist yet), the caller's
//     recorded app scope must match the target app.
func Can(id model.Identity, appName string, action Action) bool {
	if id.IsRootAdmin() {
		return true
	}

	if action == ActionViewDashboard {
		return false
	}

	if action == ActionListApps {
		return true
	}

	if !model.RoleAtLeast(id.Role, model.RoleDeveloper) {
		return false
	}

	switch action {
	case ActionCreateApp:
		return true
	default:
		return id.App == appName
	}
}
