package model

import "testing"

func TestIsValidRole(t *testing.T) {
	t.Parallel()

	for _, role := range ValidRoles {
		if !IsValidRole(role) {
			t.Errorf("%q should be a valid role", role)
		}
	}

	for _, role := range []string{"", "root", "Developer", "superuser"} {
		if IsValidRole(role) {
			t.Errorf("%q should not be a valid role", role)
		}
	}
}

func TestRoleAtLeast(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role, min string
		want      bool
	}{
		{RoleUser, RoleUser, true},
		{RoleUser, RoleDeveloper, false},
		{RoleDeveloper, RoleUser, true},
		{RoleDeveloper, RoleDeveloper, true},
		{RoleDeveloper, RoleAdmin, false},
		{RoleAdmin, RoleDeveloper, true},
		{"unknown", RoleUser, false},
	}

	for _, tt := range tests {
		if got := RoleAtLeast(tt.role, tt.min); got != tt.want {
			t.Errorf("RoleAtLeast(%q, %q) = %v, want %v", tt.role, tt.min, got, tt.want)
		}
	}
}

func TestIdentity_IsRootAdmin(t *testing.T) {
	t.Parallel()

	if !(Identity{Email: "a@b.com", App: "", Role: RoleAdmin}).IsRootAdmin() {
		t.Error("unscoped admin should be the root admin")
	}
	if (Identity{Email: "a@b.com", App: "acme", Role: RoleAdmin}).IsRootAdmin() {
		t.Error("app-scoped admin should not be the root admin")
	}
	if (Identity{Email: "a@b.com", App: "", Role: RoleDeveloper}).IsRootAdmin() {
		t.Error("unscoped developer should not be the root admin")
	}
}
