package authz

import (
	"testing"
)

func TestOutranks(t *testing.T) {
	tests := []struct {
		name string
		a, b Role
		want bool
	}{
		{"global admin outranks company admin", RoleGlobalAdmin, RoleCompanyAdmin, true},
		{"company admin outranks moderator", RoleCompanyAdmin, RoleModerator, true},
		{"moderator outranks controller", RoleModerator, RoleController, true},
		{"controller outranks user", RoleController, RoleUser, true},
		{"user does not outrank controller", RoleUser, RoleController, false},
		{"equal roles do not outrank", RoleModerator, RoleModerator, false},
		{"user does not outrank global admin", RoleUser, RoleGlobalAdmin, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Outranks(tt.a, tt.b); got != tt.want {
				t.Errorf("Outranks(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSameOrHigher(t *testing.T) {
	if !SameOrHigher(RoleModerator, RoleModerator) {
		t.Error("expected equal roles to be same-or-higher")
	}
	if !SameOrHigher(RoleGlobalAdmin, RoleUser) {
		t.Error("expected global admin to be same-or-higher than user")
	}
	if SameOrHigher(RoleUser, RoleModerator) {
		t.Error("expected user not to be same-or-higher than moderator")
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		input   string
		want    Role
		wantErr bool
	}{
		{"global_admin", RoleGlobalAdmin, false},
		{"company_admin", RoleCompanyAdmin, false},
		{"moderator", RoleModerator, false},
		{"controller", RoleController, false},
		{"user", RoleUser, false},
		// Legacy aliases from older clients
		{"admin", RoleCompanyAdmin, false},
		{"administrator", RoleCompanyAdmin, false},
		{"ADMIN", RoleGlobalAdmin, false},
		{"OFFICER", RoleController, false},
		{"USER", RoleUser, false},
		{"responder", RoleController, false},
		// Unknown literals are rejected, never defaulted
		{"superuser", "", true},
		{"", "", true},
		{"Moderator", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseRole(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseRole(%q) expected error, got %s", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRole(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseRole(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestParsePrincipalStatus(t *testing.T) {
	for _, valid := range []string{"pending", "active", "suspended"} {
		if _, err := ParsePrincipalStatus(valid); err != nil {
			t.Errorf("ParsePrincipalStatus(%q) unexpected error: %v", valid, err)
		}
	}
	if _, err := ParsePrincipalStatus("deleted"); err == nil {
		t.Error("expected error for unknown status literal")
	}
}
