package auth

import (
	"errors"
	"testing"
)

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleOperator, PermDeviceOperate, true},
		{RoleOperator, PermAuditRead, false},
		{RoleAdmin, PermDeviceOperate, true},
		{RoleAdmin, PermAuditRead, true},
		{"owner", PermDeviceOperate, false},
		{"", PermAuditRead, false},
	}
	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}

func TestParseRole(t *testing.T) {
	for _, r := range ValidRoles {
		got, err := ParseRole(string(r))
		if err != nil || got != r {
			t.Errorf("ParseRole(%q) = %q, %v", r, got, err)
		}
	}
	if _, err := ParseRole("Admin"); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("ParseRole(Admin) error = %v, want ErrInvalidRole", err)
	}
}
