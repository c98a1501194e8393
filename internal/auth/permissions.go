package auth

import (
	"errors"
	"fmt"
)

// Role is an authorisation tier carried in a token.
type Role string

const (
	// RoleOperator may change device state.
	RoleOperator Role = "operator"

	// RoleAdmin may do everything an operator can and read the audit log.
	RoleAdmin Role = "admin"
)

// ValidRoles lists the roles a token may carry.
var ValidRoles = []Role{RoleOperator, RoleAdmin}

// Errors returned by this package.
var (
	ErrTokenInvalid = errors.New("auth: invalid token")
	ErrNoSecret     = errors.New("auth: jwt secret is not configured")
	ErrInvalidRole  = errors.New("auth: invalid role")
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	for _, r := range ValidRoles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// Permission is a named capability checked by API routes.
type Permission string

// Permission constants.
const (
	PermDeviceOperate Permission = "device:operate"
	PermAuditRead     Permission = "audit:read"
)

// rolePermissions maps each role to its granted permissions.
var rolePermissions = map[Role][]Permission{
	RoleOperator: {
		PermDeviceOperate,
	},
	RoleAdmin: {
		PermDeviceOperate,
		PermAuditRead,
	},
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}
