package auth

import "errors"

// Role is the authorisation tier carried in an operator token.
type Role string

// Roles.
const (
	// RoleViewer can read device records, stats and the event journal.
	RoleViewer Role = "viewer"

	// RoleOperator can also push config, send messages and broadcast.
	RoleOperator Role = "operator"
)

// ValidRoles lists every role a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator}

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if v == r {
			return true
		}
	}
	return false
}

// Auth errors.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient permissions")
)
