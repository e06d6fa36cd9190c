package auth

import "slices"

// Permission names one operator action on the API.
type Permission string

// Permission constants.
const (
	PermDeviceRead      Permission = "device:read"
	PermDeviceConfigure Permission = "device:configure"
	PermDeviceMessage   Permission = "device:message"
	PermBroadcast       Permission = "device:broadcast"
	PermEventsRead      Permission = "events:read"
)

// rolePermissions is the whole authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermDeviceRead,
		PermEventsRead,
	},
	RoleOperator: {
		PermDeviceRead,
		PermDeviceConfigure,
		PermDeviceMessage,
		PermBroadcast,
		PermEventsRead,
	},
}

// HasPermission reports whether role grants perm. Unknown roles grant nothing.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}

// PermissionsForRole returns a copy of the permissions granted to role, or
// nil for an unknown role.
func PermissionsForRole(role Role) []Permission {
	return slices.Clone(rolePermissions[role])
}
