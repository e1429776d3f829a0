package auth

// Permission represents a named capability in the hub.
type Permission string

// Permission constants.
const (
	PermClientConnect Permission = "client:connect"
	PermDeviceStream  Permission = "device:stream"
	PermPresenceRead  Permission = "presence:read"
	PermGroupsManage  Permission = "groups:manage"
	PermNotify        Permission = "notify:send"
	PermDeviceEnqueue Permission = "device:enqueue"
	PermSessionsRead  Permission = "sessions:read"
)

// rolePermissions is the single source of truth for authorisation.
var rolePermissions = map[Role][]Permission{
	RoleDevice: {
		PermDeviceStream,
	},
	RoleUser: {
		PermClientConnect,
	},
	RoleService: {
		PermPresenceRead,
		PermGroupsManage,
		PermNotify,
		PermDeviceEnqueue,
	},
	RoleAdmin: {
		PermClientConnect,
		PermPresenceRead,
		PermGroupsManage,
		PermNotify,
		PermDeviceEnqueue,
		PermSessionsRead,
	},
}

// HasPermission returns true if the role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns a copy of the permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}
