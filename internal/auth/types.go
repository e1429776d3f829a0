package auth

import "errors"

// Role is the kind of caller a token was issued to.
type Role string

const (
	// RoleDevice is a device opening its stream. The token subject is the
	// numeric device ID.
	RoleDevice Role = "device"

	// RoleUser is a person opening a client session. The token subject is
	// the numeric user ID.
	RoleUser Role = "user"

	// RoleService is a backend service that reads presence and sends
	// notifications. The subject is the service name.
	RoleService Role = "service"

	// RoleAdmin can do everything a service can, plus read the session
	// history and open client sessions.
	RoleAdmin Role = "admin"
)

// ValidRoles lists every role a token may carry.
var ValidRoles = []Role{RoleDevice, RoleUser, RoleService, RoleAdmin}

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// HasNumericSubject reports whether tokens for r identify a user or device
// by numeric ID.
func HasNumericSubject(r Role) bool {
	return r == RoleDevice || r == RoleUser
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient permissions")
)
