package presence

import "time"

// Connection is a snapshot of one live client session.
//
// Values returned by the Registry are copies; mutating one has no effect on
// the registry.
type Connection struct {
	UserID        int64     `json:"user_id"`
	ConnectionID  string    `json:"connection_id"`
	RemoteAddress string    `json:"remote_address,omitempty"`
	ConnectedAt   time.Time `json:"connected_at"`
	Groups        []string  `json:"groups"`
}

// InGroup reports whether the snapshot was subscribed to the named group.
func (c Connection) InGroup(name string) bool {
	for _, g := range c.Groups {
		if g == name {
			return true
		}
	}
	return false
}

// Stats summarises registry contents.
type Stats struct {
	Connections int `json:"connections"`
	OnlineUsers int `json:"online_users"`
	Groups      int `json:"groups"`
}

// record is the registry-owned, mutable form of a Connection.
// It is only touched while Registry.mu is held.
type record struct {
	userID        int64
	connectionID  string
	remoteAddress string
	connectedAt   time.Time
	groups        map[string]struct{}
}

// snapshot returns an immutable copy of the record with sorted groups.
func (r *record) snapshot() Connection {
	groups := make([]string, 0, len(r.groups))
	for g := range r.groups {
		groups = append(groups, g)
	}
	sortStrings(groups)

	return Connection{
		UserID:        r.userID,
		ConnectionID:  r.connectionID,
		RemoteAddress: r.remoteAddress,
		ConnectedAt:   r.connectedAt,
		Groups:        groups,
	}
}
