package presence

import (
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry indexes live connections by connection ID, by user and by group.
//
// All public methods are thread-safe. Lock hold times are short: every
// operation is a pure in-memory update and never performs I/O.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*record            // connection ID -> record
	byUser      map[int64]map[string]*record  // user ID -> connection ID -> record
	groups      map[string]map[string]*record // group -> connection ID -> record
	logger      Logger
	now         func() time.Time
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*record),
		byUser:      make(map[int64]map[string]*record),
		groups:      make(map[string]map[string]*record),
		logger:      noopLogger{},
		now:         time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register records a newly established connection.
//
// Registering an ID that is already live replaces the old record: the last
// registration wins and the new record starts with no groups.
func (r *Registry) Register(userID int64, connectionID, remoteAddress string) Connection {
	rec := &record{
		userID:        userID,
		connectionID:  connectionID,
		remoteAddress: remoteAddress,
		connectedAt:   r.now().UTC(),
		groups:        make(map[string]struct{}),
	}

	r.mu.Lock()
	if old, ok := r.connections[connectionID]; ok {
		r.removeLocked(old)
	}
	r.connections[connectionID] = rec
	owned := r.byUser[userID]
	if owned == nil {
		owned = make(map[string]*record)
		r.byUser[userID] = owned
	}
	owned[connectionID] = rec
	snap := rec.snapshot()
	r.mu.Unlock()

	r.logger.Debug("connection registered", "connection_id", connectionID, "user_id", userID)
	return snap
}

// Unregister removes a connection and all of its group memberships.
// It returns the removed record, or false if the ID was not live.
func (r *Registry) Unregister(connectionID string) (Connection, bool) {
	r.mu.Lock()
	rec, ok := r.connections[connectionID]
	if !ok {
		r.mu.Unlock()
		return Connection{}, false
	}
	snap := rec.snapshot()
	r.removeLocked(rec)
	r.mu.Unlock()

	r.logger.Debug("connection unregistered", "connection_id", connectionID, "user_id", snap.UserID)
	return snap, true
}

// removeLocked drops rec from every index. r.mu must be held for writing.
func (r *Registry) removeLocked(rec *record) {
	for g := range rec.groups {
		r.leaveLocked(rec, g)
	}
	delete(r.connections, rec.connectionID)
	if owned := r.byUser[rec.userID]; owned != nil {
		delete(owned, rec.connectionID)
		if len(owned) == 0 {
			delete(r.byUser, rec.userID)
		}
	}
}

// joinLocked subscribes rec to group. r.mu must be held for writing.
func (r *Registry) joinLocked(rec *record, group string) {
	if group == "" {
		return
	}
	rec.groups[group] = struct{}{}
	members := r.groups[group]
	if members == nil {
		members = make(map[string]*record)
		r.groups[group] = members
	}
	members[rec.connectionID] = rec
}

// leaveLocked unsubscribes rec from group. r.mu must be held for writing.
func (r *Registry) leaveLocked(rec *record, group string) {
	delete(rec.groups, group)
	if members := r.groups[group]; members != nil {
		delete(members, rec.connectionID)
		if len(members) == 0 {
			delete(r.groups, group)
		}
	}
}

// AddToGroups subscribes one connection to the given groups.
// Unknown connection IDs are ignored.
func (r *Registry) AddToGroups(connectionID string, groups ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.connections[connectionID]
	if !ok {
		return
	}
	for _, g := range groups {
		r.joinLocked(rec, g)
	}
}

// RemoveFromGroups unsubscribes one connection from the given groups.
// Unknown connection IDs and groups are ignored.
func (r *Registry) RemoveFromGroups(connectionID string, groups ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.connections[connectionID]
	if !ok {
		return
	}
	for _, g := range groups {
		r.leaveLocked(rec, g)
	}
}

// AddUserToGroups subscribes every connection the user currently owns.
// Connections opened later are not affected.
func (r *Registry) AddUserToGroups(userID int64, groups ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.byUser[userID] {
		for _, g := range groups {
			r.joinLocked(rec, g)
		}
	}
}

// RemoveUserFromGroups unsubscribes every connection the user currently owns.
func (r *Registry) RemoveUserFromGroups(userID int64, groups ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.byUser[userID] {
		for _, g := range groups {
			r.leaveLocked(rec, g)
		}
	}
}

// Connection returns a snapshot of one connection.
func (r *Registry) Connection(connectionID string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.connections[connectionID]
	if !ok {
		return Connection{}, false
	}
	return rec.snapshot(), true
}

// UserConnections returns snapshots of the user's live connections.
// An empty result means the user is offline.
func (r *Registry) UserConnections(userID int64) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owned := r.byUser[userID]
	conns := make([]Connection, 0, len(owned))
	for _, rec := range owned {
		conns = append(conns, rec.snapshot())
	}
	sortConnections(conns)
	return conns
}

// ConnectionsByGroup returns snapshots of the group's subscribers.
func (r *Registry) ConnectionsByGroup(group string) []Connection {
	return r.ConnectionsByGroups(group)
}

// ConnectionsByGroups returns the union of the groups' subscribers.
// A connection in several of the groups appears once.
func (r *Registry) ConnectionsByGroups(groups ...string) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var conns []Connection
	for _, g := range groups {
		for id, rec := range r.groups[g] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			conns = append(conns, rec.snapshot())
		}
	}
	sortConnections(conns)
	return conns
}

// ConnectionsByTemplates returns subscribers of every group whose name
// matches at least one of the templates. See MatchTemplate for the syntax.
func (r *Registry) ConnectionsByTemplates(templates ...string) []Connection {
	if len(templates) == 0 {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var conns []Connection
	for group, members := range r.groups {
		if !matchAny(templates, group) {
			continue
		}
		for id, rec := range members {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			conns = append(conns, rec.snapshot())
		}
	}
	sortConnections(conns)
	return conns
}

// OnlineUserIDs returns the distinct users with at least one live connection.
func (r *Registry) OnlineUserIDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int64, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// IsUserOnline reports whether the user has at least one live connection.
func (r *Registry) IsUserOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// Groups returns the names of all groups with at least one subscriber.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.groups))
	for g := range r.groups {
		names = append(names, g)
	}
	sortStrings(names)
	return names
}

// Stats returns current registry counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		Connections: len(r.connections),
		OnlineUsers: len(r.byUser),
		Groups:      len(r.groups),
	}
}
