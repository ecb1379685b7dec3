package connection

import "sync"

// Registry maintains the five disjoint per-role connection sets named in
// spec section 4.2, plus an id index. Iteration for broadcast takes a
// snapshot before the caller dispatches to it, so later joiners never
// retroactively receive a message already in flight — grounded on
// api/internal/websocket/hub.go's RLock-snapshot-then-send pattern,
// generalized from one set to five.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*Connection
	byRole map[Role]map[string]*Connection
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	r := &Registry{
		byID:   make(map[string]*Connection),
		byRole: make(map[Role]map[string]*Connection),
	}
	for _, role := range []Role{RoleSender, RoleDashboard, RoleListener, RoleOrientationListener, RoleBulkListener} {
		r.byRole[role] = make(map[string]*Connection)
	}
	return r
}

// Insert registers conn under its role. Insert is idempotent on id.
func (r *Registry) Insert(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[conn.ID] = conn
	r.byRole[conn.Role][conn.ID] = conn
}

// Remove removes conn from every set it belongs to. Safe to call more
// than once for the same id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	delete(r.byRole[conn.Role], id)
}

// Get returns the connection for id, if still registered.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byID[id]
	return conn, ok
}

// Snapshot returns a stable slice of every connection currently in role.
// Safe to range over and send to without holding the registry lock.
func (r *Registry) Snapshot(role Role) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byRole[role]
	out := make([]*Connection, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// SnapshotAll returns every live connection across all roles, used by the
// shutdown coordinator to broadcast server_shutdown and drain.
func (r *Registry) SnapshotAll() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	return out
}

// CountByRole returns the number of currently registered connections of role.
func (r *Registry) CountByRole(role Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byRole[role])
}

// Broadcast sends payload to every connection currently in role using
// each connection's default policy, after taking a consistent snapshot.
// A connection whose queue has stayed full past its slow-consumer deadline
// is closed with reason "slow_consumer".
func (r *Registry) Broadcast(role Role, payload []byte) {
	for _, c := range r.Snapshot(role) {
		if err := c.Send(payload); err == ErrSlowConsumerDeadline {
			c.Close("slow_consumer")
		}
	}
}
