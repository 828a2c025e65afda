package websocket

import (
	"sync"

	"consultdesk/pkg/types"
)

// Registry tracks live connections and their room memberships
// ARCHITECTURAL DISCOVERY: Pure connection management without business logic;
// who may join which room is decided by the caller before Join
type Registry struct {
	mu          sync.RWMutex                      // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy broadcast lookups
	connections map[string]*Connection            // connID -> Connection
	rooms       map[string]map[string]*Connection // room -> connID -> Connection
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		rooms:       make(map[string]map[string]*Connection),
	}
}

// RegisterConnection starts tracking an authenticated connection.
// A principal may hold several sockets at once (one per device or tab).
func (r *Registry) RegisterConnection(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if conn.Principal() == nil {
		return ErrConnectionNotAuthenticated
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[conn.ID()] = conn
	return nil
}

// UnregisterConnection drops a connection and all of its room memberships.
// Idempotent.
func (r *Registry) UnregisterConnection(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, ok := r.connections[conn.ID()]; !ok || registered != conn {
		return
	}
	delete(r.connections, conn.ID())

	for _, room := range conn.Rooms() {
		r.leaveLocked(conn, room)
	}
}

// Join adds a registered connection to room
func (r *Registry) Join(conn *Connection, room string) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !types.IsValidID(room) {
		return types.ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[conn.ID()]; !ok {
		return ErrConnectionNotRegistered
	}

	members := r.rooms[room]
	if members == nil {
		members = make(map[string]*Connection)
		r.rooms[room] = members
	}
	members[conn.ID()] = conn
	conn.addRoom(room)
	return nil
}

func (r *Registry) leaveLocked(conn *Connection, room string) {
	if members, ok := r.rooms[room]; ok {
		delete(members, conn.ID())
		// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory leaks
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	conn.removeRoom(room)
}

// RoomConnections returns a snapshot of room members.
// An unknown room yields an empty slice.
func (r *Registry) RoomConnections(room string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	connections := make([]*Connection, 0, len(members))
	for _, conn := range members {
		connections = append(connections, conn)
	}
	return connections
}

// GetStats returns registry statistics for monitoring
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	memberships := 0
	for _, members := range r.rooms {
		memberships += len(members)
	}

	return map[string]int{
		"total_connections": len(r.connections),
		"active_rooms":      len(r.rooms),
		"room_memberships":  memberships,
	}
}
