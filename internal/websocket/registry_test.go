package websocket

import (
	"fmt"
	"sync"
	"testing"

	"consultdesk/pkg/types"
)

func newTestConnection(p *types.Principal) *Connection {
	return NewConnection(nil, p, DefaultOptions())
}

func TestRegistry_RegisterConnection(t *testing.T) {
	registry := NewRegistry()

	if err := registry.RegisterConnection(nil); err != ErrNilConnection {
		t.Errorf("nil connection = %v, want ErrNilConnection", err)
	}
	if err := registry.RegisterConnection(newTestConnection(nil)); err != ErrConnectionNotAuthenticated {
		t.Errorf("anonymous connection = %v, want ErrConnectionNotAuthenticated", err)
	}

	conn := newTestConnection(testPrincipal)
	if err := registry.RegisterConnection(conn); err != nil {
		t.Fatalf("RegisterConnection failed: %v", err)
	}
	if registry.GetStats()["total_connections"] != 1 {
		t.Error("registered connection should be counted")
	}
}

func TestRegistry_MultipleSocketsPerPrincipal(t *testing.T) {
	registry := NewRegistry()
	first := newTestConnection(testPrincipal)
	second := newTestConnection(testPrincipal)

	_ = registry.RegisterConnection(first)
	_ = registry.RegisterConnection(second)

	if registry.GetStats()["total_connections"] != 2 {
		t.Error("both sockets of one principal should stay registered")
	}
}

func TestRegistry_Join(t *testing.T) {
	registry := NewRegistry()
	conn := newTestConnection(testPrincipal)

	if err := registry.Join(conn, "lead-1"); err != ErrConnectionNotRegistered {
		t.Errorf("join before register = %v, want ErrConnectionNotRegistered", err)
	}
	_ = registry.RegisterConnection(conn)

	if err := registry.Join(conn, "bad room"); err != types.ErrInvalidID {
		t.Errorf("join invalid room = %v, want ErrInvalidID", err)
	}
	if err := registry.Join(conn, "lead-1"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if !conn.InRoom("lead-1") {
		t.Error("connection should track its room")
	}
	if members := registry.RoomConnections("lead-1"); len(members) != 1 || members[0] != conn {
		t.Errorf("room members = %v", members)
	}

	registry.UnregisterConnection(conn)
	if conn.InRoom("lead-1") {
		t.Error("connection should no longer track the room")
	}
	if stats := registry.GetStats(); stats["active_rooms"] != 0 {
		t.Errorf("empty room should be removed, stats = %v", stats)
	}
}

func TestRegistry_UnregisterLeavesAllRooms(t *testing.T) {
	registry := NewRegistry()
	conn := newTestConnection(testPrincipal)
	other := newTestConnection(&types.Principal{ID: "agent-2", Kind: types.KindAgent})
	_ = registry.RegisterConnection(conn)
	_ = registry.RegisterConnection(other)

	_ = registry.Join(conn, "lead-1")
	_ = registry.Join(conn, "lead-2")
	_ = registry.Join(other, "lead-1")

	registry.UnregisterConnection(conn)
	registry.UnregisterConnection(conn) // idempotent

	for _, member := range registry.RoomConnections("lead-1") {
		if member == conn {
			t.Error("connection should be unregistered")
		}
	}
	if len(conn.Rooms()) != 0 {
		t.Errorf("connection still in rooms %v", conn.Rooms())
	}
	stats := registry.GetStats()
	if stats["total_connections"] != 1 || stats["active_rooms"] != 1 || stats["room_memberships"] != 1 {
		t.Errorf("unexpected stats after unregister: %v", stats)
	}
}

func TestRegistry_RoomConnectionsUnknownRoom(t *testing.T) {
	registry := NewRegistry()
	members := registry.RoomConnections("nobody-here")
	if members == nil || len(members) != 0 {
		t.Errorf("unknown room should yield an empty slice, got %v", members)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := newTestConnection(&types.Principal{ID: fmt.Sprintf("agent-%d", i), Kind: types.KindAgent})
			if err := registry.RegisterConnection(conn); err != nil {
				t.Errorf("RegisterConnection failed: %v", err)
				return
			}
			room := fmt.Sprintf("lead-%d", i%5)
			if err := registry.Join(conn, room); err != nil {
				t.Errorf("Join failed: %v", err)
			}
			_ = registry.RoomConnections(room)
			_ = registry.GetStats()
		}(i)
	}
	wg.Wait()

	stats := registry.GetStats()
	if stats["total_connections"] != 50 || stats["active_rooms"] != 5 || stats["room_memberships"] != 50 {
		t.Errorf("unexpected stats: %v", stats)
	}
}
