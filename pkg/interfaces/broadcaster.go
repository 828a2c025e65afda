package interfaces

import (
	"context"

	"consultdesk/pkg/types"
)

// RoomBroadcaster fans an event out to every member of a room.
// The in-process implementation reaches local sockets only; the pub/sub
// implementation also reaches sockets held by other instances.
type RoomBroadcaster interface {
	// Broadcast delivers event to all room members except the connection
	// identified by exceptConnID (empty means nobody is excluded).
	// Broadcasting to a room with no members is a silent no-op.
	Broadcast(ctx context.Context, roomID, event string, payload any, exceptConnID string) error
}

// TokenVerifier turns a bearer token into a principal
type TokenVerifier interface {
	Verify(token string) (*types.Principal, error)
}
