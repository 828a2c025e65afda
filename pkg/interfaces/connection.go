package interfaces

import "consultdesk/pkg/types"

// Connection represents an authenticated gateway socket
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures clean boundaries between WebSocket infrastructure and business logic
type Connection interface {
	// ID returns the per-socket identifier, unique across instances
	ID() string

	// WriteJSON sends a JSON frame to the client (thread-safe)
	WriteJSON(v any) error

	// Close closes the connection and cleans up resources
	Close() error

	// Principal returns the verified actor attached at authentication
	Principal() *types.Principal
}
