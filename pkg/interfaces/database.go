package interfaces

import (
	"context"

	"consultdesk/pkg/types"
)

// Filter is the row-level predicate a store merges into every branch-scoped query.
// It is satisfied by scope.Filter; stores only need the SQL rendering.
type Filter interface {
	Where(column string) (clause string, args []any)
}

// MessageStore persists chat messages
// ARCHITECTURAL DISCOVERY: the store owns the canonical copy of every message;
// the gateway keeps nothing beyond live socket membership
type MessageStore interface {
	// InsertMessage stores a message and returns the full record,
	// including the generated id and creation timestamp
	InsertMessage(ctx context.Context, msg types.NewMessage) (*types.Message, error)

	// ListByRoom returns the latest limit messages of a room in ascending
	// creation order
	ListByRoom(ctx context.Context, leadID string, limit int) ([]*types.Message, error)

	// BulkMarkRead flips is_read on every unread message of a room and
	// returns how many rows changed
	BulkMarkRead(ctx context.Context, leadID string) (int64, error)

	// CountUnread returns the number of unread messages in a room
	CountUnread(ctx context.Context, leadID string) (int64, error)
}

// LeadStore persists branch-owned leads and their followups
type LeadStore interface {
	CreateLead(ctx context.Context, lead *types.Lead) error
	ListLeads(ctx context.Context, filter Filter) ([]*types.Lead, error)
	GetLead(ctx context.Context, filter Filter, id string) (*types.Lead, error)
	CreateFollowup(ctx context.Context, followup *types.Followup) error
	ListFollowups(ctx context.Context, filter Filter) ([]*types.Followup, error)
}

// UserStore persists login accounts
type UserStore interface {
	CreateUser(ctx context.Context, user *types.User) error
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
}

// DatabaseManager is the full persistence surface plus lifecycle
type DatabaseManager interface {
	MessageStore
	LeadStore
	UserStore

	// HealthCheck verifies database connectivity and basic operations
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and cleans up resources
	Close() error
}
