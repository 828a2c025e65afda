// Package chat holds the conversation rules shared by the socket gateway and the HTTP API.
package chat

import (
	"context"
	"fmt"
	"log/slog"

	"consultdesk/pkg/interfaces"
	"consultdesk/pkg/types"
)

// HistoryLimit is the fixed history window
const HistoryLimit = 50

// Service applies room ownership rules on top of the message store
// ARCHITECTURAL DISCOVERY: stateless; the store owns every message and the
// gateway owns socket membership, so the service is safe for concurrent use
type Service struct {
	store interfaces.MessageStore
}

// NewService creates a chat service over the message store
func NewService(store interfaces.MessageStore) *Service {
	return &Service{store: store}
}

// OwnRoom returns the room a lead principal is bound to
func (s *Service) OwnRoom(p *types.Principal) (string, bool) {
	if p == nil || !p.IsLead() {
		return "", false
	}
	return p.ID, true
}

// CanJoin reports whether the principal may be a member of room.
// Staff may join any room; a lead only its own.
func (s *Service) CanJoin(p *types.Principal, room string) bool {
	if p == nil || !types.IsValidID(room) {
		return false
	}
	switch p.Kind {
	case types.KindAgent, types.KindPartner:
		return true
	default:
		return room == p.ID
	}
}

// checkRoom validates the room id and the lead ownership rule
func (s *Service) checkRoom(p *types.Principal, room string) error {
	if !types.IsValidID(room) {
		return types.ErrInvalidID
	}
	if !s.CanJoin(p, room) {
		return ErrRoomForbidden
	}
	return nil
}

// SendMessage persists a message from the principal into room and returns the stored record
func (s *Service) SendMessage(ctx context.Context, p *types.Principal, room, body string) (*types.Message, error) {
	if err := s.checkRoom(p, room); err != nil {
		return nil, err
	}

	body, err := types.NormalizeBody(body)
	if err != nil {
		return nil, err
	}

	msg, err := s.store.InsertMessage(ctx, types.NewMessage{
		SenderID:   p.ID,
		SenderType: types.SenderTypeFor(p),
		LeadID:     room,
		Body:       body,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	slog.Debug("message stored", "room", room, "message_id", msg.ID, "sender_type", msg.SenderType)
	return msg, nil
}

// History returns the latest HistoryLimit messages of room, oldest first
func (s *Service) History(ctx context.Context, room string) ([]*types.Message, error) {
	if !types.IsValidID(room) {
		return nil, types.ErrInvalidID
	}
	messages, err := s.store.ListByRoom(ctx, room, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return messages, nil
}

// HistoryFor is History with the lead ownership rule applied
func (s *Service) HistoryFor(ctx context.Context, p *types.Principal, room string) ([]*types.Message, error) {
	if err := s.checkRoom(p, room); err != nil {
		return nil, err
	}
	return s.History(ctx, room)
}

// ReadReceipt is the outcome of MarkRead
type ReadReceipt struct {
	LeadID     string           `json:"lead_id"`
	ReaderType types.SenderType `json:"reader_type"`
	Updated    int64            `json:"updated"`
}

// MarkRead flips every unread message in room to read.
// All unread messages are marked, including the reader's own.
func (s *Service) MarkRead(ctx context.Context, p *types.Principal, room string) (*ReadReceipt, error) {
	if err := s.checkRoom(p, room); err != nil {
		return nil, err
	}

	n, err := s.store.BulkMarkRead(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("failed to mark messages read: %w", err)
	}

	return &ReadReceipt{LeadID: room, ReaderType: types.ReaderTypeFor(p), Updated: n}, nil
}

// Unread returns the unread count of room
func (s *Service) Unread(ctx context.Context, room string) (int64, error) {
	if !types.IsValidID(room) {
		return 0, types.ErrInvalidID
	}
	return s.store.CountUnread(ctx, room)
}
