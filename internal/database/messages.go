package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"consultdesk/pkg/types"
)

const messageColumns = `id, lead_id, partner_id, agent_id, sender_type, message, is_read, created_at`

// InsertMessage stores a message and returns the persisted record
// FUNCTIONAL DISCOVERY: the id and created_at are assigned server-side inside
// the write loop so the returned record is exactly what history will return
func (m *Manager) InsertMessage(ctx context.Context, in types.NewMessage) (*types.Message, error) {
	body, err := types.NormalizeBody(in.Body)
	if err != nil {
		return nil, err
	}
	in.Body = body
	if err := in.Validate(); err != nil {
		return nil, err
	}

	msg := &types.Message{
		ID:         uuid.New().String(),
		LeadID:     in.LeadID,
		SenderType: in.SenderType,
		Body:       in.Body,
	}
	sender := in.SenderID
	switch in.SenderType {
	case types.SenderAgent:
		msg.AgentID = &sender
	case types.SenderPartner:
		msg.PartnerID = &sender
	}

	err = m.executeWrite(ctx, func(db *sqlx.DB) error {
		msg.CreatedAt = m.nextTimestamp()
		query := m.rebind(`INSERT INTO messages (` + messageColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		_, err := db.ExecContext(ctx, query,
			msg.ID,
			msg.LeadID,
			msg.PartnerID,
			msg.AgentID,
			msg.SenderType,
			msg.Body,
			msg.IsRead,
			msg.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return msg, nil
}

// ListByRoom returns the latest limit messages of a room, oldest first
func (m *Manager) ListByRoom(ctx context.Context, leadID string, limit int) ([]*types.Message, error) {
	if limit <= 0 {
		return []*types.Message{}, nil
	}

	// ARCHITECTURAL DISCOVERY: newest-first window then reversed, so callers get
	// the most recent messages in chronological order
	query := m.rebind(`
		SELECT ` + messageColumns + `
		FROM messages
		WHERE lead_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`)

	messages := []*types.Message{}
	if err := m.db.SelectContext(ctx, &messages, query, leadID, limit); err != nil {
		return nil, fmt.Errorf("failed to query room history: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	for _, msg := range messages {
		msg.CreatedAt = msg.CreatedAt.UTC()
	}

	return messages, nil
}

// BulkMarkRead marks every unread message in the room as read
func (m *Manager) BulkMarkRead(ctx context.Context, leadID string) (int64, error) {
	var affected int64
	err := m.executeWrite(ctx, func(db *sqlx.DB) error {
		query := m.rebind(`UPDATE messages SET is_read = ? WHERE lead_id = ? AND is_read = ?`)
		res, err := db.ExecContext(ctx, query, true, leadID, false)
		if err != nil {
			return fmt.Errorf("failed to mark messages read: %w", err)
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

// CountUnread returns the number of unread messages in the room
func (m *Manager) CountUnread(ctx context.Context, leadID string) (int64, error) {
	var n int64
	query := m.rebind(`SELECT COUNT(*) FROM messages WHERE lead_id = ? AND is_read = ?`)
	if err := m.db.GetContext(ctx, &n, query, leadID, false); err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return n, nil
}
