package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"consultdesk/pkg/interfaces"
	"consultdesk/pkg/types"
)

const (
	leadColumns     = `id, name, email, phone, branch_id, status, created_at`
	followupColumns = `id, lead_id, branch_id, note, due_at, created_by, created_at`
)

// CreateLead stores a lead; id, status and created_at are filled when empty
func (m *Manager) CreateLead(ctx context.Context, lead *types.Lead) error {
	if err := lead.Validate(); err != nil {
		return err
	}
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	if lead.Status == "" {
		lead.Status = "new"
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}

	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		query := m.rebind(`INSERT INTO leads (` + leadColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`)
		_, err := db.ExecContext(ctx, query,
			lead.ID, lead.Name, lead.Email, lead.Phone, lead.BranchID, lead.Status, lead.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert lead: %w", err)
		}
		return nil
	})
}

// ListLeads returns the leads visible through filter, newest first
func (m *Manager) ListLeads(ctx context.Context, filter interfaces.Filter) ([]*types.Lead, error) {
	clause, args := filter.Where("branch_id")
	query := m.rebind(`SELECT ` + leadColumns + ` FROM leads WHERE ` + clause + ` ORDER BY created_at DESC`)

	leads := []*types.Lead{}
	if err := m.db.SelectContext(ctx, &leads, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	return leads, nil
}

// GetLead returns a lead only when it exists and is visible through filter.
// An out-of-scope lead is indistinguishable from a missing one.
func (m *Manager) GetLead(ctx context.Context, filter interfaces.Filter, id string) (*types.Lead, error) {
	clause, args := filter.Where("branch_id")
	query := m.rebind(`SELECT ` + leadColumns + ` FROM leads WHERE id = ? AND ` + clause)

	var lead types.Lead
	err := m.db.GetContext(ctx, &lead, query, append([]any{id}, args...)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query lead: %w", err)
	}
	return &lead, nil
}

// CreateFollowup stores a followup; the caller copies the branch from the lead
func (m *Manager) CreateFollowup(ctx context.Context, followup *types.Followup) error {
	if err := followup.Validate(); err != nil {
		return err
	}
	if followup.BranchID == "" {
		return types.ErrMissingBranch
	}
	if followup.ID == "" {
		followup.ID = uuid.New().String()
	}
	if followup.CreatedAt.IsZero() {
		followup.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	if followup.DueAt.IsZero() {
		followup.DueAt = followup.CreatedAt
	}

	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		query := m.rebind(`INSERT INTO followups (` + followupColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`)
		_, err := db.ExecContext(ctx, query,
			followup.ID,
			followup.LeadID,
			followup.BranchID,
			followup.Note,
			followup.DueAt.UTC(),
			followup.CreatedBy,
			followup.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert followup: %w", err)
		}
		return nil
	})
}

// ListFollowups returns the followups visible through filter, soonest due first
func (m *Manager) ListFollowups(ctx context.Context, filter interfaces.Filter) ([]*types.Followup, error) {
	clause, args := filter.Where("branch_id")
	query := m.rebind(`SELECT ` + followupColumns + ` FROM followups WHERE ` + clause + ` ORDER BY due_at ASC`)

	followups := []*types.Followup{}
	if err := m.db.SelectContext(ctx, &followups, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query followups: %w", err)
	}
	return followups, nil
}
