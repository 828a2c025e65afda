package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"consultdesk/pkg/types"
)

// ErrDuplicateEmail is returned when an account with the email already exists
var ErrDuplicateEmail = errors.New("email already registered")

const userColumns = `id, name, email, password_hash, role, user_type, branch_id, branch_type, created_at`

// CreateUser stores an account. Emails are stored lowercased.
func (m *Manager) CreateUser(ctx context.Context, user *types.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Email == "" || user.PasswordHash == "" {
		return fmt.Errorf("email and password hash are required")
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.UserType == "" {
		user.UserType = types.ResolveKind(user.Role, "").String()
	}
	if user.BranchType == "" {
		user.BranchType = types.BranchTypeBranch
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}

	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		query := m.rebind(`INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		_, err := db.ExecContext(ctx, query,
			user.ID,
			user.Name,
			user.Email,
			user.PasswordHash,
			user.Role,
			user.UserType,
			user.BranchID,
			user.BranchType,
			user.CreatedAt,
		)
		if err != nil {
			if isConstraintViolation(err) {
				return fmt.Errorf("%w: %w", ErrDuplicateEmail, err)
			}
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return nil
	})
}

// GetUserByEmail looks an account up case-insensitively
func (m *Manager) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	query := m.rebind(`SELECT ` + userColumns + ` FROM users WHERE email = ?`)

	var user types.User
	if err := m.db.GetContext(ctx, &user, query, strings.ToLower(strings.TrimSpace(email))); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}
