package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrNotFound        = errors.New("record not found")
	ErrInvalidID       = errors.New("id must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrEmptyMessage    = errors.New("message body cannot be empty")
	ErrMessageTooLong  = errors.New("message body exceeds 5000 characters")
	ErrInvalidLeadName = errors.New("lead name must be 1-200 characters")
	ErrInvalidEmail    = errors.New("invalid email address")
	ErrEmptyNote       = errors.New("followup note cannot be empty")
	ErrMissingBranch   = errors.New("branch is required")
)
