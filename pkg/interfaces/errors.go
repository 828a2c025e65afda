package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)
