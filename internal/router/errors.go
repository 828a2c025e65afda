package router

import "errors"

// Router errors surfaced to clients through acks and error events
var (
	ErrUnknownEvent      = errors.New("unknown event")
	ErrInvalidPayload    = errors.New("invalid event payload")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrPersistFailed     = errors.New("message could not be saved")
	ErrInternal          = errors.New("internal error")
)
