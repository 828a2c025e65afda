package hub

import "errors"

// Hub errors
var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrInvalidRoom       = errors.New("invalid room")
	ErrInvalidPayload    = errors.New("payload is not JSON encodable")
)
