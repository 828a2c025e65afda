package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
	ErrSlowConsumer     = errors.New("send buffer full, connection dropped")
)

// Registry-related errors
var (
	ErrNilConnection              = errors.New("connection cannot be nil")
	ErrConnectionNotAuthenticated = errors.New("connection must be authenticated before registration")
	ErrConnectionNotRegistered    = errors.New("connection is not registered")
)

// Handler-related errors
var (
	ErrInvalidFrame = errors.New("invalid frame")
)
