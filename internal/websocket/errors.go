package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// Handler-related errors
var (
	ErrInvalidParameters = errors.New("invalid connection parameters")
)
