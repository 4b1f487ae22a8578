package router

import "errors"

// Router-specific error types
var (
	ErrInvalidFrame       = errors.New("malformed frame")
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
)
