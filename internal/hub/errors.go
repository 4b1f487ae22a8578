package hub

import "errors"

// Dispatcher error types
var (
	ErrDispatcherClosed = errors.New("dispatcher is closed")
	ErrNilSink          = errors.New("subscriber sink is nil")
	ErrEmptyRoom        = errors.New("class ID and subscriber ID are required")
)
