package interfaces

// Sink receives encoded room events for one subscriber
// FUNCTIONAL DISCOVERY: Send must never block the publisher; implementations queue the frame
// or report that it was dropped
type Sink interface {
	Send(data []byte) error
}

// Connection is a live client connection that can also receive direct replies
type Connection interface {
	Sink

	// WriteJSON queues a direct reply to this client (thread-safe)
	WriteJSON(v interface{}) error

	// Close closes the connection and releases its writer goroutine
	Close() error
}
