package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"anonfeedback/pkg/types"
)

// ConnectionConfig tunes buffering and heartbeat of a connection
type ConnectionConfig struct {
	BufferSize   int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	PingInterval time.Duration
}

// DefaultConnectionConfig returns the classroom defaults: 100 frame buffer, 60s read deadline, 30s ping
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		BufferSize:   100,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no business logic in connection wrapper
type Connection struct {
	conn      *websocket.Conn
	config    ConnectionConfig
	writeCh   chan []byte        // FUNCTIONAL DISCOVERY: bounded buffer; room events beyond it are dropped for this client only
	token     string             // Presence token, set after joining a room
	classID   string             // Set after joining a room
	role      types.Role         // Set after joining a room
	ctx       context.Context    // For cancellation
	cancel    context.CancelFunc // For cleanup
	closeOnce sync.Once          // Ensure single close
	mu        sync.RWMutex       // Protect room fields

	holdMu  sync.Mutex
	held    bool     // room events are parked in pending until the welcome frame is queued
	pending [][]byte
}

// NewConnection creates a new WebSocket connection wrapper and starts its writer goroutine
func NewConnection(conn *websocket.Conn, config ConnectionConfig) *Connection {
	defaults := DefaultConnectionConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		config:  config,
		writeCh: make(chan []byte, config.BufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	// Start the single writer goroutine
	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
// TECHNICAL DISCOVERY: writeCh is never closed; senders select on ctx instead, so a late
// publish after shutdown can never panic
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
				_ = c.Close()
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues an encoded room event without blocking
// A full buffer drops the frame and reports ErrSendBufferFull
func (c *Connection) Send(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	c.holdMu.Lock()
	defer c.holdMu.Unlock()
	if c.held {
		if len(c.pending) >= c.config.BufferSize {
			return ErrSendBufferFull
		}
		c.pending = append(c.pending, data)
		return nil
	}

	select {
	case c.writeCh <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// WriteJSON queues a direct reply, waiting up to the write timeout for buffer space
func (c *Connection) WriteJSON(v interface{}) error {
	// Check if connection is closed
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	timer := time.NewTimer(c.config.WriteTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Hold parks room events until Release, so a joining client sees its welcome frame first
func (c *Connection) Hold() {
	c.holdMu.Lock()
	defer c.holdMu.Unlock()
	c.held = true
}

// Release queues first ahead of every room event parked since Hold and resumes normal delivery
func (c *Connection) Release(first interface{}) error {
	c.holdMu.Lock()
	defer c.holdMu.Unlock()

	pending := c.pending
	c.pending = nil
	c.held = false

	err := c.WriteJSON(first)
	for _, data := range pending {
		select {
		case c.writeCh <- data:
		default:
			if err == nil {
				err = ErrSendBufferFull
			}
		}
	}
	return err
}

// Close stops the writer goroutine and closes the socket. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()

		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed once the connection has been closed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Bind records the room membership of the connection
func (c *Connection) Bind(token, classID string, role types.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = token
	c.classID = classID
	c.role = role
}

func (c *Connection) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Connection) ClassID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.classID
}

func (c *Connection) Role() types.Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}
