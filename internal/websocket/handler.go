package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"anonfeedback/internal/coordinator"
	"anonfeedback/internal/router"
	"anonfeedback/pkg/interfaces"
	"anonfeedback/pkg/types"
)

// RoomService is the part of the coordinator a connection needs for its lifecycle
type RoomService interface {
	Connect(classID string, role types.Role, sink interfaces.Sink) (*coordinator.ConnectResult, error)
	Disconnect(token string) error
	Summary(ctx context.Context, classID string) (*types.Summary, error)
}

// FrameHandler processes inbound client frames
type FrameHandler interface {
	HandleFrame(ctx context.Context, conn interfaces.Connection, sender router.Sender, data []byte) error
	Forget(token string)
}

// Handler manages WebSocket connections and their room membership
// ARCHITECTURAL DISCOVERY: Clean separation of WebSocket handling from business logic;
// room membership and presence live in the coordinator, frame semantics in the router
type Handler struct {
	service  RoomService
	frames   FrameHandler
	config   ConnectionConfig
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(service RoomService, frames FrameHandler, config ConnectionConfig) *Handler {
	return &Handler{
		service: service,
		frames:  frames,
		config:  config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// FUNCTIONAL DISCOVERY: Browser clients are served from a separate origin
				return true
			},
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// HandleWebSocket validates the query, upgrades, joins the class room and sends the welcome frame
// ARCHITECTURAL DISCOVERY: Multi-stage validation (parameters -> WebSocket -> room join)
// ensures invalid requests get plain HTTP errors before any resources are allocated
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	classID, err := types.NormalizeClassID(r.URL.Query().Get("class_id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("%v: class_id must be 1-100 characters", ErrInvalidParameters), http.StatusBadRequest)
		return
	}
	role, err := types.ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		http.Error(w, fmt.Sprintf("%v: role must be 'teacher' or 'student'", ErrInvalidParameters), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn, h.config)
	wsConn.Hold()

	joined, err := h.service.Connect(classID, role, wsConn)
	if err != nil {
		log.Printf("Failed to join class room: class=%s role=%s err=%v", classID, role, err)
		h.rejectJoin(wsConn, err)
		return
	}
	wsConn.Bind(joined.Token, classID, role)

	// FUNCTIONAL DISCOVERY: a class that has not been set up yet is still joinable; the welcome
	// frame then simply carries no summary
	welcome := types.WelcomeFrame{
		Token:    joined.Token,
		ClassID:  classID,
		Role:     role,
		Presence: joined.Counts,
	}
	summary, err := h.service.Summary(r.Context(), classID)
	switch {
	case err == nil:
		welcome.Summary = summary
	case !errors.Is(err, types.ErrNotFound):
		log.Printf("Failed to load summary for welcome frame: class=%s err=%v", classID, err)
	}
	if err := wsConn.Release(types.NewFrame(types.FrameWelcome, welcome)); err != nil {
		log.Printf("Failed to send welcome frame: %v", err)
	}

	go h.handleConnection(wsConn)
}

// handleConnection manages the connection lifecycle with heartbeat monitoring
// ARCHITECTURAL DISCOVERY: Single goroutine per connection handles message reading;
// a companion ticker goroutine sends pings
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		// FUNCTIONAL DISCOVERY: Deferred cleanup removes presence and room membership promptly
		// even if the read loop exits unexpectedly
		if err := h.service.Disconnect(conn.Token()); err != nil {
			log.Printf("Failed to disconnect token=%s: %v", conn.Token(), err)
		}
		h.frames.Forget(conn.Token())
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(conn.config.ReadTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(conn.config.ReadTimeout))
	})

	go h.pingLoop(conn)

	sender := router.Sender{Token: conn.Token(), ClassID: conn.ClassID(), Role: conn.Role()}
	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}
		if err := h.frames.HandleFrame(conn.ctx, conn, sender, data); err != nil {
			log.Printf("Rejected frame: class=%s err=%v", sender.ClassID, err)
		}
	}
}

// pingLoop sends heartbeat pings until the connection closes
func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(conn.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(conn.config.WriteTimeout)); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}

// rejectJoin writes the error frame synchronously and closes. Nothing else has been queued on a
// connection that never joined, so the direct write cannot race the writer goroutine.
func (h *Handler) rejectJoin(conn *Connection, cause error) {
	defer conn.Close()

	data, err := json.Marshal(types.NewFrame(types.FrameError, types.ErrorFrame{
		Code:    router.ErrorCode(cause),
		Message: "unable to join class",
	}))
	if err != nil {
		return
	}
	if err := conn.conn.SetWriteDeadline(time.Now().Add(conn.config.WriteTimeout)); err != nil {
		return
	}
	if err := conn.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("Failed to send join error: %v", err)
	}
}
