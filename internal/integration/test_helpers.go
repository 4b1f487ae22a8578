package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"anonfeedback/internal/app"
	"anonfeedback/internal/config"
)

// Frame is any server frame as seen by a client
type Frame struct {
	Type    string          `json:"type"`
	ClassID string          `json:"classId"`
	Data    json.RawMessage `json:"data"`
}

// Decode unmarshals the frame payload
func (f *Frame) Decode(t *testing.T, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(f.Data, v); err != nil {
		t.Fatalf("Failed to decode %s payload: %v", f.Type, err)
	}
}

// TestServer runs the whole application behind an httptest server
type TestServer struct {
	URL    string
	App    *app.Application
	server *httptest.Server
}

// StartTestServer builds the application on a temp SQLite database. mutate may adjust the config.
func StartTestServer(t *testing.T, mutate func(*config.Config)) *TestServer {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "integration.db")
	if mutate != nil {
		mutate(cfg)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	application.StartBackground()

	server := httptest.NewServer(application.Handler())
	t.Cleanup(func() {
		server.Close()
		if err := application.Stop(context.Background()); err != nil {
			t.Logf("Failed to stop application: %v", err)
		}
	})

	return &TestServer{URL: server.URL, App: application, server: server}
}

// PostJSON sends body to path and decodes the response into out when out is not nil
func (s *TestServer) PostJSON(t *testing.T, path, body string, out interface{}) int {
	t.Helper()
	resp, err := http.Post(s.URL+path, "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode POST %s response: %v", path, err)
		}
	}
	return resp.StatusCode
}

// GetJSON fetches path and decodes the response into out
func (s *TestServer) GetJSON(t *testing.T, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(s.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode GET %s response: %v", path, err)
		}
	}
	return resp.StatusCode
}

// TestClient represents a WebSocket client for testing
type TestClient struct {
	Role    string
	ClassID string

	conn   *websocket.Conn
	frames chan *Frame
	errors chan error
	done   chan struct{}

	writeMu sync.Mutex
}

// Connect opens a WebSocket to the class room and starts collecting frames
func Connect(ctx context.Context, serverURL, classID, role string) (*TestClient, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	query := u.Query()
	query.Set("class_id", classID)
	query.Set("role", role)
	u.RawQuery = query.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	client := &TestClient{
		Role:    role,
		ClassID: classID,
		conn:    conn,
		frames:  make(chan *Frame, 256),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}
	go client.readLoop()
	return client, nil
}

// readLoop continuously reads frames from the WebSocket connection
func (c *TestClient) readLoop() {
	defer close(c.done)

	for {
		var frame Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			select {
			case c.errors <- fmt.Errorf("read error: %w", err):
			default:
			}
			return
		}

		select {
		case c.frames <- &frame:
		default:
			select {
			case c.errors <- fmt.Errorf("frame channel full, dropping %s", frame.Type):
			default:
			}
		}
	}
}

// Send writes a client frame
func (c *TestClient) Send(frameType string, data interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(map[string]interface{}{"type": frameType, "data": data})
}

// Receive waits for the next frame
func (c *TestClient) Receive(timeout time.Duration) (*Frame, error) {
	select {
	case frame := <-c.frames:
		return frame, nil
	case err := <-c.errors:
		return nil, err
	case <-time.After(timeout):
		return nil, fmt.Errorf("timeout waiting for frame")
	case <-c.done:
		return nil, fmt.Errorf("client disconnected")
	}
}

// ReceiveOfType waits for a frame of the given type, skipping everything else
func (c *TestClient) ReceiveOfType(frameType string, timeout time.Duration) (*Frame, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("timeout waiting for %s frame", frameType)
		}
		frame, err := c.Receive(remaining)
		if err != nil {
			return nil, fmt.Errorf("waiting for %s: %w", frameType, err)
		}
		if frame.Type == frameType {
			return frame, nil
		}
	}
}

// ExpectNone fails if a frame of frameType arrives within wait
func (c *TestClient) ExpectNone(t *testing.T, frameType string, wait time.Duration) {
	t.Helper()
	if frame, err := c.ReceiveOfType(frameType, wait); err == nil {
		t.Errorf("Unexpected %s frame: %s", frameType, frame.Data)
	}
}

// Close closes the connection and waits for the reader to stop
func (c *TestClient) Close() {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	_ = c.conn.Close()
	<-c.done
}

// MustConnect connects or fails the test, and reads the welcome frame
func MustConnect(t *testing.T, server *TestServer, classID, role string) (*TestClient, *Frame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Connect(ctx, server.URL, classID, role)
	if err != nil {
		t.Fatalf("Failed to connect %s: %v", role, err)
	}
	t.Cleanup(client.Close)

	welcome, err := client.ReceiveOfType("welcome", 2*time.Second)
	if err != nil {
		t.Fatalf("No welcome frame for %s: %v", role, err)
	}
	return client, welcome
}
