// Package testhelpers provides common utilities for testing the relay over
// real HTTP and WebSocket connections.
//
// It is shared by the server package's unit and end-to-end tests and keeps
// the frame handling in those tests short.
package testhelpers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// TestOrigin is the Origin header sent by ConnectWebSocket.
const TestOrigin = "http://localhost:8080"

// Frame mirrors the relay's JSON envelope from the client's side.
type Frame struct {
	Event string          `json:"event"`
	AckID int64           `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the frame data into v.
func (f Frame) Decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(f.Data, v); err != nil {
		t.Fatalf("Failed to decode %s data %s: %v", f.Event, f.Data, err)
	}
}

// WebSocketURL converts an httptest server URL into the relay's ws endpoint.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// ConnectWebSocket creates a WebSocket connection to the specified URL using
// TestOrigin as the Origin header.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	conn, _, err := ConnectWebSocketWithOrigin(url, TestOrigin)
	return conn, err
}

// ConnectWebSocketWithOrigin dials url with the given Origin header. An empty
// origin sends no header. The handshake response status is returned even when
// the dial fails.
func ConnectWebSocketWithOrigin(url, origin string) (*websocket.Conn, int, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	status := 0
	if resp != nil {
		status = resp.StatusCode
		_ = resp.Body.Close()
	}
	return conn, status, err
}

// MustConnect dials url and registers the connection for cleanup.
func MustConnect(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := ConnectWebSocketWithOrigin(url, TestOrigin)
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendFrame writes one frame with data marshaled as JSON.
func SendFrame(t *testing.T, conn *websocket.Conn, event string, ackID int64, data any) {
	t.Helper()

	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("Failed to marshal %s data: %v", event, err)
	}
	frame := Frame{Event: event, AckID: ackID, Data: raw}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("Failed to send %s: %v", event, err)
	}
}

// SendRawMessage sends a raw text message over the WebSocket connection.
func SendRawMessage(conn *websocket.Conn, data []byte) error {
	return conn.WriteMessage(websocket.TextMessage, data)
}

// ReadFrame reads the next frame, failing the test after timeout.
func ReadFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) Frame {
	t.Helper()

	frame, err := readFrame(conn, timeout)
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	return frame
}

// WaitForEvent reads frames until one with the given event arrives, skipping
// any others, and fails the test after timeout.
func WaitForEvent(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) Frame {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("Timed out waiting for %q", event)
		}
		frame, err := readFrame(conn, remaining)
		if err != nil {
			t.Fatalf("Failed waiting for %q: %v", event, err)
		}
		if frame.Event == event {
			return frame
		}
	}
}

// WaitForAck reads frames until the ack with the given ackID arrives.
func WaitForAck(t *testing.T, conn *websocket.Conn, ackID int64, timeout time.Duration) Frame {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		frame := WaitForEvent(t, conn, "ack", time.Until(deadline))
		if frame.AckID == ackID {
			return frame
		}
	}
}

// ExpectNoEvent fails the test if a frame with the given event arrives within
// the window. Frames with other events are skipped. A read that times out
// leaves the connection unusable, so this must be the last read on conn.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, event string, window time.Duration) {
	t.Helper()

	deadline := time.Now().Add(window)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		frame, err := readFrame(conn, remaining)
		if err != nil {
			if isTimeout(err) {
				return
			}
			t.Fatalf("Unexpected read error while expecting no %q: %v", event, err)
		}
		if frame.Event == event {
			t.Fatalf("Unexpected %q frame: %s", event, frame.Data)
		}
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

func readFrame(conn *websocket.Conn, timeout time.Duration) (Frame, error) {
	var frame Frame
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return frame, err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return frame, err
	}
	err = json.Unmarshal(data, &frame)
	return frame, err
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
