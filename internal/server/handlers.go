// Package server exposes HTTP handlers, including WebSocket upgrades and
// health checks.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// HealthStatus is the body served by the /health endpoint.
type HealthStatus struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
}

// WebSocketHandler returns the handler for WebSocket upgrade requests. It
// validates that the request uses the GET method, upgrades the connection
// and registers a new Client with the hub, which launches its pumps.
func WebSocketHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed: %v", err)
			return
		}

		client := NewClient(conn, hub, r.RemoteAddr)
		if !hub.Register(client) {
			log.Printf("Hub is shutting down; closing connection from %s", r.RemoteAddr)
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			_ = conn.Close()
		}
	}
}

// HealthHandler responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "roomrelay server is running!")
}

// StatusHandler reports liveness together with connection and room counts.
func StatusHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		status := HealthStatus{
			Status:      "ok",
			Connections: hub.ClientCount(),
			Rooms:       hub.RoomCount(),
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error writing health response: %v", err)
		}
	}
}
