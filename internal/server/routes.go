// Package server wires HTTP handlers into a ServeMux for the relay via
// routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes bound to the given hub.
func SetupRoutes(hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/health", StatusHandler(hub))
	mux.HandleFunc("/ws", WebSocketHandler(hub))
	return mux
}
