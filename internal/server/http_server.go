// Package server constructs and starts the relay's HTTP service with helpers
// that apply production timeouts.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"
)

// CreateServer creates and configures an HTTP server with the specified port and handler.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// StartHub starts the hub's event loop in a separate goroutine. It should be
// called before the HTTP server accepts connections.
func StartHub(hub *Hub) {
	go hub.Run()
	log.Println("Hub started and ready to manage WebSocket connections")
}

// StartServer starts the HTTP server and blocks until it stops. A server
// closed by ShutdownServer is not reported as an error.
func StartServer(server *http.Server) error {
	log.Printf("Server listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting
// active requests. It waits for them to finish or until ctx is done.
func ShutdownServer(ctx context.Context, server *http.Server) error {
	log.Println("Shutting down HTTP server...")

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		return err
	}

	log.Println("HTTP server shutdown completed")
	return nil
}
