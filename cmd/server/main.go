package main

import (
	"context"
	"errors"
	"log"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"github.com/Tyrowin/roomrelay/internal/activity"
	"github.com/Tyrowin/roomrelay/internal/room"
	"github.com/Tyrowin/roomrelay/internal/server"
)

func main() {
	log.Println("Starting roomrelay server...")

	server.LoadDotEnv()
	server.SetConfig(server.NewConfigFromEnv())
	config := server.CurrentConfig()

	sink, err := activity.NewSink(config.Activity)
	if err != nil {
		log.Printf("Activity sink %q unavailable, falling back to log: %v", config.Activity.Sink, err)
		config.Activity.Sink = activity.SinkLog
		sink, _ = activity.NewSink(config.Activity)
	}
	dispatcher := activity.NewDispatcher(sink, config.Activity)

	hub := server.NewHub(room.WithObserver(dispatcher))
	server.StartHub(hub)

	httpServer := server.CreateServer(config.Port, server.SetupRoutes(hub))
	go func() {
		if err := server.StartServer(httpServer); err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	log.Printf("Allowed origins: %v", config.AllowedOrigins)
	log.Println("Endpoints:")
	log.Println("  GET /        - Liveness")
	log.Println("  GET /health  - Connection and room counts")
	log.Println("  GET /ws      - WebSocket endpoint")
	log.Println("Press Ctrl+C to shutdown")

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		config.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"roomrelay": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				var errs []error
				if err := server.ShutdownServer(ctx, httpServer); err != nil {
					errs = append(errs, err)
				}
				if err := hub.Shutdown(config.ShutdownTimeout); err != nil {
					errs = append(errs, err)
				}
				if err := dispatcher.Close(ctx); err != nil {
					errs = append(errs, err)
				}
				return errors.Join(errs...)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Server exited with code: %d", exitCode)
	os.Exit(exitCode)
}
