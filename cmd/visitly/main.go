// main.go - visitly tracking and analytics server
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"visitly/internal"
)

const shutdownTimeout = 30 * time.Second

func main() {
	app, err := internal.NewApp()
	if err != nil {
		log.Fatalf("visitly: cannot build application: %v", err)
	}

	migrateCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	err = app.Migrate(migrateCtx)
	cancel()
	if err != nil {
		log.Fatalf("visitly: schema migration failed: %v", err)
	}

	if err := app.StartAsync(); err != nil {
		log.Fatalf("visitly: cannot start: %v", err)
	}
	log.Printf("visitly: listening (store=%s, geo=%s)", app.Services.Config.StoreBackend, app.Services.Config.GeoProvider)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	<-ctx.Done()
	stop()

	// Shutdown drains queued visit writes before closing the store.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Printf("visitly: shutdown error: %v", err)
		os.Exit(1)
	}
	log.Println("visitly: stopped")
}
