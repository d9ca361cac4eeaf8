package main

// Package main is the entry point for the mission-control server.
//
// Responsibilities:
//   - Load and validate configuration from YAML, environment variables, and defaults
//   - Wire the component graph: store, audit log, event bus, hub, monitor, engine
//   - Start the read-only query surface on port 8082
//   - Run hub housekeeping and the observation monitor as background loops
//   - Implement graceful shutdown with context cancellation
//
// Graceful Shutdown:
//   - Drains in-flight query requests
//   - Cancels housekeeping and the observation poll loop
//   - Finalizes the audit log, then closes the mission store

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kubilitics/mission-control/internal/config"
)

func main() {
	configPath := flag.String("config", "/etc/missionctl/config.yaml", "path to config file")
	flag.Parse()

	ctx := context.Background()
	mgr, err := config.NewConfigManager(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create config manager: %v\n", err)
		os.Exit(1)
	}
	if err := mgr.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := mgr.Validate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	app, err := NewApp(mgr.Get(ctx), *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create application: %v\n", err)
		os.Exit(1)
	}
	if err := app.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start application: %v\n", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	fmt.Println("\nReceived shutdown signal...")

	if err := app.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping application: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Shutdown complete")
}
