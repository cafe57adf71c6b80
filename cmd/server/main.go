// Package main is the entry point for a WIP server process. It starts
// exactly one of the four cooperating roles (weather, location, query,
// report), selected by the -role flag, with graceful shutdown support.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/sean-rowe/wip-server/internal/app"
)

// main initializes and runs a WIP server role. It creates a new
// application instance for the selected role, starts it with context,
// and handles graceful shutdown on termination signals.
func main() {
	role := flag.String("role", app.RoleWeather, "WIP server role: weather, location, query, report")
	flag.Parse()

	ctx := context.Background()

	application, err := app.New(*role)

	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	defer application.Stop()

	application.WaitForShutdown()
}
