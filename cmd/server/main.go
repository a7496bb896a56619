// Package main is the entry point for the Alchemy backend.
//
// main stays minimal:
//  1. load configuration (.env + environment)
//  2. create the logger
//  3. build the server and run it until SIGINT/SIGTERM
//
// Everything else lives in internal/.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alchemyai/alchemy-backend/internal/config"
	"github.com/alchemyai/alchemy-backend/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// === 1. CONFIGURATION ===
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// === 2. LOGGING ===
	// Text output is readable in a terminal and still key=value parseable.
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	// === 3. SERVER ===
	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		return err
	}

	// Start blocks until the server is shut down.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		return err
	}
	return nil
}
