package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"iotriad/internal/backend/uring"
	"iotriad/internal/config"
	"iotriad/internal/run"
)

func main() {
	slog.Info("Starting iotriad io_uring backend")

	if err := godotenv.Load(); err != nil {
		slog.Warn("No .env file found", "error", err)
	}

	cfg, err := config.ParseRunConfigFromEnv()
	if err != nil {
		slog.Error("Failed to parse config", "error", err)
		os.Exit(1)
	}

	b, err := uring.NewBackend(cfg.RingEntries)
	if err != nil {
		slog.Error("Failed to create io_uring backend", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	if err := run.Execute("io_uring", b, cfg); err != nil {
		slog.Error("Run failed", "error", err)
		os.Exit(1)
	}
}
