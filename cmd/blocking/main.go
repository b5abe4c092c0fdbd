package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"iotriad/internal/backend/blocking"
	"iotriad/internal/config"
	"iotriad/internal/run"
)

func main() {
	slog.Info("Starting iotriad blocking backend")

	if err := godotenv.Load(); err != nil {
		slog.Warn("No .env file found", "error", err)
	}

	cfg, err := config.ParseRunConfigFromEnv()
	if err != nil {
		slog.Error("Failed to parse config", "error", err)
		os.Exit(1)
	}

	b, err := blocking.NewBackend(cfg.Workers)
	if err != nil {
		slog.Error("Failed to create blocking backend", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	if err := run.Execute("blocking", b, cfg); err != nil {
		slog.Error("Run failed", "error", err)
		os.Exit(1)
	}
}
