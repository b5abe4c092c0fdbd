package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"iotriad/internal/backend/poll"
	"iotriad/internal/config"
	"iotriad/internal/run"
)

func main() {
	slog.Info("Starting iotriad poll backend")

	if err := godotenv.Load(); err != nil {
		slog.Warn("No .env file found", "error", err)
	}

	cfg, err := config.ParseRunConfigFromEnv()
	if err != nil {
		slog.Error("Failed to parse config", "error", err)
		os.Exit(1)
	}

	b, err := poll.NewBackend()
	if err != nil {
		slog.Error("Failed to create poll backend", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	if err := run.Execute("poll", b, cfg); err != nil {
		slog.Error("Run failed", "error", err)
		os.Exit(1)
	}
}
