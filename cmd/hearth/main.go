package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vjranagit/hearth/internal/config"
	"github.com/vjranagit/hearth/pkg/api"
	"github.com/vjranagit/hearth/pkg/demo"
	"github.com/vjranagit/hearth/pkg/issues"
	"github.com/vjranagit/hearth/pkg/storage"
)

const (
	version = "0.1.0"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting hearth", "version", version)

	// Load configuration
	cfg := config.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"listen_addr", cfg.Server.ListenAddr,
		"storage_path", cfg.Storage.Path,
		"compression_level", cfg.Storage.CompressionLevel,
		"demo_mode", cfg.Demo.Enabled)

	// Open the statistics store
	store, err := storage.NewStore(cfg.ToStorageConfig(), logger)
	if err != nil {
		logger.Error("failed to open statistics store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	registry := issues.NewRegistry()

	// Seed the demo fixture before serving. A failed seed is logged
	// and the platform starts anyway: demo data must never take the
	// server down.
	if cfg.Demo.Enabled {
		seeder := demo.NewSeeder(registry, store, &demo.Config{
			Seed:   cfg.Demo.Seed,
			Logger: logger,
		})
		if err := seeder.Run(context.Background()); err != nil {
			logger.Error("demo seeding failed", "error", err)
		}
	}

	// Start the API server
	server := api.NewServer(cfg.Server.ListenAddr, store, registry, logger)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.Timeout)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
