package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ggarber/rt-proxy/internal/bridge"
	"github.com/ggarber/rt-proxy/internal/config"
	"github.com/ggarber/rt-proxy/internal/gemini"
	"github.com/ggarber/rt-proxy/internal/logging"
	"github.com/ggarber/rt-proxy/internal/metrics"
	"github.com/ggarber/rt-proxy/internal/server"
)

func main() {
	// Initialize logging
	logging.Init()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.Fail(logging.CategoryApp, "failed to load configuration: %v", err)
		os.Exit(1)
	}

	logging.Info(logging.CategoryApp, "starting rt-proxy model=%s", cfg.Model)

	client, err := gemini.NewClient(context.Background(), cfg.GeminiAPIKey)
	if err != nil {
		logging.Fail(logging.CategoryApp, "failed to create gemini client: %v", err)
		os.Exit(1)
	}

	registry := bridge.NewRegistry()
	m := metrics.New()
	srv := server.New(cfg, client, registry, m)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Serve until signalled (blocks), then drain connections
	if err := srv.Run(ctx); err != nil {
		logging.Fail(logging.CategoryApp, "server failed: %v", err)
		os.Exit(1)
	}

	logging.Info(logging.CategoryApp, "shutdown complete")
}
