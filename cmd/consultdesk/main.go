package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"consultdesk/internal/app"
	"consultdesk/internal/config"
)

// shutdownTimeout bounds graceful shutdown
const shutdownTimeout = 30 * time.Second

// main serves until SIGINT or SIGTERM
func main() {
	if err := run(); err != nil {
		slog.Error("consultdesk exited", "error", err)
		os.Exit(1)
	}
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return runWithContext(ctx, os.Getenv("CONSULTDESK_CONFIG_FILE"))
}

// runWithContext serves until ctx is cancelled, then shuts down
func runWithContext(ctx context.Context, configPath string) error {
	// STEP 1: Load configuration with precedence (file > env > defaults)
	cfg, err := config.LoadConfigWithPrecedence(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := app.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	// STEP 2: Create and start the application
	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("application error: %w", err)
	}

	// STEP 3: Wait for a shutdown signal
	<-ctx.Done()
	slog.Info("shutdown requested", "reason", context.Cause(ctx))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
