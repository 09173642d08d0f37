// Command api serves the pricing engine over HTTP.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WessleyAI/pricing-engine/engine/app"
	"github.com/WessleyAI/pricing-engine/engine/ingest"
	"github.com/WessleyAI/pricing-engine/pkg/config"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("dotenv load failed", "err", err)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	go engine.Metrics.CollectRuntime(ctx, 15*time.Second)
	if cfg.Metrics.Port > 0 {
		engine.Metrics.ServeAsync(cfg.Metrics.Port, logger)
	}

	// --- Optional NATS consumer for remote scrapers ---
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("pricing-api"))
		if err != nil {
			return err
		}
		defer nc.Drain()
		if _, err := ingest.StartConsumer(nc, cfg.NATS.Subject, engine.Ingestor, logger); err != nil {
			return err
		}
		logger.Info("nats consumer started", "subject", cfg.NATS.Subject)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      newServer(engine, logger).routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.HTTP.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
