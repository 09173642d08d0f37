// Command scraper runs the marketplace connectors once or on an interval.
// Listings are ingested into the configured store, or published to NATS
// when -publish is set so a running api instance ingests them.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/WessleyAI/pricing-engine/engine/app"
	"github.com/WessleyAI/pricing-engine/engine/domain"
	"github.com/WessleyAI/pricing-engine/engine/scraper"
	"github.com/WessleyAI/pricing-engine/pkg/config"
	"github.com/WessleyAI/pricing-engine/pkg/metrics"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

func main() {
	sources := flag.String("sources", "", "comma-separated sources to scrape (default: all configured)")
	interval := flag.Duration("interval", -1, "polling interval, 0 for one-shot (default: scrape.interval)")
	publish := flag.Bool("publish", false, "publish batches to NATS instead of ingesting locally")
	flag.Parse()

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
	if *interval >= 0 {
		cfg.Scrape.Interval = config.Duration(*interval)
	}

	if err := run(cfg, parseSources(*sources), *publish, logger); err != nil {
		logger.Error("scraper exited with error", "err", err)
		os.Exit(1)
	}
}

func parseSources(s string) []domain.Source {
	var out []domain.Source
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, domain.Source(part))
		}
	}
	return out
}

// job is one scrape pass, optionally followed by normalization.
type job func(ctx context.Context) error

func run(cfg config.Config, sources []domain.Source, publish bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	met := metrics.New()
	go met.CollectRuntime(ctx, 15*time.Second)
	if cfg.Metrics.Port > 0 {
		met.ServeAsync(cfg.Metrics.Port, logger)
	}

	var pass job
	if publish {
		if cfg.NATS.URL == "" {
			return errors.New("scraper: -publish needs NATS_URL")
		}
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("pricing-scraper"))
		if err != nil {
			return err
		}
		defer nc.Drain()
		runner := scraper.NewRunner(newPublisher(nc, cfg.NATS.Subject, logger), app.Connectors(cfg, logger),
			scraper.WithTimeout(cfg.Scrape.Timeout.D()),
			scraper.WithLogger(logger),
			scraper.WithMetrics(met),
		)
		pass = scrapeJob(runner, nil, sources, logger)
	} else {
		engine, err := app.New(ctx, cfg, logger, app.WithMetrics(met))
		if err != nil {
			return err
		}
		defer engine.Close()
		var norm normalizer
		if cfg.Scrape.NormalizeAfter {
			norm = engine.Normalizer
		}
		pass = scrapeJob(engine.Scraper, norm, sources, logger)
	}

	return loop(ctx, cfg.Scrape.Interval.D(), pass, logger)
}

type normalizer interface {
	Normalize(ctx context.Context) (domain.NormalizationResult, error)
}

func scrapeJob(runner *scraper.Runner, norm normalizer, sources []domain.Source, logger *slog.Logger) job {
	return func(ctx context.Context) error {
		res, err := runner.Run(ctx, sources...)
		if err != nil {
			return err
		}
		logger.Info("scrape complete", "new", res.New, "duplicate", res.Duplicate, "errors", res.Errors)
		for src, sr := range res.PerSource {
			if sr.LastError != "" {
				logger.Warn("source had errors", "source", src, "errors", sr.Errors, "last_error", sr.LastError)
			}
		}
		if norm == nil {
			return nil
		}
		nr, err := norm.Normalize(ctx)
		var conflict *domain.ConcurrencyConflictError
		switch {
		case errors.As(err, &conflict):
			logger.Info("normalization already running, skipped")
			return nil
		case err != nil:
			return err
		}
		logger.Info("normalization complete", "normalized", nr.Normalized, "unmatched", nr.Unmatched,
			"outliers", nr.OutliersFiltered, "errors", nr.Errors)
		return nil
	}
}

// loop runs pass once when interval is zero, otherwise on every tick until
// ctx is done. Failed passes are logged and retried on the next tick.
func loop(ctx context.Context, interval time.Duration, pass job, logger *slog.Logger) error {
	if interval <= 0 {
		return pass(ctx)
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := pass(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("scrape pass failed", "err", err)
		}
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			return nil
		case <-t.C:
		}
	}
}
