// Package app assembles the pricing engine from a config.Config. Both
// binaries build on it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/WessleyAI/pricing-engine/engine/catalog"
	"github.com/WessleyAI/pricing-engine/engine/domain"
	"github.com/WessleyAI/pricing-engine/engine/importer"
	"github.com/WessleyAI/pricing-engine/engine/ingest"
	"github.com/WessleyAI/pricing-engine/engine/inventory"
	"github.com/WessleyAI/pricing-engine/engine/normalize"
	"github.com/WessleyAI/pricing-engine/engine/pricing"
	"github.com/WessleyAI/pricing-engine/engine/scraper"
	"github.com/WessleyAI/pricing-engine/engine/store"
	"github.com/WessleyAI/pricing-engine/pkg/config"
	"github.com/WessleyAI/pricing-engine/pkg/metrics"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sashabaranov/go-openai"
)

// Backend is a Store that can also guard batch jobs.
type Backend interface {
	store.Store
	store.RunLock
}

// App holds every engine component.
type App struct {
	Config     config.Config
	Store      Backend
	Catalog    catalog.Catalog
	Inventory  inventory.Inventory
	Ingestor   *ingest.Ingestor
	Importer   *importer.Importer
	Normalizer *normalize.Normalizer
	Analyzer   *pricing.Analyzer
	Simulator  *pricing.Simulator
	Scraper    *scraper.Runner
	Metrics    *metrics.Registry

	connectors []scraper.Connector
	closers    []func()
	log        *slog.Logger
}

// Option presets a component instead of building it from config.
type Option func(*App)

func WithStore(b Backend) Option                 { return func(a *App) { a.Store = b } }
func WithCatalog(c catalog.Catalog) Option       { return func(a *App) { a.Catalog = c } }
func WithInventory(i inventory.Inventory) Option { return func(a *App) { a.Inventory = i } }
func WithMetrics(reg *metrics.Registry) Option   { return func(a *App) { a.Metrics = reg } }

// WithConnectors replaces the connectors derived from the scrape config.
func WithConnectors(conns ...scraper.Connector) Option {
	return func(a *App) { a.connectors = conns }
}

// New connects the configured backends and wires the engine. Call Close
// when done.
func New(ctx context.Context, cfg config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{Config: cfg, log: log}
	for _, o := range opts {
		o(a)
	}
	if a.Metrics == nil {
		a.Metrics = metrics.New()
	}
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openCatalog(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if a.Inventory == nil {
		a.Inventory = newInventory(cfg.Inventory, log)
	}
	if a.connectors == nil {
		a.connectors = Connectors(cfg, log)
	}

	a.Ingestor = ingest.New(a.Store, ingest.WithLogger(log), ingest.WithMetrics(a.Metrics))
	a.Importer = importer.New(a.Ingestor, a.Store,
		importer.WithLogger(log),
		importer.WithDefaultCurrency(cfg.Pricing.BaseCurrency),
	)
	a.Normalizer = normalize.New(a.Store, a.Store, a.Store, a.Catalog,
		normalize.WithConverter(normalize.StaticRates{Base: cfg.Pricing.BaseCurrency, Rates: cfg.Pricing.Rates}),
		normalize.WithOutlierBounds(cfg.Pricing.OutlierLow, cfg.Pricing.OutlierHigh, cfg.Pricing.MinCohort),
		normalize.WithRetireOlderThan(cfg.Pricing.RetireAfter.D()),
		normalize.WithLogger(log),
		normalize.WithMetrics(a.Metrics),
	)
	a.Analyzer = pricing.NewAnalyzer(a.Store, a.Catalog, pricingConfig(cfg.Pricing), log)
	a.Simulator = pricing.NewSimulator(a.Analyzer, nil)
	a.Scraper = scraper.NewRunner(a.Ingestor, a.connectors,
		scraper.WithTimeout(cfg.Scrape.Timeout.D()),
		scraper.WithLogger(log),
		scraper.WithMetrics(a.Metrics),
	)
	return a, nil
}

// Close releases backend connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) openStore(ctx context.Context) error {
	if a.Store != nil {
		return nil
	}
	pc := a.Config.Postgres
	window := a.Config.Pricing.DedupWindow.D()
	if pc.DSN == "" {
		a.log.Info("app: using in-memory store")
		a.Store = store.NewMemory(store.WithDedupWindow(window))
		return nil
	}
	pool, err := store.OpenPool(ctx, pc.DSN, int(pc.MaxConns))
	if err != nil {
		return err
	}
	a.closers = append(a.closers, pool.Close)
	pg := store.NewPostgres(pool, window, a.log)
	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	a.Store = pg
	return nil
}

func (a *App) openCatalog(ctx context.Context) error {
	if a.Catalog != nil {
		return nil
	}
	nc := a.Config.Neo4j
	if nc.URL == "" {
		a.Catalog = catalog.NewStatic(catalog.DefaultEntries())
		return nil
	}
	driver, err := neo4j.NewDriverWithContext(nc.URL, neo4j.BasicAuth(nc.User, nc.Pass, ""))
	if err != nil {
		return fmt.Errorf("app: neo4j driver: %w", err)
	}
	a.closers = append(a.closers, func() { driver.Close(context.Background()) })
	g := catalog.NewGraph(driver, a.log)
	if nc.Seed {
		if err := g.Seed(ctx, catalog.DefaultEntries()); err != nil {
			return err
		}
	}
	a.Catalog = g
	return nil
}

func newInventory(cfg config.Inventory, log *slog.Logger) inventory.Inventory {
	if cfg.URL == "" {
		log.Warn("app: no inventory url, using empty static inventory")
		return inventory.NewStatic()
	}
	opts := []inventory.HTTPOption{inventory.WithLogger(log)}
	if cfg.Token != "" {
		opts = append(opts, inventory.WithToken(cfg.Token))
	}
	return inventory.NewHTTP(cfg.URL, opts...)
}

// pricingConfig maps the config section onto pricing.Config. A configured
// mileage rate of zero turns the adjustment off.
func pricingConfig(p config.Pricing) pricing.Config {
	window, rate := p.YearWindow, p.MileageRate
	if window == 0 {
		window = -1
	}
	if rate == 0 {
		rate = -1
	}
	return pricing.Config{YearWindow: window, MileageRate: rate}
}

// Connectors builds one HTTP JSON connector per configured feed, in source
// order, plus the AI extractor when pages are configured.
func Connectors(cfg config.Config, log *slog.Logger) []scraper.Connector {
	srcs := make([]string, 0, len(cfg.Scrape.Feeds))
	for src := range cfg.Scrape.Feeds {
		srcs = append(srcs, src)
	}
	sort.Strings(srcs)

	var conns []scraper.Connector
	for _, src := range srcs {
		conns = append(conns, scraper.NewHTTPJSONConnector(domain.Source(src), cfg.Scrape.Feeds[src]))
	}
	if len(cfg.Scrape.AIPages) > 0 {
		oc := openai.DefaultConfig(cfg.OpenAI.APIKey)
		if cfg.OpenAI.BaseURL != "" {
			oc.BaseURL = cfg.OpenAI.BaseURL
		}
		conns = append(conns, scraper.NewAIExtractor(openai.NewClientWithConfig(oc), cfg.OpenAI.Model, cfg.Scrape.AIPages, log))
	}
	return conns
}
