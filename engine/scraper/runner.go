package scraper

import (
	"context"
	"log/slog"
	"time"

	"github.com/WessleyAI/pricing-engine/engine/domain"
	"github.com/WessleyAI/pricing-engine/pkg/fn"
	"github.com/WessleyAI/pricing-engine/pkg/metrics"
	"github.com/WessleyAI/pricing-engine/pkg/resilience"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultTimeout bounds a single connector call.
const DefaultTimeout = 60 * time.Second

// Ingester is the ingestion path connector results go through.
type Ingester interface {
	Ingest(ctx context.Context, batch []domain.RawListing) (domain.IngestResult, error)
}

// Runner executes scrape runs over a fixed set of connectors.
type Runner struct {
	connectors map[domain.Source]Connector
	order      []domain.Source
	ing        Ingester
	breakers   *resilience.Set[domain.Source]
	timeout    time.Duration
	log        *slog.Logger
	metrics    *metrics.Registry
	now        func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout sets the per-connector call timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithBreakerOpts configures the per-source circuit breakers.
func WithBreakerOpts(o resilience.BreakerOpts) Option {
	return func(r *Runner) { r.breakers = resilience.NewSet[domain.Source](o) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.log = l } }

// WithMetrics records per-source run counters and durations in reg.
func WithMetrics(reg *metrics.Registry) Option { return func(r *Runner) { r.metrics = reg } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

// NewRunner creates a Runner. When two connectors share a source the first wins.
func NewRunner(ing Ingester, connectors []Connector, opts ...Option) *Runner {
	r := &Runner{
		connectors: make(map[domain.Source]Connector, len(connectors)),
		ing:        ing,
		breakers:   resilience.NewSet[domain.Source](resilience.DefaultBreakerOpts),
		timeout:    DefaultTimeout,
		log:        slog.Default(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	for _, c := range connectors {
		src := c.Source()
		if _, dup := r.connectors[src]; dup {
			r.log.Warn("scraper: duplicate connector ignored", "source", src)
			continue
		}
		r.connectors[src] = c
		r.order = append(r.order, src)
	}
	return r
}

// Sources lists the registered sources in registration order.
func (r *Runner) Sources() []domain.Source {
	out := make([]domain.Source, len(r.order))
	copy(out, r.order)
	return out
}

// Breakers reports the circuit state of every source that has run.
func (r *Runner) Breakers() map[domain.Source]resilience.State { return r.breakers.States() }

// Run scrapes the given sources, or every registered source when none are
// given. Connector failures are counted per source and never abort the run;
// the only error is a request for an unregistered source.
func (r *Runner) Run(ctx context.Context, sources ...domain.Source) (domain.ScrapeResult, error) {
	res := domain.ScrapeResult{PerSource: make(map[domain.Source]domain.SourceResult)}
	selected := r.order
	if len(sources) > 0 {
		selected = fn.Unique(sources)
		for _, src := range selected {
			if _, ok := r.connectors[src]; !ok {
				return res, domain.NewValidationError("source", string(src), domain.ErrUnknownSource)
			}
		}
	}

	ctx, span := otel.Tracer("engine/scraper").Start(ctx, "scraper.run")
	defer span.End()
	span.SetAttributes(attribute.Int("sources", len(selected)))
	start := r.now()

	results := fn.FanOut(fn.Map(selected, func(src domain.Source) func() domain.SourceResult {
		return func() domain.SourceResult { return r.runSource(ctx, src) }
	})...)

	for i, src := range selected {
		sr := results[i]
		res.PerSource[src] = sr
		res.New += sr.New
		res.Duplicate += sr.Duplicate
		res.Errors += sr.Errors
	}
	span.SetAttributes(attribute.Int("new", res.New), attribute.Int("errors", res.Errors))
	if r.metrics != nil {
		r.metrics.Histogram("pricing_scrape_duration_seconds", "Scrape run duration.", nil).Since(start)
	}
	r.log.Info("scraper: run done", "sources", len(selected), "new", res.New,
		"duplicates", res.Duplicate, "errors", res.Errors)
	return res, nil
}

func (r *Runner) runSource(ctx context.Context, src domain.Source) domain.SourceResult {
	var (
		sr       domain.SourceResult
		listings []domain.RawListing
	)
	conn := r.connectors[src]
	breaker := r.breakers.Get(src)
	err := breaker.Call(ctx, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		var err error
		listings, err = conn.FetchListings(cctx)
		return err
	})
	r.breakerGauge(src, breaker.State())
	if err != nil {
		cerr := &domain.ConnectorError{Source: src, Err: err}
		r.log.Warn("scraper: connector failed", "source", src, "error", cerr)
		sr.Errors = 1
		sr.LastError = cerr.Error()
		if r.metrics != nil {
			r.metrics.Counter(metrics.WithLabels("pricing_scrape_connector_errors_total", "source", string(src)),
				"Failed connector calls, by source.").Inc()
		}
		return sr
	}

	sr.Fetched = len(listings)
	for i := range listings {
		listings[i].Source = src
	}
	ir, err := r.ing.Ingest(ctx, listings)
	sr.New, sr.Duplicate, sr.Errors = ir.New, ir.Duplicate, ir.Error
	if err != nil {
		// Rows never reached by a cancelled ingest count as errors.
		sr.Errors += len(listings) - ir.New - ir.Duplicate - ir.Error
		sr.LastError = err.Error()
		r.log.Warn("scraper: ingest interrupted", "source", src, "error", err)
	}
	r.count(src, "new", sr.New)
	r.count(src, "duplicate", sr.Duplicate)
	r.count(src, "error", sr.Errors)
	r.log.Debug("scraper: source done", "source", src, "fetched", sr.Fetched, "new", sr.New)
	return sr
}

func (r *Runner) count(src domain.Source, result string, n int) {
	if r.metrics == nil || n == 0 {
		return
	}
	r.metrics.Counter(metrics.WithLabels("pricing_scrape_listings_total", "source", string(src), "result", result),
		"Listings seen by scrape runs, by source and result.").Add(int64(n))
}

func (r *Runner) breakerGauge(src domain.Source, st resilience.State) {
	if r.metrics == nil {
		return
	}
	open := 0.0
	if st != resilience.StateClosed {
		open = 1
	}
	r.metrics.Gauge(metrics.WithLabels("pricing_scrape_breaker_open", "source", string(src)),
		"1 while the source circuit breaker is not closed.").Set(open)
}
