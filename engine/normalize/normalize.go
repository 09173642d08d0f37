// Package normalize reconciles raw listings with the dealership catalog,
// filters price outliers and writes canonical market listings.
package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/pricing-engine/engine/catalog"
	"github.com/WessleyAI/pricing-engine/engine/domain"
	"github.com/WessleyAI/pricing-engine/engine/pricing"
	"github.com/WessleyAI/pricing-engine/engine/store"
	"github.com/WessleyAI/pricing-engine/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// LockName is the run lock held for the duration of a pass.
const LockName = "pricing.normalize"

// Outlier filter defaults: a candidate is rejected when a cohort of at least
// MinCohort listings (same model, year ±1) exists and its price falls
// outside [Low×median, High×median].
const (
	DefaultOutlierLow  = 0.4
	DefaultOutlierHigh = 2.5
	DefaultMinCohort   = 3
	outlierYearSpan    = 1
)

// Normalizer runs normalization passes. Passes never overlap: a second
// concurrent call fails with a ConcurrencyConflictError.
type Normalizer struct {
	raw     store.RawStore
	market  store.MarketStore
	lock    store.RunLock
	catalog catalog.Catalog

	matcher   Matcher
	converter CurrencyConverter
	low, high float64
	minCohort int
	retire    time.Duration

	log     *slog.Logger
	metrics *metrics.Registry
	now     func() time.Time
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithMatcher replaces the FuzzyMatcher.
func WithMatcher(m Matcher) Option { return func(n *Normalizer) { n.matcher = m } }

// WithConverter sets the currency converter. Identity by default.
func WithConverter(c CurrencyConverter) Option { return func(n *Normalizer) { n.converter = c } }

// WithOutlierBounds overrides the outlier multipliers and minimum cohort.
func WithOutlierBounds(low, high float64, minCohort int) Option {
	return func(n *Normalizer) { n.low, n.high, n.minCohort = low, high, minCohort }
}

// WithRetireOlderThan deactivates market listings normalized more than d
// ago at the start of every pass.
func WithRetireOlderThan(d time.Duration) Option { return func(n *Normalizer) { n.retire = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(n *Normalizer) { n.log = l } }

// WithMetrics records outcome counters and pass durations in reg.
func WithMetrics(reg *metrics.Registry) Option { return func(n *Normalizer) { n.metrics = reg } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(n *Normalizer) { n.now = now } }

// New creates a Normalizer.
func New(raw store.RawStore, market store.MarketStore, lock store.RunLock, cat catalog.Catalog, opts ...Option) *Normalizer {
	n := &Normalizer{
		raw: raw, market: market, lock: lock, catalog: cat,
		matcher:   NewFuzzyMatcher(),
		converter: Identity,
		low:       DefaultOutlierLow,
		high:      DefaultOutlierHigh,
		minCohort: DefaultMinCohort,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(n)
	}
	if n.log == nil {
		n.log = slog.Default()
	}
	return n
}

// Normalize processes every pending raw listing, oldest first. Catalogs that
// implement catalog.Refresher are reloaded before the pass. Per-row
// failures are counted in the result. Cancelling ctx stops the pass between
// listings; rows already settled stay settled.
func (n *Normalizer) Normalize(ctx context.Context) (domain.NormalizationResult, error) {
	var res domain.NormalizationResult
	ctx, span := otel.Tracer("engine/normalize").Start(ctx, "normalize.run")
	defer span.End()
	start := n.now()

	release, ok, err := n.lock.TryLock(ctx, LockName)
	if err != nil {
		return res, fmt.Errorf("normalize: lock: %w", err)
	}
	if !ok {
		n.log.Warn("normalize: pass already running")
		return res, &domain.ConcurrencyConflictError{Operation: "normalize"}
	}
	defer release()

	if n.retire > 0 {
		retired, err := n.market.DeactivateOlderThan(ctx, start.Add(-n.retire))
		if err != nil {
			return res, fmt.Errorf("normalize: retire: %w", err)
		}
		if retired > 0 {
			n.log.Info("normalize: retired stale listings", "count", retired)
		}
	}

	if r, ok := n.catalog.(catalog.Refresher); ok {
		if err := r.Refresh(ctx); err != nil {
			n.log.Warn("normalize: catalog refresh failed, using last snapshot", "error", err)
		}
	}
	entries, err := n.catalog.Entries(ctx)
	if err != nil {
		return res, fmt.Errorf("normalize: catalog: %w", err)
	}
	fp := catalog.Fingerprint(entries)

	pending, err := n.raw.PendingRaw(ctx, fp, 0)
	if err != nil {
		return res, fmt.Errorf("normalize: pending: %w", err)
	}
	span.SetAttributes(attribute.Int("pending", len(pending)))

	for _, l := range pending {
		if err := ctx.Err(); err != nil {
			n.log.Warn("normalize: cancelled", "processed", res.Normalized+res.Unmatched+res.OutliersFiltered+res.Errors)
			span.SetStatus(codes.Error, err.Error())
			return res, err
		}
		outcome := n.process(ctx, l, entries, fp)
		n.count(outcome)
		switch outcome {
		case domain.OutcomeNormalized:
			res.Normalized++
		case domain.OutcomeUnmatched:
			res.Unmatched++
		case domain.OutcomeOutlier:
			res.OutliersFiltered++
		default:
			res.Errors++
		}
	}

	if n.metrics != nil {
		n.metrics.Histogram("pricing_normalize_duration_seconds", "Normalization pass duration.", nil).
			Observe(n.now().Sub(start).Seconds())
	}
	n.log.Info("normalize: pass done", "pending", len(pending), "normalized", res.Normalized,
		"unmatched", res.Unmatched, "outliers", res.OutliersFiltered, "errors", res.Errors)
	return res, nil
}

// process settles one raw listing and returns its outcome. Store failures
// come back as OutcomeError; the row stays pending in that case.
func (n *Normalizer) process(ctx context.Context, l domain.RawListing, entries []catalog.Entry, fp string) domain.RawOutcome {
	now := n.now()
	settle := func(outcome domain.RawOutcome) domain.RawOutcome {
		st := domain.RawState{RawID: l.ID, Outcome: outcome, CatalogFingerprint: fp, ProcessedAt: now}
		if err := n.raw.SetRawState(ctx, st); err != nil {
			n.log.Error("normalize: set state", "raw_id", l.ID, "error", err)
			return domain.OutcomeError
		}
		return outcome
	}

	entry, err := n.resolve(ctx, l, entries)
	if err != nil {
		n.log.Error("normalize: resolve", "raw_id", l.ID, "error", err)
		return domain.OutcomeError
	}
	if entry == nil {
		n.log.Debug("normalize: no catalog match", "raw_id", l.ID,
			"error", &domain.CatalogMismatchError{BrandText: l.BrandText, ModelText: l.ModelText})
		return settle(domain.OutcomeUnmatched)
	}

	price, err := n.converter.ToBase(l.Price, l.Currency)
	if err != nil || price <= 0 {
		n.log.Warn("normalize: currency conversion", "raw_id", l.ID, "currency", l.Currency, "error", err)
		return settle(domain.OutcomeError)
	}

	outlier, err := n.isOutlier(ctx, entry, l.Year, price)
	if err != nil {
		n.log.Error("normalize: cohort", "raw_id", l.ID, "error", err)
		return domain.OutcomeError
	}
	if outlier {
		n.log.Info("normalize: outlier rejected", "raw_id", l.ID, "model_id", entry.ModelID, "price", price)
		return settle(domain.OutcomeOutlier)
	}

	m := domain.MarketListing{
		ID:           store.MarketID(l.ID),
		RawID:        l.ID,
		Source:       l.Source,
		BrandID:      entry.BrandID,
		ModelID:      entry.ModelID,
		Year:         l.Year,
		Price:        price,
		Mileage:      l.Mileage,
		Location:     l.Location,
		Active:       true,
		NormalizedAt: now,
	}
	st := domain.RawState{RawID: l.ID, Outcome: domain.OutcomeNormalized, CatalogFingerprint: fp, ProcessedAt: now}
	if err := n.market.Accept(ctx, m, st); err != nil {
		n.log.Error("normalize: accept", "raw_id", l.ID, "error", err)
		return domain.OutcomeError
	}
	return domain.OutcomeNormalized
}

// resolve returns the catalog entry for l, or nil when nothing matches.
func (n *Normalizer) resolve(ctx context.Context, l domain.RawListing, entries []catalog.Entry) (*catalog.Entry, error) {
	e, ok, err := n.catalog.Resolve(ctx, l.BrandText, l.ModelText)
	if err != nil {
		return nil, err
	}
	if ok {
		return &e, nil
	}
	candidates := n.matcher.Match(ctx, l.BrandText, l.ModelText, entries)
	if len(candidates) == 0 {
		return nil, nil
	}
	best := candidates[0]
	bestCount := -1
	for _, c := range candidates {
		count, err := n.market.CountByModel(ctx, c.BrandID, c.ModelID)
		if err != nil {
			return nil, err
		}
		if count > bestCount || (count == bestCount && c.ModelID < best.ModelID) {
			best, bestCount = c, count
		}
	}
	return &best, nil
}

func (n *Normalizer) isOutlier(ctx context.Context, e *catalog.Entry, year int, price float64) (bool, error) {
	cohort, err := n.market.Cohort(ctx, store.CohortQuery{
		BrandID:  e.BrandID,
		ModelID:  e.ModelID,
		YearFrom: year - outlierYearSpan,
		YearTo:   year + outlierYearSpan,
	})
	if err != nil {
		return false, err
	}
	if len(cohort) < n.minCohort {
		return false, nil
	}
	prices := make([]float64, len(cohort))
	for i, m := range cohort {
		prices[i] = m.Price
	}
	median := pricing.Median(prices)
	return price < n.low*median || price > n.high*median, nil
}

func (n *Normalizer) count(outcome domain.RawOutcome) {
	if n.metrics == nil {
		return
	}
	n.metrics.Counter(metrics.WithLabels("pricing_normalize_listings_total", "outcome", string(outcome)),
		"Raw listings settled by normalization, by outcome.").Inc()
}
