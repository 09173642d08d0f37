// Package pricing derives market-relative pricing signals for inventory
// vehicles: cohort statistics, suggested price, competitiveness and margin,
// price simulation and inventory-wide rollups.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/WessleyAI/pricing-engine/engine/catalog"
	"github.com/WessleyAI/pricing-engine/engine/domain"
	"github.com/WessleyAI/pricing-engine/engine/store"
	"github.com/WessleyAI/pricing-engine/pkg/fn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Defaults for Config.
const (
	DefaultYearWindow  = 1
	DefaultMileageRate = 0.05 // base currency per km above the cohort average
	DefaultWorkers     = 8
)

// Config tunes an Analyzer. A negative YearWindow restricts cohorts to the
// exact model year. A negative MileageRate disables the mileage adjustment.
type Config struct {
	YearWindow  int
	MileageRate float64
	Workers     int
}

func (c Config) withDefaults() Config {
	switch {
	case c.YearWindow == 0:
		c.YearWindow = DefaultYearWindow
	case c.YearWindow < 0:
		c.YearWindow = 0 // exact year
	}
	switch {
	case c.MileageRate == 0:
		c.MileageRate = DefaultMileageRate
	case c.MileageRate < 0:
		c.MileageRate = 0 // disabled
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	return c
}

// Option adjusts a single analysis.
type Option func(*query)

type query struct {
	yearWindow    int
	withReference bool
}

// WithYearWindow widens (or narrows) the cohort year window to ±n.
func WithYearWindow(n int) Option {
	return func(q *query) {
		if n >= 0 {
			q.yearWindow = n
		}
	}
}

// WithoutReferencePrices leaves reference-sheet rows out of the cohort.
func WithoutReferencePrices() Option { return func(q *query) { q.withReference = false } }

// Analyzer computes PriceAnalysis values from active market listings.
// It only reads and is safe for concurrent use.
type Analyzer struct {
	market  store.MarketStore
	catalog catalog.Catalog
	cfg     Config
	log     *slog.Logger
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(market store.MarketStore, cat catalog.Catalog, cfg Config, log *slog.Logger) *Analyzer {
	if log == nil {
		log = slog.Default()
	}
	return &Analyzer{market: market, catalog: cat, cfg: cfg.withDefaults(), log: log}
}

func (a *Analyzer) query(opts []Option) query {
	q := query{yearWindow: a.cfg.YearWindow, withReference: true}
	for _, o := range opts {
		o(&q)
	}
	return q
}

// check rejects malformed vehicles and vehicles outside the catalog.
func (a *Analyzer) check(ctx context.Context, v domain.Vehicle) error {
	if err := domain.ValidateVehicle(v); err != nil {
		return err
	}
	_, ok, err := a.catalog.Lookup(ctx, v.BrandID, v.ModelID)
	if err != nil {
		return fmt.Errorf("pricing: catalog lookup: %w", err)
	}
	if !ok {
		return &domain.InvalidVehicleError{VehicleID: v.ID, BrandID: v.BrandID, ModelID: v.ModelID}
	}
	return nil
}

// Cohort returns the active market listings comparable to v.
func (a *Analyzer) Cohort(ctx context.Context, v domain.Vehicle, opts ...Option) ([]domain.MarketListing, error) {
	return a.cohort(ctx, v, a.query(opts))
}

func (a *Analyzer) cohort(ctx context.Context, v domain.Vehicle, q query) ([]domain.MarketListing, error) {
	cq := store.CohortQuery{
		BrandID:  v.BrandID,
		ModelID:  v.ModelID,
		YearFrom: v.Year - q.yearWindow,
		YearTo:   v.Year + q.yearWindow,
	}
	if !q.withReference {
		cq.ExcludeSources = []domain.Source{domain.SourceExcelRef}
	}
	listings, err := a.market.Cohort(ctx, cq)
	if err != nil {
		return nil, fmt.Errorf("pricing: cohort: %w", err)
	}
	return listings, nil
}

// Analyze prices one vehicle against its cohort. A vehicle outside the
// catalog fails with *domain.InvalidVehicleError; an empty cohort is not an
// error and yields domain.NoData.
func (a *Analyzer) Analyze(ctx context.Context, v domain.Vehicle, opts ...Option) (domain.PriceAnalysis, error) {
	if err := a.check(ctx, v); err != nil {
		return domain.PriceAnalysis{}, err
	}
	q := a.query(opts)
	cohort, err := a.cohort(ctx, v, q)
	if err != nil {
		return domain.PriceAnalysis{}, err
	}
	return a.analysis(v, cohort, q.yearWindow), nil
}

func (a *Analyzer) analysis(v domain.Vehicle, cohort []domain.MarketListing, window int) domain.PriceAnalysis {
	res := domain.PriceAnalysis{
		VehicleID:       v.ID,
		CurrentPrice:    v.ListPrice,
		ComparableCount: len(cohort),
		Competitiveness: domain.NoData,
		CurrentMargin:   Margin(v.ListPrice, v.ListPrice),
		YearWindow:      window,
	}
	if len(cohort) == 0 {
		return res
	}

	prices := make([]float64, len(cohort))
	for i, m := range cohort {
		prices[i] = m.Price
	}
	mean, median := Mean(prices), Median(prices)
	adj := MileageAdjustment(v.Mileage, cohort, a.cfg.MileageRate)
	suggested := max(0, median-adj)

	res.MarketMean = &mean
	res.MarketMedian = &median
	res.RawSuggestedPrice = domain.Float64Ptr(median)
	res.SuggestedPrice = &suggested
	res.MileageAdjustment = adj
	res.Competitiveness = Classify(v.ListPrice, median)
	res.SuggestedMargin = domain.Float64Ptr(Margin(suggested, v.ListPrice))
	return res
}

// MileageAdjustment is the penalty for driving more than the cohort
// average: (mileage - avg) × rate when positive. Comparables without mileage
// are ignored; with none left there is no adjustment.
func MileageAdjustment(mileage int, cohort []domain.MarketListing, rate float64) float64 {
	var sum, n float64
	for _, m := range cohort {
		if m.Mileage != nil {
			sum += float64(*m.Mileage)
			n++
		}
	}
	if n == 0 || rate <= 0 {
		return 0
	}
	excess := float64(mileage) - sum/n
	if excess <= 0 {
		return 0
	}
	return excess * rate
}

// AnalyzeAll analyzes the in-stock vehicles in parallel and returns their
// analyses in input order. Vehicles that fail validation or are not in the
// catalog are logged and skipped; store failures abort.
func (a *Analyzer) AnalyzeAll(ctx context.Context, vehicles []domain.Vehicle, opts ...Option) ([]domain.PriceAnalysis, error) {
	ctx, span := otel.Tracer("engine/pricing").Start(ctx, "pricing.analyze_all")
	defer span.End()

	inStock := fn.Filter(vehicles, func(v domain.Vehicle) bool { return v.InStock })
	span.SetAttributes(attribute.Int("vehicles", len(inStock)))

	results := fn.ParMapResult(ctx, inStock, a.cfg.Workers, func(ctx context.Context, v domain.Vehicle) fn.Result[*domain.PriceAnalysis] {
		pa, err := a.Analyze(ctx, v, opts...)
		var ve *domain.ValidationError
		if errors.Is(err, domain.ErrInvalidVehicle) || errors.As(err, &ve) {
			a.log.Warn("pricing: skipping vehicle", "vehicle_id", v.ID, "error", err)
			return fn.Ok[*domain.PriceAnalysis](nil)
		}
		if err != nil {
			return fn.Err[*domain.PriceAnalysis](err)
		}
		return fn.Ok(&pa)
	})
	all, err := fn.Collect(results).Unwrap()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	out := make([]domain.PriceAnalysis, 0, len(all))
	for _, pa := range all {
		if pa != nil {
			out = append(out, *pa)
		}
	}
	return out, nil
}
