package pricing

import (
	"context"
	"fmt"

	"github.com/WessleyAI/pricing-engine/engine/domain"
)

// Simulator projects time-to-sale, sale probability and margin for
// hypothetical prices.
type Simulator struct {
	analyzer *Analyzer
	curve    Curve
}

// NewSimulator creates a Simulator sharing a's cohort rules. A nil curve
// selects DefaultCurve.
func NewSimulator(a *Analyzer, curve Curve) *Simulator {
	if curve == nil {
		curve = DefaultCurve
	}
	return &Simulator{analyzer: a, curve: curve}
}

// reference returns the cohort median of v, or nil with an empty cohort.
func (s *Simulator) reference(ctx context.Context, v domain.Vehicle, opts []Option) (*float64, error) {
	if err := s.analyzer.check(ctx, v); err != nil {
		return nil, err
	}
	cohort, err := s.analyzer.cohort(ctx, v, s.analyzer.query(opts))
	if err != nil {
		return nil, err
	}
	if len(cohort) == 0 {
		return nil, nil
	}
	prices := make([]float64, len(cohort))
	for i, m := range cohort {
		prices[i] = m.Price
	}
	median := Median(prices)
	return &median, nil
}

// Simulate evaluates a single proposed price.
func (s *Simulator) Simulate(ctx context.Context, v domain.Vehicle, price float64, opts ...Option) (domain.PriceSimulationPoint, error) {
	if !(price > 0) {
		return domain.PriceSimulationPoint{}, fmt.Errorf("%w: price %v must be positive", domain.ErrInvalidPriceRange, price)
	}
	median, err := s.reference(ctx, v, opts)
	if err != nil {
		return domain.PriceSimulationPoint{}, err
	}
	return s.point(v, price, median), nil
}

// SimulateRange evaluates steps evenly spaced prices from lo to hi
// inclusive. One step yields the single point at lo.
func (s *Simulator) SimulateRange(ctx context.Context, v domain.Vehicle, lo, hi float64, steps int, opts ...Option) ([]domain.PriceSimulationPoint, error) {
	if steps <= 0 {
		return nil, fmt.Errorf("%w: got %d", domain.ErrInvalidSteps, steps)
	}
	if !(lo > 0) || !(hi >= lo) {
		return nil, fmt.Errorf("%w: [%v, %v]", domain.ErrInvalidPriceRange, lo, hi)
	}
	median, err := s.reference(ctx, v, opts)
	if err != nil {
		return nil, err
	}
	prices := RangePrices(lo, hi, steps)
	out := make([]domain.PriceSimulationPoint, len(prices))
	for i, p := range prices {
		out[i] = s.point(v, p, median)
	}
	return out, nil
}

// RangePrices returns steps evenly spaced prices from lo to hi inclusive.
func RangePrices(lo, hi float64, steps int) []float64 {
	if steps <= 0 {
		return nil
	}
	if steps == 1 {
		return []float64{lo}
	}
	out := make([]float64, steps)
	step := (hi - lo) / float64(steps-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[steps-1] = hi
	return out
}

// point is the single-price evaluation every simulation goes through.
func (s *Simulator) point(v domain.Vehicle, price float64, median *float64) domain.PriceSimulationPoint {
	p := domain.PriceSimulationPoint{
		ProposedPrice:   price,
		EstimatedMargin: Margin(price, v.ListPrice),
	}
	if median != nil && *median > 0 {
		p.Ratio = price / *median
		p.Competitiveness = Classify(price, *median)
	} else {
		p.Ratio = price / v.ListPrice
		p.Competitiveness = domain.NoData
		p.LowConfidence = true
	}
	p.EstimatedDays = s.curve.Days(p.Ratio)
	p.SaleProbability30d = s.curve.Probability(p.Ratio)
	return p
}
