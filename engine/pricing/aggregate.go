package pricing

import (
	"context"
	"fmt"

	"github.com/WessleyAI/pricing-engine/engine/domain"
	"go.opentelemetry.io/otel"
)

// Aggregate rolls up AnalyzeAll over vehicles with the market listing
// totals. An empty inventory yields zero counts.
func (a *Analyzer) Aggregate(ctx context.Context, vehicles []domain.Vehicle, opts ...Option) (domain.Stats, error) {
	ctx, span := otel.Tracer("engine/pricing").Start(ctx, "pricing.aggregate")
	defer span.End()

	stats := domain.Stats{ActiveSources: []domain.Source{}}
	analyses, err := a.AnalyzeAll(ctx, vehicles, opts...)
	if err != nil {
		return stats, err
	}

	var marginSum float64
	for _, pa := range analyses {
		stats.TotalAnalyzed++
		switch pa.Competitiveness {
		case domain.VeryCompetitive:
			stats.VeryCompetitive++
		case domain.Competitive:
			stats.Competitive++
		case domain.Expensive:
			stats.Expensive++
		}
		if pa.Competitiveness != domain.NoData {
			stats.WithMarketData++
			if pa.SuggestedMargin != nil {
				marginSum += *pa.SuggestedMargin
			}
		}
	}
	if stats.WithMarketData > 0 {
		stats.AverageMargin = marginSum / float64(stats.WithMarketData)
	}

	if stats.TotalMarketListings, err = a.market.ActiveCount(ctx); err != nil {
		return stats, fmt.Errorf("pricing: active count: %w", err)
	}
	sources, err := a.market.ActiveSources(ctx)
	if err != nil {
		return stats, fmt.Errorf("pricing: active sources: %w", err)
	}
	if len(sources) > 0 {
		stats.ActiveSources = sources
	}
	return stats, nil
}
