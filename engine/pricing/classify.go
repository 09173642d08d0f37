package pricing

import "github.com/WessleyAI/pricing-engine/engine/domain"

// CostBasisRatio is the share of the list price assumed to be the
// acquisition cost when computing margins.
const CostBasisRatio = 0.85

// Competitiveness bands as fractions of the cohort median.
const (
	lowBand  = 0.95
	highBand = 1.05
)

// bandTolerance is the relative slack applied to the band edges so prices
// computed or rounded onto an edge stay Competitive.
const bandTolerance = 1e-9

// Classify tags price against the cohort median. Both band edges belong to
// Competitive.
func Classify(price, median float64) domain.Competitiveness {
	switch {
	case price < median*lowBand*(1-bandTolerance):
		return domain.VeryCompetitive
	case price > median*highBand*(1+bandTolerance):
		return domain.Expensive
	default:
		return domain.Competitive
	}
}

// Margin is the margin of selling at price when the cost basis derives from
// listPrice.
func Margin(price, listPrice float64) float64 {
	return price - CostBasisRatio*listPrice
}
