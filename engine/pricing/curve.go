package pricing

import "math"

// Curve maps the price ratio r (proposed price over cohort median) to the
// expected days to sell and the probability of a sale within 30 days.
// Days must be non-decreasing and Probability non-increasing in r.
type Curve interface {
	Days(r float64) float64
	Probability(r float64) float64
}

// PiecewiseCurve is flat inside the competitive band [Low, High], speeds up
// linearly below it and slows down above it: days grow linearly and the
// probability decays exponentially with the distance past High. Both
// measures are continuous at the band edges.
type PiecewiseCurve struct {
	Low, High float64 // band edges as ratios
	BaseDays  float64 // days to sell inside the band
	BaseProb  float64 // 30-day probability inside the band
	MinDays   float64
	MinProb   float64
	MaxProb   float64
	FastSlope float64 // day reduction per unit ratio below Low, as a share of BaseDays
	SlowSlope float64 // day growth per unit ratio above High, as a share of BaseDays
	ProbGain  float64 // probability gain per unit ratio below Low
	ProbDecay float64 // exponential decay rate above High
}

// DefaultCurve is the curve used when none is configured. Its constants are
// a starting calibration pending historical sales data.
var DefaultCurve = PiecewiseCurve{
	Low: 0.95, High: 1.05,
	BaseDays: 30, BaseProb: 0.6,
	MinDays: 7, MinProb: 0.02, MaxProb: 0.95,
	FastSlope: 2, SlowSlope: 4,
	ProbGain: 2, ProbDecay: 6,
}

// Days implements Curve.
func (c PiecewiseCurve) Days(r float64) float64 {
	switch {
	case r < c.Low:
		return max(c.MinDays, c.BaseDays*(1-c.FastSlope*(c.Low-r)))
	case r > c.High:
		return c.BaseDays * (1 + c.SlowSlope*(r-c.High))
	default:
		return c.BaseDays
	}
}

// Probability implements Curve.
func (c PiecewiseCurve) Probability(r float64) float64 {
	switch {
	case r < c.Low:
		return min(c.MaxProb, c.BaseProb+c.ProbGain*(c.Low-r))
	case r > c.High:
		return max(c.MinProb, c.BaseProb*math.Exp(-c.ProbDecay*(r-c.High)))
	default:
		return c.BaseProb
	}
}
