package detector

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	decHundred      = decimal.NewFromInt(100)
	minThresholdPct = decimal.NewFromInt(1)
	maxThresholdPct = decimal.NewFromInt(99)
)

// Sample is one timestamped price observation for a single product.
type Sample struct {
	Price      decimal.Decimal
	ObservedAt time.Time
}

// Decision is the outcome of evaluating one sample against its trend.
type Decision struct {
	// IsDip reports whether the discount reached the product threshold.
	IsDip bool
	// DiscountPct is signed: negative means the price rose above trend.
	DiscountPct decimal.Decimal
	// Reference is the median trend price the sample was compared against.
	Reference decimal.Decimal
	// HasReference is false when the window held too few samples to
	// establish a trend; IsDip is always false in that case.
	HasReference bool
}

// Options tune the detection rule.
type Options struct {
	// Window bounds the trailing reference window.
	Window time.Duration
	// MinSamples is the minimum number of prior observations required
	// before a reference is considered established.
	MinSamples int
}

// Detector turns a stream of price samples into dip decisions.
type Detector struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Detector. Zero option values fall back to 30 days / 2.
func New(opts Options, logger zerolog.Logger) *Detector {
	if opts.Window <= 0 {
		opts.Window = 30 * 24 * time.Hour
	}
	if opts.MinSamples <= 0 {
		opts.MinSamples = 2
	}
	return &Detector{opts: opts, logger: logger.With().Str("component", "detector").Logger()}
}

// Evaluate compares price against the median of the samples observed in the
// window ending at `at`. The sample under evaluation must not be part of
// history semantics: only observations strictly before `at` contribute to
// the reference, so a freshly appended sample never inflates its own trend.
func (d *Detector) Evaluate(price, thresholdPct decimal.Decimal, history []Sample, at time.Time) Decision {
	reference, ok := d.Reference(history, at)
	if !ok {
		return Decision{}
	}

	discount := reference.Sub(price).Div(reference).Mul(decHundred)

	// A price increase yields a negative discount. It is surfaced as-is
	// but floored at zero before the threshold comparison so that no
	// threshold value can fire on a rising price.
	floored := discount
	if floored.IsNegative() {
		floored = decimal.Zero
	}

	threshold := d.clampThreshold(thresholdPct)

	return Decision{
		IsDip:        floored.GreaterThanOrEqual(threshold),
		DiscountPct:  discount,
		Reference:    reference,
		HasReference: true,
	}
}

// clampThreshold forces out-of-range thresholds back into [1, 99]. Product
// validation rejects such values up front, so hitting this means the stored
// configuration was tampered with; the detector must still not misfire.
func (d *Detector) clampThreshold(t decimal.Decimal) decimal.Decimal {
	switch {
	case t.LessThan(minThresholdPct):
		d.logger.Warn().Str("threshold_pct", t.String()).Msg("threshold below 1, clamping")
		return minThresholdPct
	case t.GreaterThan(maxThresholdPct):
		d.logger.Warn().Str("threshold_pct", t.String()).Msg("threshold above 99, clamping")
		return maxThresholdPct
	default:
		return t
	}
}
