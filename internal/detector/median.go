package detector

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var decTwo = decimal.NewFromInt(2)

// Median returns the standard median of values: the middle element for odd
// counts, the average of the two middle elements for even counts. The input
// slice is not modified. Returns false for an empty input.
func Median(values []decimal.Decimal) (decimal.Decimal, bool) {
	if len(values) == 0 {
		return decimal.Decimal{}, false
	}

	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LessThan(sorted[j])
	})

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2], true
	}
	return sorted[n/2-1].Add(sorted[n/2]).Div(decTwo), true
}

// Reference computes the trend price for an evaluation at `at`: the median
// of all sample prices observed within [at-window, at). The window is
// anchored at the evaluated sample's own timestamp rather than wall-clock
// now, so back-filled or replayed evaluations are reproducible. Returns
// false when fewer than MinSamples observations fall inside the window or
// the resulting median is not positive.
func (d *Detector) Reference(history []Sample, at time.Time) (decimal.Decimal, bool) {
	cutoff := at.Add(-d.opts.Window)

	prices := make([]decimal.Decimal, 0, len(history))
	for _, s := range history {
		if s.ObservedAt.Before(cutoff) || !s.ObservedAt.Before(at) {
			continue
		}
		prices = append(prices, s.Price)
	}

	if len(prices) < d.opts.MinSamples {
		return decimal.Decimal{}, false
	}

	median, ok := Median(prices)
	if !ok || !median.IsPositive() {
		return decimal.Decimal{}, false
	}
	return median, true
}
