package detector

import (
	"time"

	"github.com/shopspring/decimal"
)

// DipOpen reports whether the dip episode behind the most recent alert is
// still ongoing. It replays every sample observed after alertAt against its
// own trailing window: the episode stays open until some later sample
// evaluates as non-dip (price recovered), which re-arms alerting.
//
// The state is derived entirely from history, never stored, so a scan
// running as a fresh process reaches the same conclusion as a long-lived
// one would have.
func (d *Detector) DipOpen(thresholdPct decimal.Decimal, history []Sample, alertAt time.Time) bool {
	for _, s := range history {
		if !s.ObservedAt.After(alertAt) {
			continue
		}
		decision := d.Evaluate(s.Price, thresholdPct, history, s.ObservedAt)
		if decision.HasReference && !decision.IsDip {
			return false
		}
	}
	return true
}

// ShouldAlert applies the episode rule to a freshly evaluated sample:
// alert only on the transition into a dip, never while one is already open.
// lastAlertAt is zero when the product has no alert history.
func (d *Detector) ShouldAlert(decision Decision, thresholdPct decimal.Decimal, history []Sample, lastAlertAt time.Time) bool {
	if !decision.IsDip {
		return false
	}
	if lastAlertAt.IsZero() {
		return true
	}
	return !d.DipOpen(thresholdPct, history, lastAlertAt)
}
