package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/metaversebroly/radar-screener/internal/alerting"
	"github.com/metaversebroly/radar-screener/internal/config"
	"github.com/metaversebroly/radar-screener/internal/detector"
	"github.com/metaversebroly/radar-screener/internal/fetcher"
	"github.com/metaversebroly/radar-screener/internal/scheduler"
	"github.com/metaversebroly/radar-screener/internal/storage"
)

// Failure reasons reported in a ScanSummary.
const (
	ReasonNotFound           = "not_found"
	ReasonRateLimited        = "rate_limited"
	ReasonSourceUnavailable  = "source_unavailable"
	ReasonStorageUnavailable = "storage_unavailable"
)

// ScanFailure records why one product could not be scanned this cycle.
type ScanFailure struct {
	Slug   string `json:"slug"`
	Reason string `json:"reason"`
}

// ScanSummary aggregates the outcome of one scan cycle.
type ScanSummary struct {
	Scanned   int           `json:"scanned"`
	Triggered int           `json:"triggered"`
	Failures  []ScanFailure `json:"failures"`
}

// Scanner orchestrates fetching, persistence, detection, and alerting.
type Scanner struct {
	scheduler *scheduler.Scheduler
	fetcher   fetcher.PriceFetcher
	products  storage.ProductStore
	samples   storage.SampleStore
	alerts    storage.AlertStore
	notifier  alerting.Notifier
	detector  *detector.Detector
	logger    zerolog.Logger

	defaultThreshold decimal.Decimal
	window           time.Duration
	cycleTimeout     time.Duration
	productTimeout   time.Duration
	alertsOn         bool
	locker           storage.AdvisoryLocker
	lockKey          int64
}

// New constructs the scanning service.
func New(cfg *config.Config, sched *scheduler.Scheduler, fetch fetcher.PriceFetcher, products storage.ProductStore, samples storage.SampleStore, alerts storage.AlertStore, notifier alerting.Notifier, logger zerolog.Logger) *Scanner {
	var locker storage.AdvisoryLocker
	if l, ok := samples.(storage.AdvisoryLocker); ok {
		locker = l
	}

	productTimeout := cfg.Source.RequestTimeout
	if productTimeout <= 0 {
		productTimeout = 30 * time.Second
	}
	// Budget for fetch retries plus the storage round-trips.
	productTimeout += 15 * time.Second

	return &Scanner{
		scheduler:        sched,
		fetcher:          fetch,
		products:         products,
		samples:          samples,
		alerts:           alerts,
		notifier:         notifier,
		detector:         detector.New(detector.Options{Window: cfg.Detector.Window(), MinSamples: cfg.Detector.MinSamples}, logger),
		logger:           logger.With().Str("component", "scanner").Logger(),
		defaultThreshold: decimal.NewFromFloat(cfg.Detector.DefaultThresholdPct),
		window:           cfg.Detector.Window(),
		cycleTimeout:     cfg.Scheduler.CycleTimeout,
		productTimeout:   productTimeout,
		alertsOn:         cfg.Alerting.Enabled,
		locker:           locker,
		lockKey:          cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the periodic scan loop.
func (s *Scanner) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.RunCycle)
}

// RunCycle executes one scheduled scan cycle behind the advisory lock.
func (s *Scanner) RunCycle(ctx context.Context, cycle time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("cycle", cycle).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	if s.cycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cycleTimeout)
		defer cancel()
	}

	summary, err := s.ScanAll(ctx)
	if err != nil {
		return err
	}

	s.logger.Info().Time("cycle", cycle).
		Int("scanned", summary.Scanned).
		Int("triggered", summary.Triggered).
		Int("failed", len(summary.Failures)).
		Msg("scan cycle complete")
	return nil
}

// ScanAll walks the watchlist once. Per-product failures are collected into
// the summary and never abort the remaining products; the returned error is
// reserved for being unable to load the watchlist at all.
func (s *Scanner) ScanAll(ctx context.Context) (ScanSummary, error) {
	products, err := s.products.ListProducts(ctx)
	if err != nil {
		return ScanSummary{}, fmt.Errorf("list products: %w", err)
	}

	summary := ScanSummary{Failures: make([]ScanFailure, 0)}
	if len(products) == 0 {
		s.logger.Info().Msg("watchlist empty, nothing to scan")
		return summary, nil
	}

	for _, product := range products {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		alerted, scanErr := s.scanProduct(ctx, product)
		if scanErr != nil {
			reason := classifyFailure(scanErr)
			s.logger.Error().Err(scanErr).Str("slug", product.Slug).Str("reason", reason).Msg("product scan failed")
			summary.Failures = append(summary.Failures, ScanFailure{Slug: product.Slug, Reason: reason})
			continue
		}

		summary.Scanned++
		if alerted {
			summary.Triggered++
		}
	}

	return summary, nil
}

// scanProduct runs the full pipeline for one product: fetch, append the
// sample, evaluate against the trailing window, apply the episode rule, and
// record+dispatch the alert. The sample is written before evaluation so a
// crash mid-pipeline leaves at worst an un-alerted dip, healed next cycle
// by the derived dip-open state.
func (s *Scanner) scanProduct(ctx context.Context, product storage.Product) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.productTimeout)
	defer cancel()

	price, observedAt, err := s.fetcher.FetchPrice(ctx, product.Slug)
	if err != nil {
		return false, fmt.Errorf("fetch price: %w", err)
	}

	if err := s.samples.InsertSample(ctx, product.ID, price, observedAt); err != nil {
		// Without the append the history is stale; evaluating against it
		// would shift every later replay. Skip the product this cycle.
		return false, fmt.Errorf("append sample: %w", err)
	}

	lastAlert, err := s.alerts.LatestAlert(ctx, product.ID)
	if err != nil {
		return false, fmt.Errorf("latest alert: %w", err)
	}

	history, err := s.loadHistory(ctx, product.ID, observedAt, lastAlert)
	if err != nil {
		return false, fmt.Errorf("load history: %w", err)
	}

	threshold := s.threshold(product)
	decision := s.detector.Evaluate(price, threshold, history, observedAt)
	if !decision.HasReference {
		s.logger.Debug().Str("slug", product.Slug).Msg("insufficient history, no decision")
		return false, nil
	}

	s.logger.Info().Str("slug", product.Slug).
		Str("price", price.StringFixed(2)).
		Str("reference", decision.Reference.StringFixed(2)).
		Str("discount_pct", decision.DiscountPct.StringFixed(2)).
		Bool("is_dip", decision.IsDip).
		Msg("sample evaluated")

	lastAlertAt := time.Time{}
	if lastAlert != nil {
		lastAlertAt = lastAlert.TriggeredAt
	}
	if !s.detector.ShouldAlert(decision, threshold, history, lastAlertAt) {
		return false, nil
	}

	record := storage.AlertRecord{
		ProductID:   product.ID,
		ProductName: product.Name,
		Slug:        product.Slug,
		AlertPrice:  price,
		MedianPrice: decision.Reference,
		DiscountPct: decision.DiscountPct,
		TriggeredAt: observedAt,
	}
	stored, err := s.alerts.InsertAlert(ctx, record)
	if err != nil {
		return false, fmt.Errorf("record alert: %w", err)
	}

	// The stored record is the source of truth; delivery is best-effort
	// and a failure never rolls it back.
	if s.alertsOn && s.notifier != nil {
		note := alerting.Notification{
			ProductName:  product.Name,
			Slug:         product.Slug,
			AlertPrice:   price,
			MedianPrice:  decision.Reference,
			DiscountPct:  decision.DiscountPct,
			ThresholdPct: threshold,
			TriggeredAt:  stored.TriggeredAt,
		}
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Str("slug", product.Slug).Msg("failed to dispatch alert")
		}
	}

	return true, nil
}

// EvaluateProduct recomputes the dip decision for the most recent stored
// sample of one product, without fetching or appending anything.
func (s *Scanner) EvaluateProduct(ctx context.Context, slug string) (detector.Decision, error) {
	product, err := s.products.GetProductBySlug(ctx, slug)
	if err != nil {
		return detector.Decision{}, err
	}

	latest, err := s.samples.LatestSample(ctx, product.ID)
	if err != nil {
		return detector.Decision{}, fmt.Errorf("latest sample: %w", err)
	}
	if latest == nil {
		return detector.Decision{}, nil
	}

	lastAlert, err := s.alerts.LatestAlert(ctx, product.ID)
	if err != nil {
		return detector.Decision{}, fmt.Errorf("latest alert: %w", err)
	}

	history, err := s.loadHistory(ctx, product.ID, latest.ObservedAt, lastAlert)
	if err != nil {
		return detector.Decision{}, fmt.Errorf("load history: %w", err)
	}

	return s.detector.Evaluate(latest.Price, s.threshold(product), history, latest.ObservedAt), nil
}

// loadHistory fetches enough samples to both compute the reference for an
// evaluation at `at` and replay the dip-open state since the last alert,
// whose own replayed evaluations reach one window further back.
func (s *Scanner) loadHistory(ctx context.Context, productID int64, at time.Time, lastAlert *storage.AlertRecord) ([]detector.Sample, error) {
	since := at.Add(-s.window)
	if lastAlert != nil {
		if alertSince := lastAlert.TriggeredAt.Add(-s.window); alertSince.Before(since) {
			since = alertSince
		}
	}

	stored, err := s.samples.ListSamplesSince(ctx, productID, since)
	if err != nil {
		return nil, err
	}

	history := make([]detector.Sample, 0, len(stored))
	for _, sample := range stored {
		history = append(history, detector.Sample{Price: sample.Price, ObservedAt: sample.ObservedAt})
	}
	return history, nil
}

func (s *Scanner) threshold(product storage.Product) decimal.Decimal {
	if product.DipThresholdPct.IsPositive() {
		return product.DipThresholdPct
	}
	return s.defaultThreshold
}

func (s *Scanner) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func classifyFailure(err error) string {
	switch {
	case errors.Is(err, fetcher.ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, fetcher.ErrRateLimited):
		return ReasonRateLimited
	case errors.Is(err, storage.ErrNotConfigured):
		return ReasonStorageUnavailable
	case err != nil && strings.HasPrefix(err.Error(), "fetch price"):
		return ReasonSourceUnavailable
	default:
		// Everything past a successful fetch is a storage round-trip.
		return ReasonStorageUnavailable
	}
}
