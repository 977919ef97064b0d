package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/metaversebroly/radar-screener/internal/config"
	"github.com/metaversebroly/radar-screener/internal/fetcher"
)

// Scan walks the watchlist exactly once and prints the summary to stdout.
func (a *App) Scan(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := a.newScanner(store, nil)

	summary, err := svc.ScanAll(ctx)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(summary)
}

// Add registers a StockX product URL on the watchlist, recording an initial
// price observation so the trailing window starts filling immediately.
func (a *App) Add(ctx context.Context, opts AddOptions) error {
	slug, ok := fetcher.SlugFromURL(opts.URL)
	if !ok {
		return errors.New("could not extract product slug from URL")
	}

	threshold := a.defaultThreshold()
	if opts.ThresholdPct > 0 {
		if err := config.ValidateThreshold(opts.ThresholdPct); err != nil {
			return err
		}
		threshold = decimal.NewFromFloat(opts.ThresholdPct)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	price, observedAt, err := a.newFetcher().FetchPrice(ctx, slug)
	if err != nil {
		return fmt.Errorf("fetch current price for %s: %w", slug, err)
	}

	product, err := store.CreateProduct(ctx, slug, fetcher.SlugToName(slug), threshold)
	if err != nil {
		return err
	}

	if err := store.InsertSample(ctx, product.ID, price, observedAt); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "added %s (threshold %s%%, current price %s)\n",
		product.Slug, threshold.StringFixed(0), price.StringFixed(2))
	return nil
}

func (a *App) defaultThreshold() decimal.Decimal {
	return decimal.NewFromFloat(a.Config.Detector.DefaultThresholdPct)
}
