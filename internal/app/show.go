package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints the watchlist with latest observations, then recent alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	products, err := store.ListProducts(ctx)
	if err != nil {
		return err
	}
	if len(products) == 0 {
		fmt.Fprintln(os.Stdout, "watchlist is empty")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Slug\tName\tThreshold%\tLast Price\tLast Seen (UTC)")
	for _, product := range products {
		lastPrice := "-"
		lastSeen := "-"
		latest, sampleErr := store.LatestSample(ctx, product.ID)
		if sampleErr != nil {
			return sampleErr
		}
		if latest != nil {
			lastPrice = latest.Price.StringFixed(2)
			lastSeen = latest.ObservedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			product.Slug,
			product.Name,
			product.DipThresholdPct.StringFixed(0),
			lastPrice,
			lastSeen,
		)
	}
	writer.Flush()

	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "\nno alerts recorded")
		return nil
	}

	fmt.Fprintln(os.Stdout)
	writer = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Triggered (UTC)\tSlug\tAlert Price\tMedian 30d\tDiscount%")
	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			alert.TriggeredAt.UTC().Format(time.RFC3339),
			alert.Slug,
			alert.AlertPrice.StringFixed(2),
			alert.MedianPrice.StringFixed(2),
			alert.DiscountPct.StringFixed(2),
		)
	}
	writer.Flush()
	return nil
}
