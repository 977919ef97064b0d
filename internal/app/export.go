package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/metaversebroly/radar-screener/internal/detector"
	"github.com/metaversebroly/radar-screener/internal/storage"
)

// Export renders one product's price history as CSV and/or PNG, alongside
// the rolling 30-day median so dips are visible against their reference.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.Slug == "" {
		return errors.New("--slug is required")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	product, err := store.GetProductBySlug(ctx, opts.Slug)
	if err != nil {
		return err
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	samples, err := store.ListSamplesBetween(ctx, product.ID, from, to)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Str("slug", product.Slug).Msg("no samples found for export window")
		return nil
	}

	det := detector.New(detector.Options{
		Window:     a.Config.Detector.Window(),
		MinSamples: a.Config.Detector.MinSamples,
	}, a.Logger)

	history := make([]detector.Sample, 0, len(samples))
	for _, sample := range samples {
		history = append(history, detector.Sample{Price: sample.Price, ObservedAt: sample.ObservedAt})
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().Str("slug", product.Slug).
		Int("total", len(samples)).
		Int("exported", len(downsampled)).
		Msg("exporting price history")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, product.Slug, downsampled, det, history); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, product.Name, downsampled, det, history); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSamples(samples []storage.PriceSample, max int) []storage.PriceSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}

	result := make([]storage.PriceSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeSamplesCSV(path, slug string, samples []storage.PriceSample, det *detector.Detector, history []detector.Sample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"slug", "observed_at", "price", "median_30d"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sample := range samples {
		median := ""
		if reference, ok := det.Reference(history, sample.ObservedAt); ok {
			median = reference.String()
		}
		record := []string{
			slug,
			sample.ObservedAt.UTC().Format(time.RFC3339),
			sample.Price.String(),
			median,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSamplesPNG(path, name string, samples []storage.PriceSample, det *detector.Detector, history []detector.Sample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(samples))
	prices := make([]float64, len(samples))
	medianX := make([]time.Time, 0, len(samples))
	medianY := make([]float64, 0, len(samples))

	for i, sample := range samples {
		x[i] = sample.ObservedAt
		prices[i] = sample.Price.InexactFloat64()
		if reference, ok := det.Reference(history, sample.ObservedAt); ok {
			medianX = append(medianX, sample.ObservedAt)
			medianY = append(medianY, reference.InexactFloat64())
		}
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	series := []chart.Series{
		chart.TimeSeries{
			Name:    "Lowest Ask",
			XValues: x,
			YValues: prices,
		},
	}
	// go-chart refuses series with fewer than two points.
	if len(medianX) >= 2 {
		series = append(series, chart.TimeSeries{
			Name:    "Median 30d",
			XValues: medianX,
			YValues: medianY,
		})
	}

	graph := chart.Chart{
		Title:  name,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
