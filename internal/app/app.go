package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/metaversebroly/radar-screener/internal/alerting"
	"github.com/metaversebroly/radar-screener/internal/config"
	"github.com/metaversebroly/radar-screener/internal/fetcher"
	"github.com/metaversebroly/radar-screener/internal/httpserver"
	"github.com/metaversebroly/radar-screener/internal/scheduler"
	"github.com/metaversebroly/radar-screener/internal/service"
	"github.com/metaversebroly/radar-screener/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetcher() fetcher.PriceFetcher {
	return fetcher.NewRetailed(fetcher.RetailedOptions{
		BaseURL:      a.Config.Source.BaseURL,
		APIKey:       a.Config.Source.APIKey,
		Currency:     a.Config.Source.Currency,
		Country:      a.Config.Source.Country,
		Timeout:      a.Config.Source.RequestTimeout,
		RequestDelay: a.Config.Source.RequestDelay,
		UserAgent:    a.Config.Source.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newScheduler() *scheduler.Scheduler {
	return scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToCycle,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newScanner(store *storage.Store, sched *scheduler.Scheduler) *service.Scanner {
	return service.New(a.Config, sched, a.newFetcher(), store, store, store, a.newNotifier(), a.Logger)
}

// Run executes the long-running scan daemon without the HTTP API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := a.newScanner(store, a.newScheduler())

	a.Logger.Info().Msg("starting scan daemon")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("scan daemon terminated with error")
		return err
	}

	a.Logger.Info().Msg("scan daemon stopped")
	return nil
}

// Serve runs the HTTP API alongside the scan scheduler. Either side failing
// takes down the other.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sched := a.newScheduler()
	svc := a.newScanner(store, sched)

	srv, err := httpserver.New(httpserver.Options{
		Config:           a.Config.Server,
		Products:         store,
		Samples:          store,
		Alerts:           store,
		Fetcher:          a.newFetcher(),
		Scanner:          svc,
		DefaultThreshold: a.defaultThreshold(),
		NextScan:         sched.NextCycle,
	}, a.Logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() { errCh <- svc.Run(ctx) }()
	go func() { errCh <- srv.Run(ctx) }()

	var firstErr error
	for i := 0; i < 2; i++ {
		runErr := <-errCh
		cancel()
		if runErr != nil && !errors.Is(runErr, context.Canceled) && firstErr == nil {
			firstErr = runErr
		}
	}

	if firstErr != nil {
		a.Logger.Error().Err(firstErr).Msg("server terminated with error")
		return firstErr
	}
	a.Logger.Info().Msg("server stopped")
	return nil
}

// AddOptions configure product registration.
type AddOptions struct {
	URL          string
	ThresholdPct float64
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting a product's price history.
type ExportOptions struct {
	Slug      string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
