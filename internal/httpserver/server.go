package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/metaversebroly/radar-screener/internal/config"
	"github.com/metaversebroly/radar-screener/internal/fetcher"
	"github.com/metaversebroly/radar-screener/internal/service"
	"github.com/metaversebroly/radar-screener/internal/storage"
)

// Server exposes the watchlist REST API. New only wires dependencies;
// Run (below) starts serving.
type Server struct {
	engine  *gin.Engine
	logger  zerolog.Logger
	addr    string
	timeout time.Duration

	products storage.ProductStore
	samples  storage.SampleStore
	alerts   storage.AlertStore
	fetcher  fetcher.PriceFetcher
	scanner  *service.Scanner

	defaultThreshold decimal.Decimal
	// nextScan reports the next scheduled cycle; nil when no scheduler runs.
	nextScan func() time.Time
}

// Options carries the server dependencies. Keep this minimal: only what the
// handlers really need.
type Options struct {
	Config           config.ServerConfig
	Products         storage.ProductStore
	Samples          storage.SampleStore
	Alerts           storage.AlertStore
	Fetcher          fetcher.PriceFetcher
	Scanner          *service.Scanner
	DefaultThreshold decimal.Decimal
	NextScan         func() time.Time
}

// New constructs the API server. It does not start any goroutine.
func New(opts Options, logger zerolog.Logger) (*Server, error) {
	if opts.Products == nil || opts.Samples == nil || opts.Alerts == nil {
		return nil, errors.New("httpserver: storage is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("httpserver: price fetcher is required")
	}
	if opts.Scanner == nil {
		return nil, errors.New("httpserver: scanner is required")
	}

	mode := opts.Config.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	addr := opts.Config.ListenAddr
	if addr == "" {
		addr = ":8000"
	}

	s := &Server{
		engine:           gin.New(),
		logger:           logger.With().Str("component", "httpserver").Logger(),
		addr:             addr,
		timeout:          10 * time.Second,
		products:         opts.Products,
		samples:          opts.Samples,
		alerts:           opts.Alerts,
		fetcher:          opts.Fetcher,
		scanner:          opts.Scanner,
		defaultThreshold: opts.DefaultThreshold,
		nextScan:         opts.NextScan,
	}

	s.engine.Use(gin.Recovery())
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.engine.POST("/products", s.createProduct)
	s.engine.GET("/products", s.listProducts)
	s.engine.PATCH("/products/:slug", s.updateThreshold)
	s.engine.DELETE("/products/:slug", s.deleteProduct)
	s.engine.GET("/products/:slug/decision", s.evaluateProduct)
	s.engine.GET("/alerts", s.listAlerts)
	s.engine.POST("/scan", s.scanNow)
	s.engine.GET("/health", s.health)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("http api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Handler exposes the underlying handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}
