package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/metaversebroly/radar-screener/internal/config"
	"github.com/metaversebroly/radar-screener/internal/fetcher"
	"github.com/metaversebroly/radar-screener/internal/storage"
)

type createProductRequest struct {
	URL       string   `json:"url" binding:"required"`
	Threshold *float64 `json:"threshold"`
}

type updateThresholdRequest struct {
	Threshold *float64 `json:"threshold" binding:"required"`
}

type productView struct {
	Slug           string  `json:"slug"`
	Name           string  `json:"name"`
	DipThreshold   float64 `json:"dip_threshold"`
	CreatedAt      string  `json:"created_at"`
	LastPrice      *string `json:"last_price"`
	ReferencePrice *string `json:"reference_price"`
	DiscountPct    *string `json:"discount_pct"`
}

type alertView struct {
	ProductName string `json:"product_name"`
	Slug        string `json:"slug"`
	AlertPrice  string `json:"alert_price"`
	MedianPrice string `json:"median_price"`
	DiscountPct string `json:"discount_pct"`
	TriggeredAt string `json:"triggered_at"`
}

const recentAlertsLimit = 50

func (s *Server) createProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid 'url' in body"})
		return
	}

	slug, ok := fetcher.SlugFromURL(req.URL)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not extract product slug from URL"})
		return
	}

	threshold := s.defaultThreshold
	if req.Threshold != nil {
		if err := config.ValidateThreshold(*req.Threshold); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid threshold (must be 1-99)"})
			return
		}
		threshold = decimal.NewFromFloat(*req.Threshold)
	}

	// Fetch the first observation before creating anything, so a dead slug
	// never lands on the watchlist.
	price, observedAt, err := s.fetcher.FetchPrice(c.Request.Context(), slug)
	if err != nil {
		s.logger.Error().Err(err).Str("slug", slug).Msg("initial price fetch failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not fetch current price from source"})
		return
	}

	product, err := s.products.CreateProduct(c.Request.Context(), slug, fetcher.SlugToName(slug), threshold)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateSlug) {
			c.JSON(http.StatusConflict, gin.H{"error": "product with slug '" + slug + "' already exists"})
			return
		}
		s.storageError(c, err)
		return
	}

	if err := s.samples.InsertSample(c.Request.Context(), product.ID, price, observedAt); err != nil {
		s.storageError(c, err)
		return
	}

	priceStr := price.StringFixed(2)
	c.JSON(http.StatusCreated, productView{
		Slug:         product.Slug,
		Name:         product.Name,
		DipThreshold: product.DipThresholdPct.InexactFloat64(),
		CreatedAt:    product.CreatedAt.UTC().Format(time.RFC3339),
		LastPrice:    &priceStr,
	})
}

func (s *Server) listProducts(c *gin.Context) {
	products, err := s.products.ListProducts(c.Request.Context())
	if err != nil {
		s.storageError(c, err)
		return
	}

	views := make([]productView, 0, len(products))
	for _, product := range products {
		views = append(views, s.enrich(c, product))
	}
	c.JSON(http.StatusOK, views)
}

// enrich attaches last price, current reference, and signed discount to a
// product view; fields stay null while the history is too short.
func (s *Server) enrich(c *gin.Context, product storage.Product) productView {
	view := productView{
		Slug:         product.Slug,
		Name:         product.Name,
		DipThreshold: product.DipThresholdPct.InexactFloat64(),
		CreatedAt:    product.CreatedAt.UTC().Format(time.RFC3339),
	}

	latest, err := s.samples.LatestSample(c.Request.Context(), product.ID)
	if err != nil || latest == nil {
		return view
	}
	last := latest.Price.StringFixed(2)
	view.LastPrice = &last

	decision, err := s.scanner.EvaluateProduct(c.Request.Context(), product.Slug)
	if err != nil || !decision.HasReference {
		return view
	}
	reference := decision.Reference.StringFixed(2)
	discount := decision.DiscountPct.StringFixed(2)
	view.ReferencePrice = &reference
	view.DiscountPct = &discount
	return view
}

func (s *Server) updateThreshold(c *gin.Context) {
	var req updateThresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing 'threshold' in body"})
		return
	}
	if err := config.ValidateThreshold(*req.Threshold); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid threshold (must be 1-99)"})
		return
	}

	err := s.products.UpdateProductThreshold(c.Request.Context(), c.Param("slug"), decimal.NewFromFloat(*req.Threshold))
	if err != nil {
		if errors.Is(err, storage.ErrProductNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "product '" + c.Param("slug") + "' not found"})
			return
		}
		s.storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) deleteProduct(c *gin.Context) {
	err := s.products.DeleteProduct(c.Request.Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, storage.ErrProductNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "product '" + c.Param("slug") + "' not found"})
			return
		}
		s.storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) evaluateProduct(c *gin.Context) {
	decision, err := s.scanner.EvaluateProduct(c.Request.Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, storage.ErrProductNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "product '" + c.Param("slug") + "' not found"})
			return
		}
		s.storageError(c, err)
		return
	}

	resp := gin.H{"is_dip": decision.IsDip, "has_reference": decision.HasReference}
	if decision.HasReference {
		resp["reference_price"] = decision.Reference.StringFixed(2)
		resp["discount_pct"] = decision.DiscountPct.StringFixed(2)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listAlerts(c *gin.Context) {
	alerts, err := s.alerts.ListRecentAlerts(c.Request.Context(), recentAlertsLimit)
	if err != nil {
		s.storageError(c, err)
		return
	}

	views := make([]alertView, 0, len(alerts))
	for _, alert := range alerts {
		views = append(views, alertView{
			ProductName: alert.ProductName,
			Slug:        alert.Slug,
			AlertPrice:  alert.AlertPrice.StringFixed(2),
			MedianPrice: alert.MedianPrice.StringFixed(2),
			DiscountPct: alert.DiscountPct.StringFixed(2),
			TriggeredAt: alert.TriggeredAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) scanNow(c *gin.Context) {
	summary, err := s.scanner.ScanAll(c.Request.Context())
	if err != nil {
		s.storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) health(c *gin.Context) {
	var next *string
	if s.nextScan != nil {
		if t := s.nextScan(); !t.IsZero() {
			ts := t.UTC().Format(time.RFC3339)
			next = &ts
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "next_scan": next})
}

func (s *Server) storageError(c *gin.Context, err error) {
	s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("storage operation failed")
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
}
