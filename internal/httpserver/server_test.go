package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/metaversebroly/radar-screener/internal/config"
	"github.com/metaversebroly/radar-screener/internal/service"
	"github.com/metaversebroly/radar-screener/internal/storage"
)

type fakeStore struct {
	products []storage.Product
	samples  map[int64][]storage.PriceSample
	alerts   []storage.AlertRecord
	nextID   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{samples: make(map[int64][]storage.PriceSample)}
}

func (f *fakeStore) CreateProduct(ctx context.Context, slug, name string, thresholdPct decimal.Decimal) (storage.Product, error) {
	for _, p := range f.products {
		if p.Slug == slug {
			return storage.Product{}, storage.ErrDuplicateSlug
		}
	}
	f.nextID++
	p := storage.Product{ID: f.nextID, Slug: slug, Name: name, DipThresholdPct: thresholdPct, CreatedAt: time.Now().UTC()}
	f.products = append(f.products, p)
	return p, nil
}

func (f *fakeStore) GetProductBySlug(ctx context.Context, slug string) (storage.Product, error) {
	for _, p := range f.products {
		if p.Slug == slug {
			return p, nil
		}
	}
	return storage.Product{}, storage.ErrProductNotFound
}

func (f *fakeStore) ListProducts(ctx context.Context) ([]storage.Product, error) {
	return f.products, nil
}

func (f *fakeStore) UpdateProductThreshold(ctx context.Context, slug string, thresholdPct decimal.Decimal) error {
	for i := range f.products {
		if f.products[i].Slug == slug {
			f.products[i].DipThresholdPct = thresholdPct
			return nil
		}
	}
	return storage.ErrProductNotFound
}

func (f *fakeStore) DeleteProduct(ctx context.Context, slug string) error {
	for i, p := range f.products {
		if p.Slug == slug {
			f.products = append(f.products[:i], f.products[i+1:]...)
			delete(f.samples, p.ID)
			return nil
		}
	}
	return storage.ErrProductNotFound
}

func (f *fakeStore) InsertSample(ctx context.Context, productID int64, price decimal.Decimal, observedAt time.Time) error {
	f.samples[productID] = append(f.samples[productID], storage.PriceSample{ProductID: productID, Price: price, ObservedAt: observedAt})
	return nil
}

func (f *fakeStore) ListSamplesSince(ctx context.Context, productID int64, since time.Time) ([]storage.PriceSample, error) {
	out := make([]storage.PriceSample, 0)
	for _, s := range f.samples[productID] {
		if !s.ObservedAt.Before(since) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
	return out, nil
}

func (f *fakeStore) LatestSample(ctx context.Context, productID int64) (*storage.PriceSample, error) {
	samples := f.samples[productID]
	if len(samples) == 0 {
		return nil, nil
	}
	latest := samples[len(samples)-1]
	return &latest, nil
}

func (f *fakeStore) InsertAlert(ctx context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	f.alerts = append(f.alerts, alert)
	return alert, nil
}

func (f *fakeStore) LatestAlert(ctx context.Context, productID int64) (*storage.AlertRecord, error) {
	for i := len(f.alerts) - 1; i >= 0; i-- {
		if f.alerts[i].ProductID == productID {
			return &f.alerts[i], nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListRecentAlerts(ctx context.Context, limit int) ([]storage.AlertRecord, error) {
	if len(f.alerts) > limit {
		return f.alerts[:limit], nil
	}
	return f.alerts, nil
}

type fakeFetcher struct {
	price decimal.Decimal
	err   error
}

func (f *fakeFetcher) FetchPrice(ctx context.Context, slug string) (decimal.Decimal, time.Time, error) {
	if f.err != nil {
		return decimal.Decimal{}, time.Time{}, f.err
	}
	return f.price, time.Now().UTC(), nil
}

func testServer(t *testing.T, store *fakeStore, fetch *fakeFetcher) *Server {
	t.Helper()

	cfg := &config.Config{
		Detector:  config.DetectorConfig{WindowDays: 30, MinSamples: 2, DefaultThresholdPct: 15},
		Source:    config.SourceConfig{RequestTimeout: time.Second},
		Scheduler: config.SchedulerConfig{Interval: 6 * time.Hour},
	}
	scanner := service.New(cfg, nil, fetch, store, store, store, nil, zerolog.Nop())

	srv, err := New(Options{
		Config:           config.ServerConfig{Mode: "test"},
		Products:         store,
		Samples:          store,
		Alerts:           store,
		Fetcher:          fetch,
		Scanner:          scanner,
		DefaultThreshold: decimal.NewFromInt(15),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("server construction failed: %v", err)
	}
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCreateProduct(t *testing.T) {
	store := newFakeStore()
	srv := testServer(t, store, &fakeFetcher{price: decimal.NewFromInt(120)})

	rec := doJSON(t, srv, http.MethodPost, "/products", map[string]any{
		"url": "https://stockx.com/labubu-the-monsters-zimomo",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var view productView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if view.Slug != "labubu-the-monsters-zimomo" {
		t.Fatalf("unexpected slug %q", view.Slug)
	}
	if view.Name != "Labubu The Monsters Zimomo" {
		t.Fatalf("unexpected name %q", view.Name)
	}
	if view.DipThreshold != 15 {
		t.Fatalf("expected default threshold 15, got %g", view.DipThreshold)
	}
	if len(store.samples[1]) != 1 {
		t.Fatal("initial sample should be appended")
	}
}

func TestCreateProductDuplicate(t *testing.T) {
	store := newFakeStore()
	srv := testServer(t, store, &fakeFetcher{price: decimal.NewFromInt(120)})

	body := map[string]any{"url": "https://stockx.com/some-product"}
	if rec := doJSON(t, srv, http.MethodPost, "/products", body); rec.Code != http.StatusCreated {
		t.Fatalf("first create failed: %d", rec.Code)
	}
	if rec := doJSON(t, srv, http.MethodPost, "/products", body); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate, got %d", rec.Code)
	}
}

func TestCreateProductBadInput(t *testing.T) {
	srv := testServer(t, newFakeStore(), &fakeFetcher{price: decimal.NewFromInt(120)})

	if rec := doJSON(t, srv, http.MethodPost, "/products", map[string]any{"url": "https://example.com/nope"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("non-stockx url should be 400, got %d", rec.Code)
	}

	rec := doJSON(t, srv, http.MethodPost, "/products", map[string]any{
		"url":       "https://stockx.com/some-product",
		"threshold": 150,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("out-of-range threshold should be 400, got %d", rec.Code)
	}
}

func TestCreateProductSourceDown(t *testing.T) {
	srv := testServer(t, newFakeStore(), &fakeFetcher{err: errors.New("scraper down")})

	rec := doJSON(t, srv, http.MethodPost, "/products", map[string]any{"url": "https://stockx.com/some-product"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 when the source is down, got %d", rec.Code)
	}
}

func TestUpdateThresholdUnknownSlug(t *testing.T) {
	srv := testServer(t, newFakeStore(), &fakeFetcher{})

	rec := doJSON(t, srv, http.MethodPatch, "/products/ghost", map[string]any{"threshold": 20})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDeleteProduct(t *testing.T) {
	store := newFakeStore()
	srv := testServer(t, store, &fakeFetcher{price: decimal.NewFromInt(50)})

	doJSON(t, srv, http.MethodPost, "/products", map[string]any{"url": "https://stockx.com/some-product"})
	if rec := doJSON(t, srv, http.MethodDelete, "/products/some-product", nil); rec.Code != http.StatusOK {
		t.Fatalf("delete failed: %d", rec.Code)
	}
	if rec := doJSON(t, srv, http.MethodDelete, "/products/some-product", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete should be 404, got %d", rec.Code)
	}
}

func TestScanNowAndAlerts(t *testing.T) {
	base := time.Now().UTC().Add(-24 * time.Hour)
	store := newFakeStore()
	store.nextID = 1
	store.products = append(store.products, storage.Product{ID: 1, Slug: "zimomo", Name: "Zimomo", DipThresholdPct: decimal.NewFromInt(15)})
	for i, p := range []float64{100, 100, 100} {
		_ = store.InsertSample(context.Background(), 1, decimal.NewFromFloat(p), base.Add(time.Duration(i)*6*time.Hour))
	}

	srv := testServer(t, store, &fakeFetcher{price: decimal.NewFromInt(80)})

	rec := doJSON(t, srv, http.MethodPost, "/scan", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("scan failed: %d", rec.Code)
	}
	var summary service.ScanSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Scanned != 1 || summary.Triggered != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	rec = doJSON(t, srv, http.MethodGet, "/alerts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("alerts failed: %d", rec.Code)
	}
	var alerts []alertView
	if err := json.Unmarshal(rec.Body.Bytes(), &alerts); err != nil {
		t.Fatalf("decode alerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Slug != "zimomo" {
		t.Fatalf("unexpected alerts: %+v", alerts)
	}
}

func TestHealth(t *testing.T) {
	srv := testServer(t, newFakeStore(), &fakeFetcher{})
	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health failed: %d", rec.Code)
	}
	var resp struct {
		Status   string  `json:"status"`
		NextScan *string `json:"next_scan"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if resp.Status != "ok" || resp.NextScan != nil {
		t.Fatalf("unexpected health payload: %+v", resp)
	}
}
