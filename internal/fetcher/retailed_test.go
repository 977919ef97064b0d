package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testOptions(baseURL string) RetailedOptions {
	return RetailedOptions{
		BaseURL:      baseURL,
		APIKey:       "test-key",
		Currency:     "EUR",
		Country:      "FR",
		Timeout:      10 * time.Second,
		RequestDelay: time.Millisecond,
		UserAgent:    "test",
	}
}

func TestRetailedMissingAPIKey(t *testing.T) {
	r := NewRetailed(RetailedOptions{}, noopLogger())
	if _, _, err := r.FetchPrice(context.Background(), "some-slug"); err == nil {
		t.Fatal("未配置 API key 时应报错")
	}
}

func TestRetailedFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Fatalf("缺少 x-api-key header")
		}
		if got := r.URL.Query().Get("query"); got != "labubu-zimomo" {
			t.Fatalf("query 参数不正确: %s", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"market": map[string]any{
				"bids": map[string]any{"lowest_ask": 129.99},
			},
		})
	}))
	defer srv.Close()

	r := NewRetailed(testOptions(srv.URL), noopLogger())
	price, observedAt, err := r.FetchPrice(context.Background(), "labubu-zimomo")
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if !price.Equal(decimal.NewFromFloat(129.99)) {
		t.Fatalf("期望价格 129.99, 实际 %s", price)
	}
	if observedAt.IsZero() {
		t.Fatal("observedAt 应为采样时刻")
	}
}

func TestRetailedFallbackLowestAsk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"lowestAsk": 75})
	}))
	defer srv.Close()

	r := NewRetailed(testOptions(srv.URL), noopLogger())
	price, _, err := r.FetchPrice(context.Background(), "slug")
	if err != nil {
		t.Fatalf("顶层 lowestAsk 应可解析: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(75)) {
		t.Fatalf("期望 75, 实际 %s", price)
	}
}

func TestRetailedNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := NewRetailed(testOptions(srv.URL), noopLogger())
	if _, _, err := r.FetchPrice(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("404 应映射为 ErrNotFound, 实际 %v", err)
	}
}

func TestRetailedRateLimited(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	r := NewRetailed(testOptions(srv.URL), noopLogger())
	if _, _, err := r.FetchPrice(context.Background(), "slug"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("429 应映射为 ErrRateLimited, 实际 %v", err)
	}
	if calls != 1 {
		t.Fatalf("429 不应重试, 实际请求 %d 次", calls)
	}
}

func TestRetailedRetriesServerError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"lowestAsk": 60})
	}))
	defer srv.Close()

	r := NewRetailed(testOptions(srv.URL), noopLogger())
	price, _, err := r.FetchPrice(context.Background(), "slug")
	if err != nil {
		t.Fatalf("5xx 重试后应成功: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("期望 60, 实际 %s", price)
	}
	if calls != 3 {
		t.Fatalf("期望重试 2 次后成功, 实际请求 %d 次", calls)
	}
}

func TestRetailedMissingLowestAsk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"market": map[string]any{}})
	}))
	defer srv.Close()

	r := NewRetailed(testOptions(srv.URL), noopLogger())
	if _, _, err := r.FetchPrice(context.Background(), "slug"); err == nil {
		t.Fatal("响应缺失 lowest_ask 应报错")
	}
}
