package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const stockxProductPath = "/scraper/stockx/product"

// RetailedOptions parameterise the Retailed.io StockX scraper client.
type RetailedOptions struct {
	BaseURL      string
	APIKey       string
	Currency     string
	Country      string
	Timeout      time.Duration
	RequestDelay time.Duration
	UserAgent    string
}

// Retailed fetches lowest-ask prices for StockX listings via Retailed.io.
// A shared client-side limiter spaces out requests across the whole scan;
// the upstream scraper throttles aggressively.
type Retailed struct {
	opts    RetailedOptions
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewRetailed constructs a Retailed client.
func NewRetailed(opts RetailedOptions, logger zerolog.Logger) *Retailed {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	delay := opts.RequestDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://app.retailed.io/api/v1"
	}

	return &Retailed{
		opts:    opts,
		logger:  logger.With().Str("component", "retailed_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(delay), 1),
		baseURL: baseURL,
	}
}

// FetchPrice retrieves the current lowest ask for a slug. 404 and 429 map
// to the package sentinels and are not retried; transport failures and 5xx
// responses are retried with exponential backoff inside the timeout budget.
func (r *Retailed) FetchPrice(ctx context.Context, slug string) (decimal.Decimal, time.Time, error) {
	if r.opts.APIKey == "" {
		return decimal.Decimal{}, time.Time{}, errors.New("retailed api key not configured")
	}
	if slug == "" {
		return decimal.Decimal{}, time.Time{}, errors.New("product slug is empty")
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}

	var price decimal.Decimal
	operation := func() error {
		var err error
		price, err = r.fetchOnce(ctx, slug)
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = r.client.Timeout
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}

	return price, time.Now().UTC(), nil
}

func (r *Retailed) fetchOnce(ctx context.Context, slug string) (decimal.Decimal, error) {
	query := url.Values{}
	query.Set("query", slug)
	if r.opts.Currency != "" {
		query.Set("currency", r.opts.Currency)
	}
	if r.opts.Country != "" {
		query.Set("country", r.opts.Country)
	}

	endpoint := r.baseURL + stockxProductPath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", r.opts.APIKey)
	if ua := strings.TrimSpace(r.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		r.logger.Warn().Str("slug", slug).Msg("product not found at source")
		return decimal.Decimal{}, backoff.Permanent(ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		r.logger.Warn().Str("slug", slug).Msg("source rate limit hit")
		return decimal.Decimal{}, backoff.Permanent(ErrRateLimited)
	case resp.StatusCode >= 500:
		return decimal.Decimal{}, fmt.Errorf("retailed api error (%d)", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return decimal.Decimal{}, backoff.Permanent(parseHTTPError(resp.StatusCode, payload))
	}

	price, err := parseLowestAsk(payload)
	if err != nil {
		return decimal.Decimal{}, backoff.Permanent(fmt.Errorf("slug %s: %w", slug, err))
	}
	return price, nil
}

type productResponse struct {
	Market struct {
		Bids struct {
			LowestAsk json.Number `json:"lowest_ask"`
		} `json:"bids"`
	} `json:"market"`
	LowestAsk json.Number `json:"lowestAsk"`
}

func parseLowestAsk(payload []byte) (decimal.Decimal, error) {
	var res productResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode product response: %w", err)
	}

	raw := res.Market.Bids.LowestAsk
	if raw == "" {
		raw = res.LowestAsk
	}
	if raw == "" {
		return decimal.Decimal{}, errors.New("no lowest_ask in response")
	}

	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse lowest_ask: %w", err)
	}
	if !price.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("non-positive lowest_ask %s", price)
	}
	return price, nil
}

type errorResponse struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("retailed api error (%d): %s", status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("retailed api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.ErrorType != "" {
			return fmt.Errorf("retailed api error (%d): %s", status, apiErr.ErrorType)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("retailed api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("retailed api error (%d)", status)
}

var _ PriceFetcher = (*Retailed)(nil)
