package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates the marketplace knows no product for the slug.
	ErrNotFound = errors.New("fetcher: product not found")
	// ErrRateLimited indicates the source rejected the request with 429.
	ErrRateLimited = errors.New("fetcher: source rate limit hit")
)

// PriceFetcher retrieves one current price observation for a product slug.
type PriceFetcher interface {
	FetchPrice(ctx context.Context, slug string) (decimal.Decimal, time.Time, error)
}
