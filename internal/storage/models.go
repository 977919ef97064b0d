package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is one watchlist entry identified by its marketplace slug.
type Product struct {
	ID              int64
	Slug            string
	Name            string
	DipThresholdPct decimal.Decimal
	CreatedAt       time.Time
}

// PriceSample is one immutable price observation for a product. Samples are
// append-only and ordered by ObservedAt; they are never edited.
type PriceSample struct {
	ID         int64
	ProductID  int64
	Price      decimal.Decimal
	ObservedAt time.Time
	CreatedAt  time.Time
}

// AlertRecord captures one emitted dip alert for de-duplication/auditing.
type AlertRecord struct {
	ID          int64
	ProductID   int64
	ProductName string
	Slug        string
	AlertPrice  decimal.Decimal
	MedianPrice decimal.Decimal
	DiscountPct decimal.Decimal
	TriggeredAt time.Time
}
