package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrProductNotFound indicates the slug matched no watchlist entry.
	ErrProductNotFound = errors.New("storage: product not found")
	// ErrDuplicateSlug indicates the slug is already on the watchlist.
	ErrDuplicateSlug = errors.New("storage: product slug already exists")
)

const pgUniqueViolation = "23505"

const (
	insertProductSQL = `INSERT INTO products (slug, name, dip_threshold_pct)
    VALUES ($1, $2, $3)
    RETURNING id, slug, name, dip_threshold_pct, created_at;`

	getProductBySlugSQL = `SELECT id, slug, name, dip_threshold_pct, created_at
    FROM products
    WHERE slug = $1;`

	listProductsSQL = `SELECT id, slug, name, dip_threshold_pct, created_at
    FROM products
    ORDER BY created_at DESC;`

	updateProductThresholdSQL = `UPDATE products
    SET dip_threshold_pct = $2
    WHERE slug = $1;`

	deleteProductSQL = `DELETE FROM products WHERE slug = $1;`

	insertSampleSQL = `INSERT INTO price_samples (product_id, price, observed_at)
    VALUES ($1, $2, $3);`

	listSamplesSinceSQL = `SELECT id, product_id, price, observed_at, created_at
    FROM price_samples
    WHERE product_id = $1
      AND observed_at >= $2
    ORDER BY observed_at;`

	listSamplesBetweenSQL = `SELECT id, product_id, price, observed_at, created_at
    FROM price_samples
    WHERE product_id = $1
      AND observed_at >= $2
      AND observed_at < $3
    ORDER BY observed_at;`

	latestSampleSQL = `SELECT id, product_id, price, observed_at, created_at
    FROM price_samples
    WHERE product_id = $1
    ORDER BY observed_at DESC
    LIMIT 1;`

	insertAlertSQL = `INSERT INTO alerts (
        product_id,
        product_name,
        slug,
        alert_price,
        median_price,
        discount_pct,
        triggered_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id, product_id, product_name, slug, alert_price, median_price, discount_pct, triggered_at;`

	latestAlertSQL = `SELECT id, product_id, product_name, slug, alert_price, median_price, discount_pct, triggered_at
    FROM alerts
    WHERE product_id = $1
    ORDER BY triggered_at DESC
    LIMIT 1;`

	listRecentAlertsSQL = `SELECT id, product_id, product_name, slug, alert_price, median_price, discount_pct, triggered_at
    FROM alerts
    ORDER BY triggered_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ProductStore defines watchlist persistence operations.
type ProductStore interface {
	CreateProduct(ctx context.Context, slug, name string, thresholdPct decimal.Decimal) (Product, error)
	GetProductBySlug(ctx context.Context, slug string) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	UpdateProductThreshold(ctx context.Context, slug string, thresholdPct decimal.Decimal) error
	DeleteProduct(ctx context.Context, slug string) error
}

// SampleStore defines price history persistence operations.
type SampleStore interface {
	InsertSample(ctx context.Context, productID int64, price decimal.Decimal, observedAt time.Time) error
	ListSamplesSince(ctx context.Context, productID int64, since time.Time) ([]PriceSample, error)
	LatestSample(ctx context.Context, productID int64) (*PriceSample, error)
}

// AlertStore defines alert persistence operations.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	LatestAlert(ctx context.Context, productID int64) (*AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to products, price samples, and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// CreateProduct inserts a new watchlist entry.
func (s *Store) CreateProduct(ctx context.Context, slug, name string, thresholdPct decimal.Decimal) (Product, error) {
	pool, err := s.getPool()
	if err != nil {
		return Product{}, err
	}

	row := pool.QueryRow(ctx, insertProductSQL, slug, name, thresholdPct.String())
	product, scanErr := scanProduct(row)
	if scanErr != nil {
		var pgErr *pgconn.PgError
		if errors.As(scanErr, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Product{}, ErrDuplicateSlug
		}
		return Product{}, fmt.Errorf("create product: %w", scanErr)
	}
	return product, nil
}

// GetProductBySlug fetches one watchlist entry.
func (s *Store) GetProductBySlug(ctx context.Context, slug string) (Product, error) {
	pool, err := s.getPool()
	if err != nil {
		return Product{}, err
	}

	row := pool.QueryRow(ctx, getProductBySlugSQL, slug)
	product, scanErr := scanProduct(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, fmt.Errorf("get product by slug: %w", scanErr)
	}
	return product, nil
}

// ListProducts returns the full watchlist, newest first.
func (s *Store) ListProducts(ctx context.Context) ([]Product, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listProductsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list products: %w", queryErr)
	}
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		product, scanErr := scanProduct(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		products = append(products, product)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return products, nil
}

// UpdateProductThreshold changes the dip threshold for a product.
func (s *Store) UpdateProductThreshold(ctx context.Context, slug string, thresholdPct decimal.Decimal) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, updateProductThresholdSQL, slug, thresholdPct.String())
	if execErr != nil {
		return fmt.Errorf("update product threshold: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// DeleteProduct removes a product; samples and alerts cascade in the schema.
func (s *Store) DeleteProduct(ctx context.Context, slug string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteProductSQL, slug)
	if execErr != nil {
		return fmt.Errorf("delete product: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// InsertSample appends one price observation.
func (s *Store) InsertSample(ctx context.Context, productID int64, price decimal.Decimal, observedAt time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertSampleSQL, productID, price.String(), observedAt); execErr != nil {
		return fmt.Errorf("insert sample: %w", execErr)
	}
	return nil
}

// ListSamplesSince lists samples observed at or after `since`, ascending.
func (s *Store) ListSamplesSince(ctx context.Context, productID int64, since time.Time) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesSinceSQL, productID, since)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples since: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]PriceSample, 0)
	for rows.Next() {
		sample, scanErr := scanSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ListSamplesBetween lists samples observed in [from, to), ascending.
func (s *Store) ListSamplesBetween(ctx context.Context, productID int64, from, to time.Time) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, productID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]PriceSample, 0)
	for rows.Next() {
		sample, scanErr := scanSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// LatestSample returns the newest observation, or nil when none exists.
func (s *Store) LatestSample(ctx context.Context, productID int64) (*PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	row := pool.QueryRow(ctx, latestSampleSQL, productID)
	sample, scanErr := scanSample(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest sample: %w", scanErr)
	}
	return &sample, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.ProductID,
		alert.ProductName,
		alert.Slug,
		alert.AlertPrice.String(),
		alert.MedianPrice.String(),
		alert.DiscountPct.String(),
		alert.TriggeredAt,
	)

	rec, scanErr := scanAlert(row)
	if scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// LatestAlert returns the newest alert for a product, or nil when none exists.
func (s *Store) LatestAlert(ctx context.Context, productID int64) (*AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	row := pool.QueryRow(ctx, latestAlertSQL, productID)
	rec, scanErr := scanAlert(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest alert: %w", scanErr)
	}
	return &rec, nil
}

// ListRecentAlerts lists most recent alerts across all products.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var (
		product      Product
		thresholdStr string
	)
	if err := row.Scan(
		&product.ID,
		&product.Slug,
		&product.Name,
		&thresholdStr,
		&product.CreatedAt,
	); err != nil {
		return Product{}, err
	}

	threshold, err := decimal.NewFromString(thresholdStr)
	if err != nil {
		return Product{}, fmt.Errorf("parse dip threshold: %w", err)
	}
	product.DipThresholdPct = threshold
	return product, nil
}

func scanSample(row pgx.Row) (PriceSample, error) {
	var (
		sample   PriceSample
		priceStr string
	)
	if err := row.Scan(
		&sample.ID,
		&sample.ProductID,
		&priceStr,
		&sample.ObservedAt,
		&sample.CreatedAt,
	); err != nil {
		return PriceSample{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PriceSample{}, fmt.Errorf("parse sample price: %w", err)
	}
	sample.Price = price
	return sample, nil
}

func scanAlert(row pgx.Row) (AlertRecord, error) {
	var (
		rec         AlertRecord
		priceStr    string
		medianStr   string
		discountStr string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.ProductID,
		&rec.ProductName,
		&rec.Slug,
		&priceStr,
		&medianStr,
		&discountStr,
		&rec.TriggeredAt,
	); err != nil {
		return AlertRecord{}, err
	}

	var convErr error
	rec.AlertPrice, convErr = decimal.NewFromString(priceStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse alert price: %w", convErr)
	}
	rec.MedianPrice, convErr = decimal.NewFromString(medianStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse median price: %w", convErr)
	}
	rec.DiscountPct, convErr = decimal.NewFromString(discountStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse discount pct: %w", convErr)
	}
	return rec, nil
}
