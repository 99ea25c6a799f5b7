package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	insertPriceSQL = `INSERT INTO prices (asset_id, ccy, price, at)
    VALUES ($1, $2, $3, $4)
    ON CONFLICT (asset_id, ccy, at) DO NOTHING;`

	insertFxSQL = `INSERT INTO fx_rates (base_ccy, quote_ccy, rate, at)
    VALUES ($1, $2, $3, $4)
    ON CONFLICT (base_ccy, quote_ccy, at) DO NOTHING;`

	latestPriceBeforeSQL = `SELECT id, asset_id, ccy, price, at
    FROM prices
    WHERE asset_id = $1 AND ccy = $2 AND at <= $3
    ORDER BY at DESC, id DESC
    LIMIT 1;`

	latestFxBeforeSQL = `SELECT id, base_ccy, quote_ccy, rate, at
    FROM fx_rates
    WHERE base_ccy = $1 AND quote_ccy = $2 AND at <= $3
    ORDER BY at DESC, id DESC
    LIMIT 1;`

	listPricesBetweenSQL = `SELECT id, asset_id, ccy, price, at
    FROM prices
    WHERE at >= $1 AND at < $2
    ORDER BY at, id;`

	listFxBetweenSQL = `SELECT id, base_ccy, quote_ccy, rate, at
    FROM fx_rates
    WHERE at >= $1 AND at < $2
    ORDER BY at, id;`

	hasPriceBetweenSQL = `SELECT EXISTS (
        SELECT 1 FROM prices
        WHERE asset_id = $1 AND ccy = $2 AND at >= $3 AND at < $4
    );`

	hasFxBetweenSQL = `SELECT EXISTS (
        SELECT 1 FROM fx_rates
        WHERE base_ccy = $1 AND quote_ccy = $2 AND at >= $3 AND at < $4
    );`

	deletePricesSQL = `DELETE FROM prices WHERE id = ANY($1);`

	deleteFxSQL = `DELETE FROM fx_rates WHERE id = ANY($1);`

	countPriceBucketsSQL = `SELECT COUNT(DISTINCT date_trunc($4, at))
    FROM prices
    WHERE asset_id = $1 AND ccy = $2 AND at >= $3;`

	countFxBucketsSQL = `SELECT COUNT(DISTINCT date_trunc($4, at))
    FROM fx_rates
    WHERE base_ccy = $1 AND quote_ccy = $2 AND at >= $3;`

	insertAlertSQL = `INSERT INTO alerts (portfolio_id, asset_id, kind, message, severity, at)
    VALUES ($1, $2, $3, $4, $5, $6)
    RETURNING id, portfolio_id, asset_id, kind, message, severity, at;`

	lastAlertAtSQL = `SELECT at
    FROM alerts
    WHERE portfolio_id = $1 AND asset_id = $2 AND kind = $3
    ORDER BY at DESC, id DESC
    LIMIT 1;`

	listRecentAlertsSQL = `SELECT id, portfolio_id, asset_id, kind, message, severity, at
    FROM alerts
    ORDER BY at DESC, id DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store aggregates Postgres-backed access to observations, the registry,
// and the alert trace.
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

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
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

// AppendPrice inserts a price observation. A duplicate (asset, ccy, at)
// write is silently ignored.
func (s *Store) AppendPrice(ctx context.Context, obs PriceObservation) error {
	if err := validatePrice(obs); err != nil {
		return err
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertPriceSQL, obs.AssetID, obs.Ccy, obs.Price.String(), obs.At); execErr != nil {
		return fmt.Errorf("append price: %w", execErr)
	}
	return nil
}

// AppendFx inserts an FX observation. A duplicate (base, quote, at) write
// is silently ignored.
func (s *Store) AppendFx(ctx context.Context, obs FxObservation) error {
	if err := validateFx(obs); err != nil {
		return err
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertFxSQL, obs.BaseCcy, obs.QuoteCcy, obs.Rate.String(), obs.At); execErr != nil {
		return fmt.Errorf("append fx: %w", execErr)
	}
	return nil
}

// LatestPriceBefore returns the most recent price with at <= cutoff.
func (s *Store) LatestPriceBefore(ctx context.Context, assetID int64, ccy string, cutoff time.Time) (PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return PriceObservation{}, err
	}
	row := pool.QueryRow(ctx, latestPriceBeforeSQL, assetID, ccy, cutoff)
	obs, scanErr := scanPrice(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return PriceObservation{}, ErrNotFound
		}
		return PriceObservation{}, scanErr
	}
	return obs, nil
}

// LatestFxBefore returns the most recent rate with at <= cutoff.
func (s *Store) LatestFxBefore(ctx context.Context, base, quote string, cutoff time.Time) (FxObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return FxObservation{}, err
	}
	row := pool.QueryRow(ctx, latestFxBeforeSQL, base, quote, cutoff)
	obs, scanErr := scanFx(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return FxObservation{}, ErrNotFound
		}
		return FxObservation{}, scanErr
	}
	return obs, nil
}

// ListPricesBetween lists prices with from <= at < to across all keys,
// ordered by (at, id).
func (s *Store) ListPricesBetween(ctx context.Context, from, to time.Time) ([]PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listPricesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list prices between: %w", queryErr)
	}
	defer rows.Close()

	out := make([]PriceObservation, 0)
	for rows.Next() {
		obs, scanErr := scanPrice(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ListFxBetween lists rates with from <= at < to across all pairs,
// ordered by (at, id).
func (s *Store) ListFxBetween(ctx context.Context, from, to time.Time) ([]FxObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listFxBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list fx between: %w", queryErr)
	}
	defer rows.Close()

	out := make([]FxObservation, 0)
	for rows.Next() {
		obs, scanErr := scanFx(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// HasPriceBetween reports whether any price exists with from <= at < to.
func (s *Store) HasPriceBetween(ctx context.Context, assetID int64, ccy string, from, to time.Time) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var exists bool
	if scanErr := pool.QueryRow(ctx, hasPriceBetweenSQL, assetID, ccy, from, to).Scan(&exists); scanErr != nil {
		return false, fmt.Errorf("has price between: %w", scanErr)
	}
	return exists, nil
}

// HasFxBetween reports whether any rate exists with from <= at < to.
func (s *Store) HasFxBetween(ctx context.Context, base, quote string, from, to time.Time) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var exists bool
	if scanErr := pool.QueryRow(ctx, hasFxBetweenSQL, base, quote, from, to).Scan(&exists); scanErr != nil {
		return false, fmt.Errorf("has fx between: %w", scanErr)
	}
	return exists, nil
}

// DeletePrices removes the given price rows in a single statement.
func (s *Store) DeletePrices(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deletePricesSQL, ids); execErr != nil {
		return fmt.Errorf("delete prices: %w", execErr)
	}
	return nil
}

// DeleteFx removes the given fx rows in a single statement.
func (s *Store) DeleteFx(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteFxSQL, ids); execErr != nil {
		return fmt.Errorf("delete fx: %w", execErr)
	}
	return nil
}

// CountDistinctPriceBuckets counts buckets containing at least one price
// observation since the cutoff.
func (s *Store) CountDistinctPriceBuckets(ctx context.Context, assetID int64, ccy string, since time.Time, g Granularity) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int
	if scanErr := pool.QueryRow(ctx, countPriceBucketsSQL, assetID, ccy, since, string(g)).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count price buckets: %w", scanErr)
	}
	return count, nil
}

// CountDistinctFxBuckets counts buckets containing at least one fx
// observation since the cutoff.
func (s *Store) CountDistinctFxBuckets(ctx context.Context, base, quote string, since time.Time, g Granularity) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int
	if scanErr := pool.QueryRow(ctx, countFxBucketsSQL, base, quote, since, string(g)).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count fx buckets: %w", scanErr)
	}
	return count, nil
}

// InsertAlert appends an alert record and returns the stored row.
func (s *Store) InsertAlert(ctx context.Context, rec AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}
	at := rec.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	row := pool.QueryRow(ctx, insertAlertSQL, rec.PortfolioID, rec.AssetID, rec.Kind, rec.Message, rec.Severity, at)
	var out AlertRecord
	if scanErr := row.Scan(&out.ID, &out.PortfolioID, &out.AssetID, &out.Kind, &out.Message, &out.Severity, &out.At); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return out, nil
}

// LastAlertAt returns the timestamp of the most recent alert for the
// (portfolio, asset, kind) triple, or ErrNotFound.
func (s *Store) LastAlertAt(ctx context.Context, portfolioID, assetID int64, kind string) (time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, err
	}
	var at time.Time
	if scanErr := pool.QueryRow(ctx, lastAlertAtSQL, portfolioID, assetID, kind).Scan(&at); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, fmt.Errorf("last alert at: %w", scanErr)
	}
	return at, nil
}

// ListRecentAlerts lists the most recent alert records.
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

	out := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		if err := rows.Scan(&rec.ID, &rec.PortfolioID, &rec.AssetID, &rec.Kind, &rec.Message, &rec.Severity, &rec.At); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanPrice(row pgx.Row) (PriceObservation, error) {
	var (
		obs      PriceObservation
		priceStr string
	)
	if err := row.Scan(&obs.ID, &obs.AssetID, &obs.Ccy, &priceStr, &obs.At); err != nil {
		return PriceObservation{}, err
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PriceObservation{}, fmt.Errorf("parse price: %w", err)
	}
	obs.Price = price
	return obs, nil
}

func scanFx(row pgx.Row) (FxObservation, error) {
	var (
		obs     FxObservation
		rateStr string
	)
	if err := row.Scan(&obs.ID, &obs.BaseCcy, &obs.QuoteCcy, &rateStr, &obs.At); err != nil {
		return FxObservation{}, err
	}
	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return FxObservation{}, fmt.Errorf("parse rate: %w", err)
	}
	obs.Rate = rate
	return obs, nil
}

var (
	_ SeriesStore    = (*Store)(nil)
	_ AlertStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
