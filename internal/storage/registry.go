package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	listActiveAssetsSQL = `SELECT id, symbol, name, is_stable, is_fiat, active
    FROM assets
    WHERE active
    ORDER BY symbol;`

	assetBySymbolSQL = `SELECT id, symbol, name, is_stable, is_fiat, active
    FROM assets
    WHERE symbol = $1;`

	upsertAssetSQL = `INSERT INTO assets (symbol, name, is_stable, is_fiat, active)
    VALUES ($1, $2, $3, $4, $5)
    ON CONFLICT (symbol) DO UPDATE
    SET name      = EXCLUDED.name,
        is_stable = EXCLUDED.is_stable,
        is_fiat   = EXCLUDED.is_fiat,
        active    = EXCLUDED.active
    RETURNING id, symbol, name, is_stable, is_fiat, active;`

	ensurePortfolioSQL = `INSERT INTO portfolios (name, base_currency)
    VALUES ($1, $2)
    ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
    RETURNING id, name, base_currency;`

	portfolioByNameSQL = `SELECT id, name, base_currency
    FROM portfolios
    WHERE name = $1;`

	listPositionsSQL = `SELECT p.id, p.portfolio_id, p.asset_id, p.coins, p.avg_cost_ccy, p.avg_cost_per_unit, p.as_of
    FROM positions p
    JOIN assets a ON a.id = p.asset_id
    WHERE p.portfolio_id = $1 AND a.active
    ORDER BY p.id;`

	upsertPositionSQL = `INSERT INTO positions (portfolio_id, asset_id, coins, avg_cost_ccy, avg_cost_per_unit, as_of)
    VALUES ($1, $2, $3, $4, $5, $6)
    ON CONFLICT (portfolio_id, asset_id) DO UPDATE
    SET coins             = EXCLUDED.coins,
        avg_cost_ccy      = EXCLUDED.avg_cost_ccy,
        avg_cost_per_unit = EXCLUDED.avg_cost_per_unit,
        as_of             = EXCLUDED.as_of;`

	listTargetsSQL = `SELECT id, portfolio_id, asset_id, target_weight, drift_band, min_trade_usd
    FROM targets
    WHERE portfolio_id = $1
    ORDER BY id;`

	upsertTargetSQL = `INSERT INTO targets (portfolio_id, asset_id, target_weight, drift_band, min_trade_usd)
    VALUES ($1, $2, $3, $4, $5)
    ON CONFLICT (portfolio_id, asset_id) DO UPDATE
    SET target_weight = EXCLUDED.target_weight,
        drift_band    = EXCLUDED.drift_band,
        min_trade_usd = EXCLUDED.min_trade_usd;`
)

// ListActiveAssets returns all active registry assets.
func (s *Store) ListActiveAssets(ctx context.Context) ([]Asset, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listActiveAssetsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active assets: %w", queryErr)
	}
	defer rows.Close()

	out := make([]Asset, 0)
	for rows.Next() {
		var a Asset
		if err := rows.Scan(&a.ID, &a.Symbol, &a.Name, &a.IsStable, &a.IsFiat, &a.Active); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// AssetBySymbol looks up one asset, ErrNotFound when absent.
func (s *Store) AssetBySymbol(ctx context.Context, symbol string) (Asset, error) {
	pool, err := s.getPool()
	if err != nil {
		return Asset{}, err
	}
	var a Asset
	if scanErr := pool.QueryRow(ctx, assetBySymbolSQL, symbol).Scan(&a.ID, &a.Symbol, &a.Name, &a.IsStable, &a.IsFiat, &a.Active); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return Asset{}, ErrNotFound
		}
		return Asset{}, fmt.Errorf("asset by symbol: %w", scanErr)
	}
	return a, nil
}

// UpsertAsset inserts or updates an asset keyed by symbol.
func (s *Store) UpsertAsset(ctx context.Context, asset Asset) (Asset, error) {
	pool, err := s.getPool()
	if err != nil {
		return Asset{}, err
	}
	var a Asset
	row := pool.QueryRow(ctx, upsertAssetSQL, asset.Symbol, asset.Name, asset.IsStable, asset.IsFiat, asset.Active)
	if scanErr := row.Scan(&a.ID, &a.Symbol, &a.Name, &a.IsStable, &a.IsFiat, &a.Active); scanErr != nil {
		return Asset{}, fmt.Errorf("upsert asset: %w", scanErr)
	}
	return a, nil
}

// EnsurePortfolio returns the named portfolio, creating it if missing.
func (s *Store) EnsurePortfolio(ctx context.Context, name, baseCurrency string) (Portfolio, error) {
	pool, err := s.getPool()
	if err != nil {
		return Portfolio{}, err
	}
	var p Portfolio
	row := pool.QueryRow(ctx, ensurePortfolioSQL, name, baseCurrency)
	if scanErr := row.Scan(&p.ID, &p.Name, &p.BaseCurrency); scanErr != nil {
		return Portfolio{}, fmt.Errorf("ensure portfolio: %w", scanErr)
	}
	return p, nil
}

// PortfolioByName looks up one portfolio, ErrNotFound when absent.
func (s *Store) PortfolioByName(ctx context.Context, name string) (Portfolio, error) {
	pool, err := s.getPool()
	if err != nil {
		return Portfolio{}, err
	}
	var p Portfolio
	if scanErr := pool.QueryRow(ctx, portfolioByNameSQL, name).Scan(&p.ID, &p.Name, &p.BaseCurrency); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return Portfolio{}, ErrNotFound
		}
		return Portfolio{}, fmt.Errorf("portfolio by name: %w", scanErr)
	}
	return p, nil
}

// ListPositions returns the positions of active assets in a portfolio.
func (s *Store) ListPositions(ctx context.Context, portfolioID int64) ([]Position, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listPositionsSQL, portfolioID)
	if queryErr != nil {
		return nil, fmt.Errorf("list positions: %w", queryErr)
	}
	defer rows.Close()

	out := make([]Position, 0)
	for rows.Next() {
		pos, scanErr := scanPosition(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, pos)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// UpsertPosition inserts or updates a (portfolio, asset) position.
func (s *Store) UpsertPosition(ctx context.Context, pos Position) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	asOf := pos.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	_, execErr := pool.Exec(ctx, upsertPositionSQL,
		pos.PortfolioID, pos.AssetID, pos.Coins.String(), pos.AvgCostCcy, pos.AvgCostPerUnit.String(), asOf)
	if execErr != nil {
		return fmt.Errorf("upsert position: %w", execErr)
	}
	return nil
}

// ListTargets returns the configured targets for a portfolio.
func (s *Store) ListTargets(ctx context.Context, portfolioID int64) ([]Target, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listTargetsSQL, portfolioID)
	if queryErr != nil {
		return nil, fmt.Errorf("list targets: %w", queryErr)
	}
	defer rows.Close()

	out := make([]Target, 0)
	for rows.Next() {
		tgt, scanErr := scanTarget(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, tgt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// UpsertTarget inserts or updates a (portfolio, asset) target.
func (s *Store) UpsertTarget(ctx context.Context, target Target) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, upsertTargetSQL,
		target.PortfolioID, target.AssetID, target.TargetWeight.String(), target.DriftBand.String(), target.MinTradeUSD.String())
	if execErr != nil {
		return fmt.Errorf("upsert target: %w", execErr)
	}
	return nil
}

func scanPosition(row pgx.Row) (Position, error) {
	var (
		pos      Position
		coinsStr string
		avgStr   string
	)
	if err := row.Scan(&pos.ID, &pos.PortfolioID, &pos.AssetID, &coinsStr, &pos.AvgCostCcy, &avgStr, &pos.AsOf); err != nil {
		return Position{}, err
	}
	coins, err := decimal.NewFromString(coinsStr)
	if err != nil {
		return Position{}, fmt.Errorf("parse coins: %w", err)
	}
	avg, err := decimal.NewFromString(avgStr)
	if err != nil {
		return Position{}, fmt.Errorf("parse avg cost: %w", err)
	}
	pos.Coins = coins
	pos.AvgCostPerUnit = avg
	return pos, nil
}

func scanTarget(row pgx.Row) (Target, error) {
	var (
		tgt       Target
		weightStr string
		bandStr   string
		minStr    string
	)
	if err := row.Scan(&tgt.ID, &tgt.PortfolioID, &tgt.AssetID, &weightStr, &bandStr, &minStr); err != nil {
		return Target{}, err
	}
	weight, err := decimal.NewFromString(weightStr)
	if err != nil {
		return Target{}, fmt.Errorf("parse target weight: %w", err)
	}
	band, err := decimal.NewFromString(bandStr)
	if err != nil {
		return Target{}, fmt.Errorf("parse drift band: %w", err)
	}
	minTrade, err := decimal.NewFromString(minStr)
	if err != nil {
		return Target{}, fmt.Errorf("parse min trade: %w", err)
	}
	tgt.TargetWeight = weight
	tgt.DriftBand = band
	tgt.MinTradeUSD = minTrade
	return tgt, nil
}

var _ RegistryStore = (*Store)(nil)
