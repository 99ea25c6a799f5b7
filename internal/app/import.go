package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"portfolio-balancer/internal/csvio"
	"portfolio-balancer/internal/storage"
)

var stableSymbols = map[string]bool{
	"USDC":  true,
	"USDT":  true,
	"SUSDE": true,
}

// Import loads a positions snapshot CSV into the registry, creating the
// portfolio and any missing assets.
func (a *App) Import(ctx context.Context, opts ImportOptions) error {
	file, err := os.Open(opts.Path)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer file.Close()

	rows, err := csvio.ReadPositions(file)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.Logger.Warn().Str("path", opts.Path).Msg("snapshot contains no positions")
		return nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	return a.importRows(ctx, store, rows)
}

func (a *App) importRows(ctx context.Context, registry storage.RegistryStore, rows []csvio.Row) error {
	portfolio, err := registry.EnsurePortfolio(ctx, a.Config.Portfolio.Name, a.Config.Portfolio.BaseCurrency)
	if err != nil {
		return err
	}

	imported := 0
	for _, row := range rows {
		isFiat := row.Symbol == "GBP" || row.Symbol == "USD" || row.Symbol == "EUR"
		asset, err := registry.UpsertAsset(ctx, storage.Asset{
			Symbol:   row.Symbol,
			Name:     row.Symbol,
			IsStable: stableSymbols[row.Symbol] || isFiat,
			IsFiat:   isFiat,
			Active:   true,
		})
		if err != nil {
			return fmt.Errorf("upsert asset %s: %w", row.Symbol, err)
		}

		ccy := row.AvgCostCcy
		if ccy == "" {
			ccy = strings.ToUpper(a.Config.Portfolio.BaseCurrency)
		}
		if err := registry.UpsertPosition(ctx, storage.Position{
			PortfolioID:    portfolio.ID,
			AssetID:        asset.ID,
			Coins:          row.Coins,
			AvgCostCcy:     ccy,
			AvgCostPerUnit: row.AvgCostPerUnit,
			AsOf:           time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("upsert position %s: %w", row.Symbol, err)
		}
		imported++
	}

	a.Logger.Info().Int("positions", imported).Str("portfolio", portfolio.Name).Msg("snapshot imported")
	return nil
}
