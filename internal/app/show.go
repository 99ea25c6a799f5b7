package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"portfolio-balancer/internal/storage"
	"portfolio-balancer/internal/valuation"
)

// Show prints the current position valuations and recent alert records.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	now := time.Now().UTC()
	assets, err := store.ListActiveAssets(ctx)
	if err != nil {
		return err
	}
	symbols := make(map[int64]string, len(assets))
	for _, asset := range assets {
		symbols[asset.ID] = asset.Symbol
	}

	if err := a.showValuations(ctx, store, symbols, now); err != nil {
		return err
	}
	return a.showAlerts(ctx, store, symbols, opts.Limit)
}

func (a *App) showValuations(ctx context.Context, store *storage.Store, symbols map[int64]string, now time.Time) error {
	portfolio, err := store.PortfolioByName(ctx, a.Config.Portfolio.Name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			fmt.Fprintf(os.Stdout, "portfolio %q not found\n", a.Config.Portfolio.Name)
			return nil
		}
		return err
	}
	positions, err := store.ListPositions(ctx, portfolio.ID)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		fmt.Fprintln(os.Stdout, "no positions found")
		return nil
	}

	market := a.Config.Market
	val := valuation.New(store, store, market.ReferenceCurrency, market.SecondaryCurrencies, market.BridgeSymbol, a.Logger)

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Asset\tCoins\tValue (%s)\tCost (%s)\tMultiple\n", val.ReferenceCurrency(), val.ReferenceCurrency())

	for _, pos := range positions {
		symbol := symbols[pos.AssetID]
		if symbol == "" {
			symbol = fmt.Sprintf("#%d", pos.AssetID)
		}

		mv, okMV, err := val.MarketValue(ctx, pos, now)
		if err != nil {
			return err
		}
		cb, okCB, err := val.CostBasis(ctx, pos, now)
		if err != nil {
			return err
		}

		value := "n/a"
		if okMV {
			value = mv.StringFixed(2)
		}
		cost := "n/a"
		if okCB {
			cost = cb.StringFixed(2)
		}
		multiple := "n/a"
		if okMV && okCB && cb.IsPositive() {
			multiple = mv.Div(cb).StringFixed(2)
		}

		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", symbol, pos.Coins.String(), value, cost, multiple)
	}
	writer.Flush()
	fmt.Fprintln(os.Stdout)
	return nil
}

func (a *App) showAlerts(ctx context.Context, store *storage.Store, symbols map[int64]string, limit int) error {
	alerts, err := store.ListRecentAlerts(ctx, limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tAsset\tKind\tSeverity\tMessage")

	for _, rec := range alerts {
		symbol := symbols[rec.AssetID]
		if symbol == "" {
			symbol = fmt.Sprintf("#%d", rec.AssetID)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			rec.At.UTC().Format(time.RFC3339),
			symbol,
			rec.Kind,
			rec.Severity,
			sanitizeInline(rec.Message),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
