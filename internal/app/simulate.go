package app

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"portfolio-balancer/internal/alerting"
	"portfolio-balancer/internal/storage"
)

// Simulate runs one full cycle over an in-memory store seeded with a
// synthetic portfolio, printing fired alerts to stdout. No database is
// required.
func (a *App) Simulate(ctx context.Context) error {
	store := storage.NewMemoryStore()
	now := time.Now().UTC()

	if err := seedDemo(ctx, a, store, now); err != nil {
		return err
	}

	svc := a.newService(store, store, store, nil, nil, &writerSink{w: os.Stdout})
	if err := svc.ProcessCycle(ctx, now); err != nil {
		return err
	}

	alerts, err := store.ListRecentAlerts(ctx, 100)
	if err != nil {
		return err
	}
	a.Logger.Info().Int("alert_records", len(alerts)).Msg("simulation complete")
	return nil
}

func seedDemo(ctx context.Context, a *App, store *storage.MemoryStore, now time.Time) error {
	refCcy := a.Config.Market.ReferenceCurrency
	portfolio, err := store.EnsurePortfolio(ctx, a.Config.Portfolio.Name, a.Config.Portfolio.BaseCurrency)
	if err != nil {
		return err
	}

	bridge, err := store.UpsertAsset(ctx, storage.Asset{Symbol: a.Config.Market.BridgeSymbol, Name: "Bridge stable", IsStable: true, Active: true})
	if err != nil {
		return err
	}
	btc, err := store.UpsertAsset(ctx, storage.Asset{Symbol: "BTC", Name: "Bitcoin", Active: true})
	if err != nil {
		return err
	}
	eth, err := store.UpsertAsset(ctx, storage.Asset{Symbol: "ETH", Name: "Ethereum", Active: true})
	if err != nil {
		return err
	}

	// sparse history: repair carries these forward into empty buckets
	seed := []storage.PriceObservation{
		{AssetID: btc.ID, Ccy: refCcy, Price: decimal.NewFromInt(41000), At: now.Add(-23 * time.Hour)},
		{AssetID: btc.ID, Ccy: refCcy, Price: decimal.NewFromInt(42000), At: now.Add(-2 * time.Hour)},
		{AssetID: eth.ID, Ccy: refCcy, Price: decimal.NewFromInt(2600), At: now.Add(-3 * time.Hour)},
		{AssetID: bridge.ID, Ccy: refCcy, Price: decimal.NewFromInt(1), At: now.Add(-time.Hour)},
		{AssetID: bridge.ID, Ccy: "GBP", Price: decimal.RequireFromString("0.8"), At: now.Add(-time.Hour)},
	}
	for _, obs := range seed {
		if err := store.AppendPrice(ctx, obs); err != nil {
			return err
		}
	}

	positions := []storage.Position{
		// bought near 20500, now ~42000: crosses the 2x value threshold
		{PortfolioID: portfolio.ID, AssetID: btc.ID, Coins: decimal.NewFromInt(1), AvgCostCcy: refCcy, AvgCostPerUnit: decimal.NewFromInt(20500)},
		// cost denominated in GBP to exercise the bridge derivation
		{PortfolioID: portfolio.ID, AssetID: eth.ID, Coins: decimal.NewFromInt(4), AvgCostCcy: "GBP", AvgCostPerUnit: decimal.NewFromInt(1500)},
	}
	for _, pos := range positions {
		if err := store.UpsertPosition(ctx, pos); err != nil {
			return err
		}
	}

	targets := []storage.Target{
		{PortfolioID: portfolio.ID, AssetID: btc.ID, TargetWeight: decimal.RequireFromString("0.5"), DriftBand: decimal.RequireFromString("0.1"), MinTradeUSD: decimal.NewFromInt(50)},
		{PortfolioID: portfolio.ID, AssetID: eth.ID, TargetWeight: decimal.RequireFromString("0.5"), DriftBand: decimal.RequireFromString("0.1"), MinTradeUSD: decimal.NewFromInt(50)},
	}
	for _, tgt := range targets {
		if err := store.UpsertTarget(ctx, tgt); err != nil {
			return err
		}
	}
	return nil
}

// writerSink prints one JSON object per event, mirroring the JSONL log.
type writerSink struct {
	w io.Writer
}

func (s *writerSink) Emit(ctx context.Context, event alerting.Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = s.w.Write(append(line, '\n'))
	return err
}

var _ alerting.Sink = (*writerSink)(nil)
