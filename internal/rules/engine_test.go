package rules

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"portfolio-balancer/internal/alerting"
	"portfolio-balancer/internal/storage"
	"portfolio-balancer/internal/valuation"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// captureSink records every emitted event.
type captureSink struct {
	events []alerting.Event
}

func (c *captureSink) Emit(ctx context.Context, event alerting.Event) error {
	c.events = append(c.events, event)
	return nil
}

type fixture struct {
	store     *storage.MemoryStore
	sink      *captureSink
	engine    *Engine
	portfolio storage.Portfolio
}

func defaultConfig() Config {
	return Config{
		Ladder:           []decimal.Decimal{decimal.NewFromInt(2), decimal.NewFromInt(3), decimal.NewFromInt(5)},
		Cooldown:         24 * time.Hour,
		SellFraction:     decimal.NewFromFloat(0.33),
		DefaultDriftBand: decimal.NewFromFloat(0.2),
		DefaultMinTrade:  decimal.NewFromInt(50),
	}
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	portfolio, err := store.EnsurePortfolio(context.Background(), "Default", "USD")
	if err != nil {
		t.Fatalf("ensure portfolio failed: %v", err)
	}
	sink := &captureSink{}
	val := valuation.New(store, store, "USD", nil, "", zerolog.Nop())
	return &fixture{
		store:     store,
		sink:      sink,
		engine:    New(val, store, store, sink, cfg, zerolog.Nop()),
		portfolio: portfolio,
	}
}

func (f *fixture) addHolding(t *testing.T, symbol string, coins, price, avgCost float64) storage.Asset {
	t.Helper()
	ctx := context.Background()
	asset, err := f.store.UpsertAsset(ctx, storage.Asset{Symbol: symbol, Active: true})
	if err != nil {
		t.Fatalf("upsert asset failed: %v", err)
	}
	obs := storage.PriceObservation{AssetID: asset.ID, Ccy: "USD", Price: decimal.NewFromFloat(price), At: testNow.Add(-time.Hour)}
	if err := f.store.AppendPrice(ctx, obs); err != nil {
		t.Fatalf("append price failed: %v", err)
	}
	pos := storage.Position{
		PortfolioID:    f.portfolio.ID,
		AssetID:        asset.ID,
		Coins:          decimal.NewFromFloat(coins),
		AvgCostCcy:     "USD",
		AvgCostPerUnit: decimal.NewFromFloat(avgCost),
		AsOf:           testNow,
	}
	if err := f.store.UpsertPosition(ctx, pos); err != nil {
		t.Fatalf("upsert position failed: %v", err)
	}
	return asset
}

func (f *fixture) alertKinds(t *testing.T) []string {
	t.Helper()
	records, err := f.store.ListRecentAlerts(context.Background(), 100)
	if err != nil {
		t.Fatalf("list alerts failed: %v", err)
	}
	kinds := make([]string, 0, len(records))
	for _, rec := range records {
		kinds = append(kinds, rec.Kind)
	}
	return kinds
}

func TestTakeProfitFiresOnceThenCoolsDown(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	// cost basis $10,000, market value $20,500: multiple 2.05
	f.addHolding(t, "BTC", 1, 20500, 10000)

	if err := f.engine.EvaluatePortfolio(ctx, f.portfolio, testNow); err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}

	kinds := f.alertKinds(t)
	if len(kinds) != 1 || kinds[0] != "take_profit_2x_value" {
		t.Fatalf("expected exactly one take_profit_2x_value record, got %v", kinds)
	}
	if len(f.sink.events) != 1 {
		t.Fatalf("expected one emitted event, got %d", len(f.sink.events))
	}
	event := f.sink.events[0]
	if event.Kind != "take_profit" {
		t.Fatalf("unexpected event kind %q", event.Kind)
	}
	if qty, ok := event.Payload["qty_suggested"].(float64); !ok || qty != 0.33 {
		t.Fatalf("expected a 33%% sale of 1 coin, got %v", event.Payload["qty_suggested"])
	}

	// one hour later the kind is still cooled down
	if err := f.engine.EvaluatePortfolio(ctx, f.portfolio, testNow.Add(time.Hour)); err != nil {
		t.Fatalf("second evaluation failed: %v", err)
	}
	if got := f.alertKinds(t); len(got) != 1 {
		t.Fatalf("cooldown violated: expected 1 record, got %v", got)
	}
	if len(f.sink.events) != 1 {
		t.Fatalf("cooldown violated: expected 1 emitted event, got %d", len(f.sink.events))
	}
}

func TestTakeProfitFiresAgainAfterCooldown(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	f.addHolding(t, "BTC", 1, 20500, 10000)

	if err := f.engine.EvaluatePortfolio(ctx, f.portfolio, testNow); err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if err := f.engine.EvaluatePortfolio(ctx, f.portfolio, testNow.Add(25*time.Hour)); err != nil {
		t.Fatalf("post-cooldown evaluation failed: %v", err)
	}
	if got := f.alertKinds(t); len(got) != 2 {
		t.Fatalf("expected a fresh alert after the cooldown elapsed, got %v", got)
	}
}

func TestTakeProfitMultipleThresholdsSameCycle(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	// multiple 3.5 crosses both the 2x and the 3x rungs
	f.addHolding(t, "BTC", 1, 35000, 10000)

	if err := f.engine.EvaluatePortfolio(ctx, f.portfolio, testNow); err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}

	kinds := map[string]bool{}
	for _, k := range f.alertKinds(t) {
		kinds[k] = true
	}
	if !kinds["take_profit_2x_value"] || !kinds["take_profit_3x_value"] {
		t.Fatalf("expected both 2x and 3x records, got %v", kinds)
	}
	if kinds["take_profit_5x_value"] {
		t.Fatalf("5x should not fire at multiple 3.5, got %v", kinds)
	}
}

func TestTakeProfitSkipsIndeterminateValuation(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	// position without any price observation: indeterminate, not zero
	asset, err := f.store.UpsertAsset(ctx, storage.Asset{Symbol: "XMR", Active: true})
	if err != nil {
		t.Fatalf("upsert asset failed: %v", err)
	}
	pos := storage.Position{
		PortfolioID:    f.portfolio.ID,
		AssetID:        asset.ID,
		Coins:          decimal.NewFromInt(10),
		AvgCostCcy:     "USD",
		AvgCostPerUnit: decimal.NewFromInt(100),
		AsOf:           testNow,
	}
	if err := f.store.UpsertPosition(ctx, pos); err != nil {
		t.Fatalf("upsert position failed: %v", err)
	}

	if err := f.engine.EvaluatePortfolio(ctx, f.portfolio, testNow); err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if got := f.alertKinds(t); len(got) != 0 {
		t.Fatalf("indeterminate positions must not alert, got %v", got)
	}
}

func TestTakeProfitSkipsZeroCostBasis(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	f.addHolding(t, "AIR", 100, 5, 0) // airdrop, no cost basis

	if err := f.engine.EvaluatePortfolio(ctx, f.portfolio, testNow); err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if got := f.alertKinds(t); len(got) != 0 {
		t.Fatalf("zero cost basis must not divide, got %v", got)
	}
}

func TestRejectsNonPositiveCooldown(t *testing.T) {
	cfg := defaultConfig()
	cfg.Cooldown = 0
	f := newFixture(t, cfg)
	if err := f.engine.EvaluatePortfolio(context.Background(), f.portfolio, testNow); err == nil {
		t.Fatal("expected ErrBadConfig for zero cooldown")
	}
}

func (f *fixture) setTarget(t *testing.T, assetID int64, weight, band, minTrade float64) {
	t.Helper()
	target := storage.Target{
		PortfolioID:  f.portfolio.ID,
		AssetID:      assetID,
		TargetWeight: decimal.NewFromFloat(weight),
		DriftBand:    decimal.NewFromFloat(band),
		MinTradeUSD:  decimal.NewFromFloat(minTrade),
	}
	if err := f.store.UpsertTarget(context.Background(), target); err != nil {
		t.Fatalf("upsert target failed: %v", err)
	}
}

func TestDriftWithinBandStaysQuiet(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	// 45/55 split against 50/50 targets: drift 0.05 under the 0.10 band
	a := f.addHolding(t, "BTC", 1, 45000, 45000)
	b := f.addHolding(t, "ETH", 1, 55000, 55000)
	f.setTarget(t, a.ID, 0.5, 0.10, 100)
	f.setTarget(t, b.ID, 0.5, 0.10, 100)

	if err := f.engine.EvaluatePortfolio(ctx, f.portfolio, testNow); err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if got := f.alertKinds(t); len(got) != 0 {
		t.Fatalf("drift inside the band must not alert, got %v", got)
	}
}

func TestDriftBeyondBandSuggestsTrade(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	// 35/65 split against 50/50 targets: drift 0.15 over the 0.10 band
	a := f.addHolding(t, "BTC", 1, 35000, 35000)
	b := f.addHolding(t, "ETH", 1, 65000, 65000)
	f.setTarget(t, a.ID, 0.5, 0.10, 100)
	f.setTarget(t, b.ID, 0.5, 0.10, 100)

	if err := f.engine.EvaluatePortfolio(ctx, f.portfolio, testNow); err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}

	kinds := f.alertKinds(t)
	if len(kinds) != 2 {
		t.Fatalf("expected rebalance records for both legs, got %v", kinds)
	}
	for _, k := range kinds {
		if k != "rebalance_suggested" {
			t.Fatalf("unexpected record kind %q", k)
		}
	}

	var buy *alerting.Event
	for i := range f.sink.events {
		if f.sink.events[i].Payload["side"] == "BUY" {
			buy = &f.sink.events[i]
		}
	}
	if buy == nil {
		t.Fatalf("expected a BUY suggestion among %v", f.sink.events)
	}
	if buy.Payload["symbol"] != "BTC" {
		t.Fatalf("the underweight leg should be bought, got %v", buy.Payload["symbol"])
	}
	if v, ok := buy.Payload["trade_value"].(float64); !ok || v != 15000 {
		t.Fatalf("expected a $15,000 trade, got %v", buy.Payload["trade_value"])
	}
}

func TestDriftSuppressedUnderMinTrade(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	a := f.addHolding(t, "BTC", 1, 35000, 35000)
	b := f.addHolding(t, "ETH", 1, 65000, 65000)
	f.setTarget(t, a.ID, 0.5, 0.10, 20000)
	f.setTarget(t, b.ID, 0.5, 0.10, 20000)

	if err := f.engine.EvaluatePortfolio(ctx, f.portfolio, testNow); err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if got := f.alertKinds(t); len(got) != 0 {
		t.Fatalf("trades under the minimum must be suppressed, got %v", got)
	}
}

func TestDriftFallsBackToDefaultBand(t *testing.T) {
	cfg := defaultConfig()
	cfg.DefaultDriftBand = decimal.NewFromFloat(0.10)
	f := newFixture(t, cfg)
	ctx := context.Background()

	a := f.addHolding(t, "BTC", 1, 35000, 35000)
	b := f.addHolding(t, "ETH", 1, 65000, 65000)
	// targets carry no band of their own
	f.setTarget(t, a.ID, 0.5, 0, 100)
	f.setTarget(t, b.ID, 0.5, 0, 100)

	if err := f.engine.EvaluatePortfolio(ctx, f.portfolio, testNow); err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if got := f.alertKinds(t); len(got) != 2 {
		t.Fatalf("expected the default band to apply, got %v", got)
	}
}

func TestDriftQuantityFromCurrentPrice(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	a := f.addHolding(t, "BTC", 1, 35000, 35000)
	b := f.addHolding(t, "ETH", 1, 65000, 65000)
	f.setTarget(t, a.ID, 0.5, 0.10, 100)
	f.setTarget(t, b.ID, 0.5, 0.10, 100)

	if err := f.engine.EvaluatePortfolio(ctx, f.portfolio, testNow); err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}

	for _, event := range f.sink.events {
		if event.Payload["symbol"] != "BTC" {
			continue
		}
		want := 15000.0 / 35000.0
		qty, ok := event.Payload["qty_suggested"].(float64)
		if !ok || math.Abs(qty-want) > 1e-9 {
			t.Fatalf("expected qty %v, got %v", want, event.Payload["qty_suggested"])
		}
	}
}
