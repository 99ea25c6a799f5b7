package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestAppendPriceIgnoresDuplicate(t *testing.T) {
	m := NewMemoryStore()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	obs := PriceObservation{AssetID: 1, Ccy: "USD", Price: decimal.NewFromInt(100), At: at}

	if err := m.AppendPrice(context.Background(), obs); err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	dup := obs
	dup.Price = decimal.NewFromInt(999)
	if err := m.AppendPrice(context.Background(), dup); err != nil {
		t.Fatalf("duplicate append should be ignored, got: %v", err)
	}
	if m.PriceCount() != 1 {
		t.Fatalf("expected 1 stored price, got %d", m.PriceCount())
	}

	got, err := m.LatestPriceBefore(context.Background(), 1, "USD", at)
	if err != nil {
		t.Fatalf("latest lookup failed: %v", err)
	}
	if !got.Price.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("duplicate overwrote original price: %s", got.Price)
	}
}

func TestAppendRejectsMalformed(t *testing.T) {
	m := NewMemoryStore()
	cases := []PriceObservation{
		{AssetID: 1, Ccy: "USD", Price: decimal.NewFromInt(1)},                                                          // zero time
		{AssetID: 0, Ccy: "USD", Price: decimal.NewFromInt(1), At: time.Now()},                                          // missing asset
		{AssetID: 1, Ccy: "", Price: decimal.NewFromInt(1), At: time.Now()},                                             // missing ccy
		{AssetID: 1, Ccy: "USD", Price: decimal.NewFromInt(-5), At: time.Now()},                                         // negative
	}
	for i, obs := range cases {
		if err := m.AppendPrice(context.Background(), obs); !errors.Is(err, ErrMalformedObservation) {
			t.Fatalf("case %d: expected ErrMalformedObservation, got %v", i, err)
		}
	}
	if m.PriceCount() != 0 {
		t.Fatalf("malformed observations must not be stored, got %d", m.PriceCount())
	}
}

func TestLatestPriceBeforeOrdering(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, price := range []int64{10, 20, 30} {
		obs := PriceObservation{AssetID: 1, Ccy: "USD", Price: decimal.NewFromInt(price), At: base.Add(time.Duration(i) * time.Hour)}
		if err := m.AppendPrice(ctx, obs); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}

	got, err := m.LatestPriceBefore(ctx, 1, "USD", base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !got.Price.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected price 20 at cutoff, got %s", got.Price)
	}

	// cutoff is inclusive
	got, err = m.LatestPriceBefore(ctx, 1, "USD", base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !got.Price.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("expected price 30 at inclusive cutoff, got %s", got.Price)
	}

	if _, err := m.LatestPriceBefore(ctx, 1, "USD", base.Add(-time.Second)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before first observation, got %v", err)
	}
}

func TestListPricesBetweenHalfOpen(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		obs := PriceObservation{AssetID: 1, Ccy: "USD", Price: decimal.NewFromInt(int64(i)), At: base.Add(time.Duration(i) * time.Hour)}
		if err := m.AppendPrice(ctx, obs); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}

	got, err := m.ListPricesBetween(ctx, base.Add(time.Hour), base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 observations in [from, to), got %d", len(got))
	}
	if !got[0].At.Equal(base.Add(time.Hour)) || !got[1].At.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("unexpected ordering: %v, %v", got[0].At, got[1].At)
	}
}

func TestCountDistinctPriceBuckets(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	// three observations in two hourly buckets, one daily bucket
	for _, offset := range []time.Duration{0, 20 * time.Minute, time.Hour} {
		obs := PriceObservation{AssetID: 1, Ccy: "USD", Price: decimal.NewFromInt(1), At: base.Add(offset)}
		if err := m.AppendPrice(ctx, obs); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	hourly, err := m.CountDistinctPriceBuckets(ctx, 1, "USD", base.Add(-time.Hour), GranularityHour)
	if err != nil {
		t.Fatalf("count hourly failed: %v", err)
	}
	if hourly != 2 {
		t.Fatalf("expected 2 hourly buckets, got %d", hourly)
	}

	daily, err := m.CountDistinctPriceBuckets(ctx, 1, "USD", base.Add(-time.Hour), GranularityDay)
	if err != nil {
		t.Fatalf("count daily failed: %v", err)
	}
	if daily != 1 {
		t.Fatalf("expected 1 daily bucket, got %d", daily)
	}
}

func TestLastAlertAt(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	if _, err := m.LastAlertAt(ctx, 1, 2, "take_profit_2x_value"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound with no alerts, got %v", err)
	}

	for i := 0; i < 2; i++ {
		rec := AlertRecord{PortfolioID: 1, AssetID: 2, Kind: "take_profit_2x_value", At: base.Add(time.Duration(i) * time.Hour)}
		if _, err := m.InsertAlert(ctx, rec); err != nil {
			t.Fatalf("insert alert failed: %v", err)
		}
	}

	got, err := m.LastAlertAt(ctx, 1, 2, "take_profit_2x_value")
	if err != nil {
		t.Fatalf("last alert lookup failed: %v", err)
	}
	if !got.Equal(base.Add(time.Hour)) {
		t.Fatalf("expected most recent alert time, got %v", got)
	}

	if _, err := m.LastAlertAt(ctx, 1, 2, "rebalance_suggested"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("kinds must be tracked independently, got %v", err)
	}
}

func TestUpsertPositionReplaces(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	pf, err := m.EnsurePortfolio(ctx, "Default", "USD")
	if err != nil {
		t.Fatalf("ensure portfolio failed: %v", err)
	}
	asset, err := m.UpsertAsset(ctx, Asset{Symbol: "BTC", Active: true})
	if err != nil {
		t.Fatalf("upsert asset failed: %v", err)
	}

	first := Position{PortfolioID: pf.ID, AssetID: asset.ID, Coins: decimal.NewFromInt(1), AsOf: time.Now()}
	if err := m.UpsertPosition(ctx, first); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	second := first
	second.Coins = decimal.NewFromInt(2)
	if err := m.UpsertPosition(ctx, second); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	positions, err := m.ListPositions(ctx, pf.ID)
	if err != nil {
		t.Fatalf("list positions failed: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected a single position after upsert, got %d", len(positions))
	}
	if !positions[0].Coins.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected replaced coins, got %s", positions[0].Coins)
	}
}

func TestListPositionsSkipsInactiveAssets(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	pf, _ := m.EnsurePortfolio(ctx, "Default", "USD")
	active, _ := m.UpsertAsset(ctx, Asset{Symbol: "BTC", Active: true})
	retired, _ := m.UpsertAsset(ctx, Asset{Symbol: "LUNA", Active: false})

	_ = m.UpsertPosition(ctx, Position{PortfolioID: pf.ID, AssetID: active.ID, Coins: decimal.NewFromInt(1), AsOf: time.Now()})
	_ = m.UpsertPosition(ctx, Position{PortfolioID: pf.ID, AssetID: retired.ID, Coins: decimal.NewFromInt(1), AsOf: time.Now()})

	positions, err := m.ListPositions(ctx, pf.ID)
	if err != nil {
		t.Fatalf("list positions failed: %v", err)
	}
	if len(positions) != 1 || positions[0].AssetID != active.ID {
		t.Fatalf("expected only the active asset position, got %+v", positions)
	}
}
