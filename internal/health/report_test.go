package health

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"portfolio-balancer/internal/storage"
)

func TestReportCountsCoverage(t *testing.T) {
	m := storage.NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	asset, err := m.UpsertAsset(ctx, storage.Asset{Symbol: "BTC", Active: true})
	if err != nil {
		t.Fatalf("upsert asset failed: %v", err)
	}

	// 3 populated hourly buckets, spanning 2 days
	for _, offset := range []time.Duration{-time.Hour, -2 * time.Hour, -30 * time.Hour} {
		obs := storage.PriceObservation{AssetID: asset.ID, Ccy: "USD", Price: decimal.NewFromInt(1), At: now.Add(offset)}
		if err := m.AppendPrice(ctx, obs); err != nil {
			t.Fatalf("append price failed: %v", err)
		}
	}

	fx := storage.FxObservation{BaseCcy: "GBP", QuoteCcy: "USD", Rate: decimal.NewFromInt(1), At: now.Add(-time.Hour)}
	if err := m.AppendFx(ctx, fx); err != nil {
		t.Fatalf("append fx failed: %v", err)
	}

	r := NewReporter(m, m, "USD", []string{"GBP"})
	report, err := r.Report(ctx, now)
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}

	if len(report.Assets) != 1 {
		t.Fatalf("expected one asset series, got %d", len(report.Assets))
	}
	btc := report.Assets[0]
	if btc.Name != "BTC" {
		t.Fatalf("unexpected series name %q", btc.Name)
	}
	if btc.Hourly != 2 {
		t.Fatalf("expected 2 hourly buckets inside the window, got %d", btc.Hourly)
	}
	if btc.Daily != 2 {
		t.Fatalf("expected 2 daily buckets, got %d", btc.Daily)
	}

	if len(report.FxPairs) != 1 || report.FxPairs[0].Name != "GBPUSD" {
		t.Fatalf("unexpected fx coverage: %+v", report.FxPairs)
	}
	if report.FxPairs[0].Hourly != 1 {
		t.Fatalf("expected 1 hourly fx bucket, got %d", report.FxPairs[0].Hourly)
	}
}

func TestReportEmptyRegistry(t *testing.T) {
	m := storage.NewMemoryStore()
	r := NewReporter(m, m, "USD", nil)
	report, err := r.Report(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if len(report.Assets) != 0 || len(report.FxPairs) != 0 {
		t.Fatalf("expected an empty report, got %+v", report)
	}
}
