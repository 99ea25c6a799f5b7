// Package health reports bucket coverage of the observation log for
// external monitoring. It is not authoritative for rule correctness.
package health

import (
	"context"
	"fmt"
	"time"

	"portfolio-balancer/internal/storage"
)

const (
	// ExpectedHourly is the hourly bucket count of the last 24 hours.
	ExpectedHourly = 24
	// ExpectedDaily is the daily bucket count of the last 365 days.
	ExpectedDaily = 365
)

// SeriesCoverage is the populated bucket count for one series.
type SeriesCoverage struct {
	Name   string
	Hourly int
	Daily  int
}

// Report is the coverage snapshot across asset price series and fx pairs.
type Report struct {
	GeneratedAt time.Time
	Assets      []SeriesCoverage
	FxPairs     []SeriesCoverage
}

// Reporter computes coverage reports against the series store.
type Reporter struct {
	series   storage.SeriesStore
	registry storage.RegistryStore
	refCcy   string
	fxBases  []string
}

// NewReporter constructs a Reporter for the reference-currency price
// series of all active assets plus the tracked fx pairs.
func NewReporter(series storage.SeriesStore, registry storage.RegistryStore, refCcy string, fxBases []string) *Reporter {
	return &Reporter{series: series, registry: registry, refCcy: refCcy, fxBases: fxBases}
}

// Report counts populated hourly buckets (of 24 expected) and daily
// buckets (of 365 expected) since now, per tracked series.
func (r *Reporter) Report(ctx context.Context, now time.Time) (Report, error) {
	now = now.UTC()
	sinceHourly := now.Add(-ExpectedHourly * time.Hour)
	sinceDaily := now.AddDate(0, 0, -ExpectedDaily)

	out := Report{GeneratedAt: now}

	assets, err := r.registry.ListActiveAssets(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list active assets: %w", err)
	}
	for _, asset := range assets {
		hourly, err := r.series.CountDistinctPriceBuckets(ctx, asset.ID, r.refCcy, sinceHourly, storage.GranularityHour)
		if err != nil {
			return Report{}, fmt.Errorf("count hourly buckets %s: %w", asset.Symbol, err)
		}
		daily, err := r.series.CountDistinctPriceBuckets(ctx, asset.ID, r.refCcy, sinceDaily, storage.GranularityDay)
		if err != nil {
			return Report{}, fmt.Errorf("count daily buckets %s: %w", asset.Symbol, err)
		}
		out.Assets = append(out.Assets, SeriesCoverage{Name: asset.Symbol, Hourly: hourly, Daily: daily})
	}

	for _, base := range r.fxBases {
		pair := base + r.refCcy
		hourly, err := r.series.CountDistinctFxBuckets(ctx, base, r.refCcy, sinceHourly, storage.GranularityHour)
		if err != nil {
			return Report{}, fmt.Errorf("count hourly fx buckets %s: %w", pair, err)
		}
		daily, err := r.series.CountDistinctFxBuckets(ctx, base, r.refCcy, sinceDaily, storage.GranularityDay)
		if err != nil {
			return Report{}, fmt.Errorf("count daily fx buckets %s: %w", pair, err)
		}
		out.FxPairs = append(out.FxPairs, SeriesCoverage{Name: pair, Hourly: hourly, Daily: daily})
	}

	return out, nil
}
