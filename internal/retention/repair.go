package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"portfolio-balancer/internal/storage"
)

const (
	hourlyBuckets = 24
	dailyBuckets  = 365
)

// Repairer fills empty expected buckets by carrying forward the nearest
// earlier observation. It never fabricates a value where no prior
// observation exists, and re-running it inserts nothing new.
type Repairer struct {
	series   storage.SeriesStore
	registry storage.RegistryStore
	refCcy   string
	fxBases  []string
	logger   zerolog.Logger
}

// NewRepairer constructs a Repairer. refCcy is the reference currency whose
// price series are repaired per active asset; fxBases are the base
// currencies whose (base, refCcy) rate series are repaired.
func NewRepairer(series storage.SeriesStore, registry storage.RegistryStore, refCcy string, fxBases []string, logger zerolog.Logger) *Repairer {
	return &Repairer{
		series:   series,
		registry: registry,
		refCcy:   refCcy,
		fxBases:  fxBases,
		logger:   logger.With().Str("component", "repairer").Logger(),
	}
}

func hourBuckets(now time.Time, n int) []time.Time {
	end := now.UTC().Truncate(time.Hour)
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, end.Add(-time.Duration(i)*time.Hour))
	}
	return out
}

func dayBuckets(now time.Time, n int) []time.Time {
	now = now.UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, end.AddDate(0, 0, -i))
	}
	return out
}

// Run repairs the hourly (24 buckets) and daily (365 buckets) windows for
// every active asset's reference-currency price series and for each tracked
// fx pair. Runs after compaction and before valuation so an evaluation
// cycle observes a consistent bucketed series.
func (r *Repairer) Run(ctx context.Context, now time.Time) error {
	assets, err := r.registry.ListActiveAssets(ctx)
	if err != nil {
		return fmt.Errorf("list active assets: %w", err)
	}

	var errs []error
	for _, asset := range assets {
		if err := r.repairPriceSeries(ctx, asset.ID, hourBuckets(now, hourlyBuckets), time.Hour); err != nil {
			errs = append(errs, fmt.Errorf("repair hourly prices asset=%d: %w", asset.ID, err))
		}
		if err := r.repairPriceSeries(ctx, asset.ID, dayBuckets(now, dailyBuckets), 24*time.Hour); err != nil {
			errs = append(errs, fmt.Errorf("repair daily prices asset=%d: %w", asset.ID, err))
		}
	}

	for _, base := range r.fxBases {
		if err := r.repairFxSeries(ctx, base, hourBuckets(now, hourlyBuckets), time.Hour); err != nil {
			errs = append(errs, fmt.Errorf("repair hourly fx %s%s: %w", base, r.refCcy, err))
		}
		if err := r.repairFxSeries(ctx, base, dayBuckets(now, dailyBuckets), 24*time.Hour); err != nil {
			errs = append(errs, fmt.Errorf("repair daily fx %s%s: %w", base, r.refCcy, err))
		}
	}

	return errors.Join(errs...)
}

func (r *Repairer) repairPriceSeries(ctx context.Context, assetID int64, buckets []time.Time, width time.Duration) error {
	filled := 0
	for _, start := range buckets {
		exists, err := r.series.HasPriceBetween(ctx, assetID, r.refCcy, start, start.Add(width))
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		ref, err := r.series.LatestPriceBefore(ctx, assetID, r.refCcy, start)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				// cold start: no floor value, leave the bucket empty
				continue
			}
			return err
		}
		synthetic := storage.PriceObservation{
			AssetID: assetID,
			Ccy:     r.refCcy,
			Price:   ref.Price,
			At:      start,
		}
		if err := r.series.AppendPrice(ctx, synthetic); err != nil {
			return err
		}
		filled++
	}
	if filled > 0 {
		r.logger.Debug().Int64("asset_id", assetID).Int("filled", filled).Dur("bucket", width).Msg("carried forward price buckets")
	}
	return nil
}

func (r *Repairer) repairFxSeries(ctx context.Context, base string, buckets []time.Time, width time.Duration) error {
	filled := 0
	for _, start := range buckets {
		exists, err := r.series.HasFxBetween(ctx, base, r.refCcy, start, start.Add(width))
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		ref, err := r.series.LatestFxBefore(ctx, base, r.refCcy, start)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return err
		}
		synthetic := storage.FxObservation{
			BaseCcy:  base,
			QuoteCcy: r.refCcy,
			Rate:     ref.Rate,
			At:       start,
		}
		if err := r.series.AppendFx(ctx, synthetic); err != nil {
			return err
		}
		filled++
	}
	if filled > 0 {
		r.logger.Debug().Str("base", base).Str("quote", r.refCcy).Int("filled", filled).Dur("bucket", width).Msg("carried forward fx buckets")
	}
	return nil
}
