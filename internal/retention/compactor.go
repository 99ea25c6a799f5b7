// Package retention enforces the tiered downsampling policy and repairs
// coverage gaps in the observation log.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"portfolio-balancer/internal/storage"
)

// tier identifies one retention window granularity.
type tier string

const (
	tierHourly  tier = "hourly"
	tierDaily   tier = "daily"
	tierMonthly tier = "monthly"
)

func (t tier) truncate(at time.Time) time.Time {
	at = at.UTC()
	switch t {
	case tierHourly:
		return at.Truncate(time.Hour)
	case tierDaily:
		return time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}

// window is one independently compacted slice of the log: observations with
// from <= at < to, bucketed at the tier's granularity.
type window struct {
	tier tier
	from time.Time
	to   time.Time
}

// windows returns the three retention tiers measured from now:
// hourly under 24h of age, daily up to 365d, monthly beyond.
func windows(now time.Time) []window {
	now = now.UTC()
	dayAgo := now.Add(-24 * time.Hour)
	yearAgo := now.AddDate(0, 0, -365)
	return []window{
		{tier: tierHourly, from: dayAgo, to: now.Add(time.Hour)},
		{tier: tierDaily, from: yearAgo, to: dayAgo},
		{tier: tierMonthly, from: time.Time{}, to: yearAgo},
	}
}

// Compactor downsamples the observation log so storage grows sub-linearly
// with time while recent precision is preserved. Each window is compacted
// independently; the whole pass is idempotent.
type Compactor struct {
	store  storage.SeriesStore
	logger zerolog.Logger
}

// NewCompactor constructs a Compactor over the given series store.
func NewCompactor(store storage.SeriesStore, logger zerolog.Logger) *Compactor {
	return &Compactor{
		store:  store,
		logger: logger.With().Str("component", "compactor").Logger(),
	}
}

// Run compacts all three tiers for both price and fx series. A failed
// window is reported but does not stop the remaining windows.
func (c *Compactor) Run(ctx context.Context, now time.Time) error {
	var errs []error
	for _, w := range windows(now) {
		if err := c.compactPrices(ctx, w); err != nil {
			errs = append(errs, fmt.Errorf("compact prices %s: %w", w.tier, err))
		}
		if err := c.compactFx(ctx, w); err != nil {
			errs = append(errs, fmt.Errorf("compact fx %s: %w", w.tier, err))
		}
	}
	return errors.Join(errs...)
}

type priceGroup struct {
	assetID int64
	ccy     string
	bucket  time.Time
}

type fxGroup struct {
	base   string
	quote  string
	bucket time.Time
}

func (c *Compactor) compactPrices(ctx context.Context, w window) error {
	observations, err := c.store.ListPricesBetween(ctx, w.from, w.to)
	if err != nil {
		return err
	}

	keepers := make(map[priceGroup]storage.PriceObservation)
	members := make(map[priceGroup][]int64)
	for _, obs := range observations {
		key := priceGroup{assetID: obs.AssetID, ccy: obs.Ccy, bucket: w.tier.truncate(obs.At)}
		members[key] = append(members[key], obs.ID)
		best, ok := keepers[key]
		if !ok || obs.At.After(best.At) || (obs.At.Equal(best.At) && obs.ID > best.ID) {
			keepers[key] = obs
		}
	}

	var doomed []int64
	for key, ids := range members {
		keep := keepers[key].ID
		for _, id := range ids {
			if id != keep {
				doomed = append(doomed, id)
			}
		}
	}
	if len(doomed) == 0 {
		return nil
	}

	if err := c.store.DeletePrices(ctx, doomed); err != nil {
		return err
	}
	c.logger.Debug().Str("tier", string(w.tier)).Int("deleted", len(doomed)).Msg("compacted price window")
	return nil
}

func (c *Compactor) compactFx(ctx context.Context, w window) error {
	observations, err := c.store.ListFxBetween(ctx, w.from, w.to)
	if err != nil {
		return err
	}

	keepers := make(map[fxGroup]storage.FxObservation)
	members := make(map[fxGroup][]int64)
	for _, obs := range observations {
		key := fxGroup{base: obs.BaseCcy, quote: obs.QuoteCcy, bucket: w.tier.truncate(obs.At)}
		members[key] = append(members[key], obs.ID)
		best, ok := keepers[key]
		if !ok || obs.At.After(best.At) || (obs.At.Equal(best.At) && obs.ID > best.ID) {
			keepers[key] = obs
		}
	}

	var doomed []int64
	for key, ids := range members {
		keep := keepers[key].ID
		for _, id := range ids {
			if id != keep {
				doomed = append(doomed, id)
			}
		}
	}
	if len(doomed) == 0 {
		return nil
	}

	if err := c.store.DeleteFx(ctx, doomed); err != nil {
		return err
	}
	c.logger.Debug().Str("tier", string(w.tier)).Int("deleted", len(doomed)).Msg("compacted fx window")
	return nil
}
