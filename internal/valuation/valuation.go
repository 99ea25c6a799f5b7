// Package valuation expresses positions in a single reference currency,
// tolerating missing direct-currency data via a fallback chain.
package valuation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"portfolio-balancer/internal/storage"
)

// Engine resolves prices, FX rates, market values, and cost bases against
// the observation log. Lookups that cannot be satisfied return ok=false
// ("indeterminate"), which callers must treat differently from zero.
type Engine struct {
	series       storage.SeriesStore
	registry     storage.RegistryStore
	refCcy       string
	secondaries  []string
	bridgeSymbol string
	logger       zerolog.Logger
}

// New constructs a valuation Engine. secondaries are currencies tried for
// cross-derivation when no direct reference-currency price exists;
// bridgeSymbol names the stable-value asset whose dual-currency prices
// derive an FX rate when none is stored.
func New(series storage.SeriesStore, registry storage.RegistryStore, refCcy string, secondaries []string, bridgeSymbol string, logger zerolog.Logger) *Engine {
	return &Engine{
		series:       series,
		registry:     registry,
		refCcy:       strings.ToUpper(refCcy),
		secondaries:  secondaries,
		bridgeSymbol: bridgeSymbol,
		logger:       logger.With().Str("component", "valuation").Logger(),
	}
}

// ReferenceCurrency returns the engine's reference currency code.
func (e *Engine) ReferenceCurrency() string {
	return e.refCcy
}

// Rate resolves the base -> reference FX rate as of now. Preference order:
// stored rate, then the bridge asset's dual-currency price ratio, then
// indeterminate.
func (e *Engine) Rate(ctx context.Context, base string, now time.Time) (decimal.Decimal, bool, error) {
	base = strings.ToUpper(base)
	if base == e.refCcy {
		return decimal.NewFromInt(1), true, nil
	}

	obs, err := e.series.LatestFxBefore(ctx, base, e.refCcy, now)
	if err == nil {
		return obs.Rate, true, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return decimal.Zero, false, err
	}

	return e.bridgeRate(ctx, base, now)
}

// bridgeRate derives base -> reference from the bridge asset's price in
// both currencies: rate = price_ref / price_base.
func (e *Engine) bridgeRate(ctx context.Context, base string, now time.Time) (decimal.Decimal, bool, error) {
	if e.bridgeSymbol == "" {
		return decimal.Zero, false, nil
	}
	bridge, err := e.registry.AssetBySymbol(ctx, e.bridgeSymbol)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}

	inRef, err := e.series.LatestPriceBefore(ctx, bridge.ID, e.refCcy, now)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}
	inBase, err := e.series.LatestPriceBefore(ctx, bridge.ID, base, now)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}
	if inBase.Price.IsZero() {
		return decimal.Zero, false, nil
	}
	return inRef.Price.Div(inBase.Price), true, nil
}

// AssetPrice resolves an asset's price in the reference currency as of
// now. Preference order: direct observation, then a secondary-currency
// observation crossed with its FX rate, then indeterminate.
func (e *Engine) AssetPrice(ctx context.Context, assetID int64, now time.Time) (decimal.Decimal, bool, error) {
	obs, err := e.series.LatestPriceBefore(ctx, assetID, e.refCcy, now)
	if err == nil {
		return obs.Price, true, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return decimal.Zero, false, err
	}

	for _, ccy := range e.secondaries {
		secondary, err := e.series.LatestPriceBefore(ctx, assetID, strings.ToUpper(ccy), now)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return decimal.Zero, false, err
		}
		rate, ok, err := e.Rate(ctx, ccy, now)
		if err != nil {
			return decimal.Zero, false, err
		}
		if !ok {
			continue
		}
		return secondary.Price.Mul(rate), true, nil
	}

	return decimal.Zero, false, nil
}

// MarketValue computes a position's market value in the reference
// currency, or indeterminate when no price is resolvable.
func (e *Engine) MarketValue(ctx context.Context, pos storage.Position, now time.Time) (decimal.Decimal, bool, error) {
	price, ok, err := e.AssetPrice(ctx, pos.AssetID, now)
	if err != nil || !ok {
		return decimal.Zero, ok, err
	}
	return price.Mul(pos.Coins), true, nil
}

// CostBasis converts the position's average cost to the reference
// currency. A stored cost currency equal to the reference needs no
// conversion; otherwise the FX preference chain applies, and an
// unresolvable rate yields indeterminate.
func (e *Engine) CostBasis(ctx context.Context, pos storage.Position, now time.Time) (decimal.Decimal, bool, error) {
	ccy := strings.ToUpper(pos.AvgCostCcy)
	if ccy == "" || ccy == e.refCcy {
		return pos.AvgCostPerUnit.Mul(pos.Coins), true, nil
	}
	rate, ok, err := e.Rate(ctx, ccy, now)
	if err != nil || !ok {
		return decimal.Zero, ok, err
	}
	return pos.AvgCostPerUnit.Mul(rate).Mul(pos.Coins), true, nil
}
