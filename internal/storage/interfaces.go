package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates no row satisfies the lookup. Callers treat it
	// as "indeterminate", not as a failure.
	ErrNotFound = errors.New("storage: not found")
	// ErrMalformedObservation indicates an observation failed structural
	// validation at append time.
	ErrMalformedObservation = errors.New("storage: malformed observation")
)

// SeriesStore defines operations over the append-only price and FX logs.
// Duplicate (key, timestamp) appends are silently ignored. Delete calls
// remove an entire id set in a single statement so callers get per-window
// atomicity.
type SeriesStore interface {
	AppendPrice(ctx context.Context, obs PriceObservation) error
	AppendFx(ctx context.Context, obs FxObservation) error
	LatestPriceBefore(ctx context.Context, assetID int64, ccy string, cutoff time.Time) (PriceObservation, error)
	LatestFxBefore(ctx context.Context, base, quote string, cutoff time.Time) (FxObservation, error)
	ListPricesBetween(ctx context.Context, from, to time.Time) ([]PriceObservation, error)
	ListFxBetween(ctx context.Context, from, to time.Time) ([]FxObservation, error)
	HasPriceBetween(ctx context.Context, assetID int64, ccy string, from, to time.Time) (bool, error)
	HasFxBetween(ctx context.Context, base, quote string, from, to time.Time) (bool, error)
	DeletePrices(ctx context.Context, ids []int64) error
	DeleteFx(ctx context.Context, ids []int64) error
	CountDistinctPriceBuckets(ctx context.Context, assetID int64, ccy string, since time.Time, g Granularity) (int, error)
	CountDistinctFxBuckets(ctx context.Context, base, quote string, since time.Time, g Granularity) (int, error)
}

// RegistryStore exposes the asset/position/target registry. The core reads
// it as a point-in-time snapshot per cycle; upserts exist for the import
// path only.
type RegistryStore interface {
	ListActiveAssets(ctx context.Context) ([]Asset, error)
	AssetBySymbol(ctx context.Context, symbol string) (Asset, error)
	UpsertAsset(ctx context.Context, asset Asset) (Asset, error)
	EnsurePortfolio(ctx context.Context, name, baseCurrency string) (Portfolio, error)
	PortfolioByName(ctx context.Context, name string) (Portfolio, error)
	ListPositions(ctx context.Context, portfolioID int64) ([]Position, error)
	UpsertPosition(ctx context.Context, pos Position) error
	ListTargets(ctx context.Context, portfolioID int64) ([]Target, error)
	UpsertTarget(ctx context.Context, target Target) error
}

// AlertStore defines operations for the append-only alert trace.
type AlertStore interface {
	InsertAlert(ctx context.Context, rec AlertRecord) (AlertRecord, error)
	LastAlertAt(ctx context.Context, portfolioID, assetID int64, kind string) (time.Time, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

func validatePrice(obs PriceObservation) error {
	if obs.At.IsZero() {
		return ErrMalformedObservation
	}
	if obs.AssetID == 0 || obs.Ccy == "" {
		return ErrMalformedObservation
	}
	if obs.Price.IsNegative() {
		return ErrMalformedObservation
	}
	return nil
}

func validateFx(obs FxObservation) error {
	if obs.At.IsZero() {
		return ErrMalformedObservation
	}
	if obs.BaseCcy == "" || obs.QuoteCcy == "" {
		return ErrMalformedObservation
	}
	if obs.Rate.IsNegative() {
		return ErrMalformedObservation
	}
	return nil
}
