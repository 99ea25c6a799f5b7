package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process implementation of the store interfaces with
// the same visibility and ordering semantics as the Postgres Store. It backs
// the simulate command and the test suites.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64

	prices []PriceObservation
	fx     []FxObservation

	assets     []Asset
	portfolios []Portfolio
	positions  []Position
	targets    []Target
	alerts     []AlertRecord
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

func inRange(at, from, to time.Time) bool {
	return !at.Before(from) && at.Before(to)
}

func bucketStart(at time.Time, g Granularity) time.Time {
	at = at.UTC()
	switch g {
	case GranularityHour:
		return at.Truncate(time.Hour)
	default:
		return time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// AppendPrice inserts a price observation, silently ignoring duplicates of
// the same (asset, ccy, at).
func (m *MemoryStore) AppendPrice(ctx context.Context, obs PriceObservation) error {
	if err := validatePrice(obs); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.prices {
		if p.AssetID == obs.AssetID && p.Ccy == obs.Ccy && p.At.Equal(obs.At) {
			return nil
		}
	}
	obs.ID = m.id()
	m.prices = append(m.prices, obs)
	return nil
}

// AppendFx inserts an FX observation, silently ignoring duplicates of the
// same (base, quote, at).
func (m *MemoryStore) AppendFx(ctx context.Context, obs FxObservation) error {
	if err := validateFx(obs); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.fx {
		if f.BaseCcy == obs.BaseCcy && f.QuoteCcy == obs.QuoteCcy && f.At.Equal(obs.At) {
			return nil
		}
	}
	obs.ID = m.id()
	m.fx = append(m.fx, obs)
	return nil
}

// LatestPriceBefore returns the most recent price with at <= cutoff.
func (m *MemoryStore) LatestPriceBefore(ctx context.Context, assetID int64, ccy string, cutoff time.Time) (PriceObservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best  PriceObservation
		found bool
	)
	for _, p := range m.prices {
		if p.AssetID != assetID || p.Ccy != ccy || p.At.After(cutoff) {
			continue
		}
		if !found || p.At.After(best.At) || (p.At.Equal(best.At) && p.ID > best.ID) {
			best = p
			found = true
		}
	}
	if !found {
		return PriceObservation{}, ErrNotFound
	}
	return best, nil
}

// LatestFxBefore returns the most recent rate with at <= cutoff.
func (m *MemoryStore) LatestFxBefore(ctx context.Context, base, quote string, cutoff time.Time) (FxObservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best  FxObservation
		found bool
	)
	for _, f := range m.fx {
		if f.BaseCcy != base || f.QuoteCcy != quote || f.At.After(cutoff) {
			continue
		}
		if !found || f.At.After(best.At) || (f.At.Equal(best.At) && f.ID > best.ID) {
			best = f
			found = true
		}
	}
	if !found {
		return FxObservation{}, ErrNotFound
	}
	return best, nil
}

// ListPricesBetween lists prices with from <= at < to ordered by (at, id).
func (m *MemoryStore) ListPricesBetween(ctx context.Context, from, to time.Time) ([]PriceObservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PriceObservation, 0)
	for _, p := range m.prices {
		if inRange(p.At, from, to) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListFxBetween lists rates with from <= at < to ordered by (at, id).
func (m *MemoryStore) ListFxBetween(ctx context.Context, from, to time.Time) ([]FxObservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FxObservation, 0)
	for _, f := range m.fx {
		if inRange(f.At, from, to) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// HasPriceBetween reports whether any price exists with from <= at < to.
func (m *MemoryStore) HasPriceBetween(ctx context.Context, assetID int64, ccy string, from, to time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.prices {
		if p.AssetID == assetID && p.Ccy == ccy && inRange(p.At, from, to) {
			return true, nil
		}
	}
	return false, nil
}

// HasFxBetween reports whether any rate exists with from <= at < to.
func (m *MemoryStore) HasFxBetween(ctx context.Context, base, quote string, from, to time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.fx {
		if f.BaseCcy == base && f.QuoteCcy == quote && inRange(f.At, from, to) {
			return true, nil
		}
	}
	return false, nil
}

// DeletePrices removes the given price rows atomically.
func (m *MemoryStore) DeletePrices(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := m.prices[:0]
	for _, p := range m.prices {
		if _, ok := drop[p.ID]; !ok {
			kept = append(kept, p)
		}
	}
	m.prices = kept
	return nil
}

// DeleteFx removes the given fx rows atomically.
func (m *MemoryStore) DeleteFx(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := m.fx[:0]
	for _, f := range m.fx {
		if _, ok := drop[f.ID]; !ok {
			kept = append(kept, f)
		}
	}
	m.fx = kept
	return nil
}

// CountDistinctPriceBuckets counts distinct buckets with at least one
// observation since the cutoff.
func (m *MemoryStore) CountDistinctPriceBuckets(ctx context.Context, assetID int64, ccy string, since time.Time, g Granularity) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buckets := make(map[time.Time]struct{})
	for _, p := range m.prices {
		if p.AssetID == assetID && p.Ccy == ccy && !p.At.Before(since) {
			buckets[bucketStart(p.At, g)] = struct{}{}
		}
	}
	return len(buckets), nil
}

// CountDistinctFxBuckets counts distinct buckets with at least one
// observation since the cutoff.
func (m *MemoryStore) CountDistinctFxBuckets(ctx context.Context, base, quote string, since time.Time, g Granularity) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buckets := make(map[time.Time]struct{})
	for _, f := range m.fx {
		if f.BaseCcy == base && f.QuoteCcy == quote && !f.At.Before(since) {
			buckets[bucketStart(f.At, g)] = struct{}{}
		}
	}
	return len(buckets), nil
}

// ListActiveAssets returns active assets ordered by symbol.
func (m *MemoryStore) ListActiveAssets(ctx context.Context) ([]Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Asset, 0)
	for _, a := range m.assets {
		if a.Active {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// AssetBySymbol looks up one asset, ErrNotFound when absent.
func (m *MemoryStore) AssetBySymbol(ctx context.Context, symbol string) (Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assets {
		if strings.EqualFold(a.Symbol, symbol) {
			return a, nil
		}
	}
	return Asset{}, ErrNotFound
}

// UpsertAsset inserts or updates an asset keyed by symbol.
func (m *MemoryStore) UpsertAsset(ctx context.Context, asset Asset) (Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.assets {
		if strings.EqualFold(a.Symbol, asset.Symbol) {
			asset.ID = a.ID
			m.assets[i] = asset
			return asset, nil
		}
	}
	asset.ID = m.id()
	m.assets = append(m.assets, asset)
	return asset, nil
}

// EnsurePortfolio returns the named portfolio, creating it if missing.
func (m *MemoryStore) EnsurePortfolio(ctx context.Context, name, baseCurrency string) (Portfolio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.portfolios {
		if p.Name == name {
			return p, nil
		}
	}
	p := Portfolio{ID: m.id(), Name: name, BaseCurrency: baseCurrency}
	m.portfolios = append(m.portfolios, p)
	return p, nil
}

// PortfolioByName looks up one portfolio, ErrNotFound when absent.
func (m *MemoryStore) PortfolioByName(ctx context.Context, name string) (Portfolio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.portfolios {
		if p.Name == name {
			return p, nil
		}
	}
	return Portfolio{}, ErrNotFound
}

// ListPositions returns positions of active assets in a portfolio.
func (m *MemoryStore) ListPositions(ctx context.Context, portfolioID int64) ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	active := make(map[int64]bool, len(m.assets))
	for _, a := range m.assets {
		active[a.ID] = a.Active
	}
	out := make([]Position, 0)
	for _, pos := range m.positions {
		if pos.PortfolioID == portfolioID && active[pos.AssetID] {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertPosition inserts or updates a (portfolio, asset) position.
func (m *MemoryStore) UpsertPosition(ctx context.Context, pos Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos.AsOf.IsZero() {
		pos.AsOf = time.Now().UTC()
	}
	for i, existing := range m.positions {
		if existing.PortfolioID == pos.PortfolioID && existing.AssetID == pos.AssetID {
			pos.ID = existing.ID
			m.positions[i] = pos
			return nil
		}
	}
	pos.ID = m.id()
	m.positions = append(m.positions, pos)
	return nil
}

// ListTargets returns configured targets for a portfolio.
func (m *MemoryStore) ListTargets(ctx context.Context, portfolioID int64) ([]Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Target, 0)
	for _, t := range m.targets {
		if t.PortfolioID == portfolioID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertTarget inserts or updates a (portfolio, asset) target.
func (m *MemoryStore) UpsertTarget(ctx context.Context, target Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.targets {
		if existing.PortfolioID == target.PortfolioID && existing.AssetID == target.AssetID {
			target.ID = existing.ID
			m.targets[i] = target
			return nil
		}
	}
	target.ID = m.id()
	m.targets = append(m.targets, target)
	return nil
}

// InsertAlert appends an alert record.
func (m *MemoryStore) InsertAlert(ctx context.Context, rec AlertRecord) (AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	rec.ID = m.id()
	m.alerts = append(m.alerts, rec)
	return rec, nil
}

// LastAlertAt returns the most recent alert time for the triple.
func (m *MemoryStore) LastAlertAt(ctx context.Context, portfolioID, assetID int64, kind string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best  time.Time
		found bool
	)
	for _, rec := range m.alerts {
		if rec.PortfolioID == portfolioID && rec.AssetID == assetID && rec.Kind == kind {
			if !found || rec.At.After(best) {
				best = rec.At
				found = true
			}
		}
	}
	if !found {
		return time.Time{}, ErrNotFound
	}
	return best, nil
}

// ListRecentAlerts lists the most recent alert records.
func (m *MemoryStore) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AlertRecord, len(m.alerts))
	copy(out, m.alerts)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.After(out[j].At)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PriceCount reports the number of stored price rows.
func (m *MemoryStore) PriceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prices)
}

// FxCount reports the number of stored fx rows.
func (m *MemoryStore) FxCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fx)
}

var (
	_ SeriesStore   = (*MemoryStore)(nil)
	_ RegistryStore = (*MemoryStore)(nil)
	_ AlertStore    = (*MemoryStore)(nil)
)
