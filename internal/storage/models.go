package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Granularity selects the bucket size for coverage queries.
type Granularity string

const (
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
)

// Asset is a tradeable asset in the registry. Immutable once resolved
// except for flag corrections.
type Asset struct {
	ID       int64
	Symbol   string
	Name     string
	IsStable bool
	IsFiat   bool
	Active   bool
}

// Portfolio groups positions under a base currency.
type Portfolio struct {
	ID           int64
	Name         string
	BaseCurrency string
}

// Position holds the quantity and average cost of one asset within a
// portfolio. The core reads positions but never mutates them.
type Position struct {
	ID             int64
	PortfolioID    int64
	AssetID        int64
	Coins          decimal.Decimal
	AvgCostCcy     string
	AvgCostPerUnit decimal.Decimal
	AsOf           time.Time
}

// Target is the desired weight configuration for a (portfolio, asset) pair.
type Target struct {
	ID           int64
	PortfolioID  int64
	AssetID      int64
	TargetWeight decimal.Decimal
	DriftBand    decimal.Decimal
	MinTradeUSD  decimal.Decimal
}

// PriceObservation is one append-only price sample. ID reflects insertion
// order and breaks ties between observations sharing a timestamp.
type PriceObservation struct {
	ID      int64
	AssetID int64
	Ccy     string
	Price   decimal.Decimal
	At      time.Time
}

// FxObservation is one append-only exchange rate sample, keyed by
// (base, quote, at).
type FxObservation struct {
	ID       int64
	BaseCcy  string
	QuoteCcy string
	Rate     decimal.Decimal
	At       time.Time
}

// AlertRecord is the durable trace of a fired rule, used to enforce
// cooldowns. Rows are append-only per (portfolio, asset, kind).
type AlertRecord struct {
	ID          int64
	PortfolioID int64
	AssetID     int64
	Kind        string
	Message     string
	Severity    string
	At          time.Time
}
