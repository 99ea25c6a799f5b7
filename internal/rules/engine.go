// Package rules evaluates take-profit and drift-rebalance conditions per
// position and emits cooldown-gated alerts.
package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"portfolio-balancer/internal/alerting"
	"portfolio-balancer/internal/storage"
	"portfolio-balancer/internal/valuation"
)

// ErrBadConfig marks a configuration problem that is fatal for one
// portfolio's evaluation but leaves other portfolios unaffected.
var ErrBadConfig = errors.New("rules: invalid configuration")

// Config carries rule evaluation settings.
type Config struct {
	// Ladder is the take-profit value-multiple thresholds, each tracked
	// under its own alert kind.
	Ladder []decimal.Decimal
	// Cooldown is the minimum time between two alerts of the same kind
	// for the same (portfolio, asset).
	Cooldown time.Duration
	// SellFraction is the suggested partial-sale fraction of current
	// holdings.
	SellFraction decimal.Decimal
	// DefaultDriftBand applies when a target carries no band of its own.
	DefaultDriftBand decimal.Decimal
	// DefaultMinTrade suppresses rebalance suggestions smaller than this
	// value in the reference currency.
	DefaultMinTrade decimal.Decimal
}

// Engine evaluates rules for one portfolio per call. It keeps no state
// between cycles: cooldown eligibility is re-derived from the alert store
// on every evaluation, so concurrent or restarted evaluators agree.
type Engine struct {
	valuation *valuation.Engine
	registry  storage.RegistryStore
	alerts    storage.AlertStore
	sink      alerting.Sink
	cfg       Config
	logger    zerolog.Logger
}

// New constructs a rule Engine.
func New(val *valuation.Engine, registry storage.RegistryStore, alerts storage.AlertStore, sink alerting.Sink, cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{
		valuation: val,
		registry:  registry,
		alerts:    alerts,
		sink:      sink,
		cfg:       cfg,
		logger:    logger.With().Str("component", "rules").Logger(),
	}
}

// EvaluatePortfolio runs the take-profit ladder per held position and the
// joint drift evaluation. Per-position data gaps are skipped; structural
// failures are collected and returned without aborting sibling positions.
func (e *Engine) EvaluatePortfolio(ctx context.Context, portfolio storage.Portfolio, now time.Time) error {
	if e.cfg.Cooldown <= 0 {
		return fmt.Errorf("%w: cooldown must be positive", ErrBadConfig)
	}

	positions, err := e.registry.ListPositions(ctx, portfolio.ID)
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}
	symbols, err := e.assetSymbols(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, pos := range positions {
		if err := e.evaluateTakeProfit(ctx, portfolio, pos, symbols, now); err != nil {
			errs = append(errs, fmt.Errorf("take profit asset=%d: %w", pos.AssetID, err))
		}
	}
	if err := e.evaluateDrift(ctx, portfolio, positions, symbols, now); err != nil {
		errs = append(errs, fmt.Errorf("drift: %w", err))
	}
	return errors.Join(errs...)
}

func (e *Engine) assetSymbols(ctx context.Context) (map[int64]string, error) {
	assets, err := e.registry.ListActiveAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active assets: %w", err)
	}
	out := make(map[int64]string, len(assets))
	for _, a := range assets {
		out[a.ID] = a.Symbol
	}
	return out, nil
}

func ladderKind(multiple decimal.Decimal) string {
	return fmt.Sprintf("take_profit_%sx_value", multiple.Truncate(0).String())
}

func (e *Engine) evaluateTakeProfit(ctx context.Context, portfolio storage.Portfolio, pos storage.Position, symbols map[int64]string, now time.Time) error {
	if !pos.Coins.IsPositive() {
		return nil
	}

	mv, okMV, err := e.valuation.MarketValue(ctx, pos, now)
	if err != nil {
		return err
	}
	cb, okCB, err := e.valuation.CostBasis(ctx, pos, now)
	if err != nil {
		return err
	}
	if !okMV || !okCB || !cb.IsPositive() {
		// indeterminate or free position: nothing to ladder against
		return nil
	}

	multiple := mv.Div(cb)
	for _, threshold := range e.cfg.Ladder {
		if multiple.LessThan(threshold) {
			continue
		}
		kind := ladderKind(threshold)
		cooled, err := e.withinCooldown(ctx, portfolio.ID, pos.AssetID, kind, now)
		if err != nil {
			return err
		}
		if cooled {
			continue
		}

		qty := pos.Coins.Mul(e.cfg.SellFraction)
		if _, err := e.alerts.InsertAlert(ctx, storage.AlertRecord{
			PortfolioID: portfolio.ID,
			AssetID:     pos.AssetID,
			Kind:        kind,
			Message:     "suggested take profit",
			Severity:    "info",
			At:          now,
		}); err != nil {
			return err
		}

		symbol := symbols[pos.AssetID]
		e.emit(ctx, alerting.Event{
			At:       now,
			Kind:     "take_profit",
			Severity: "info",
			Message: fmt.Sprintf("%s: Value >= %sx cost. Consider selling %s%% (~%s units)",
				symbol, threshold.Truncate(0).String(), e.cfg.SellFraction.Mul(decimal.NewFromInt(100)).Truncate(0).String(), qty.StringFixed(6)),
			Payload: map[string]any{
				"portfolio_id":  portfolio.ID,
				"asset_id":      pos.AssetID,
				"symbol":        symbol,
				"multiple":      threshold.InexactFloat64(),
				"qty_suggested": qty.InexactFloat64(),
				"mv":            mv.InexactFloat64(),
				"cb":            cb.InexactFloat64(),
			},
		})
	}
	return nil
}

func (e *Engine) evaluateDrift(ctx context.Context, portfolio storage.Portfolio, positions []storage.Position, symbols map[int64]string, now time.Time) error {
	targets, err := e.registry.ListTargets(ctx, portfolio.ID)
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}
	if len(targets) == 0 {
		return nil
	}
	targetByAsset := make(map[int64]storage.Target, len(targets))
	for _, t := range targets {
		targetByAsset[t.AssetID] = t
	}

	mvByAsset := make(map[int64]decimal.Decimal, len(positions))
	total := decimal.Zero
	for _, pos := range positions {
		mv, ok, err := e.valuation.MarketValue(ctx, pos, now)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		mvByAsset[pos.AssetID] = mv
		total = total.Add(mv)
	}
	if !total.IsPositive() {
		return nil
	}

	for _, pos := range positions {
		target, ok := targetByAsset[pos.AssetID]
		if !ok {
			continue
		}

		band := target.DriftBand
		if !band.IsPositive() {
			band = e.cfg.DefaultDriftBand
		}
		if !band.IsPositive() {
			return fmt.Errorf("%w: drift band must be positive for asset %d", ErrBadConfig, pos.AssetID)
		}
		minTrade := target.MinTradeUSD
		if !minTrade.IsPositive() {
			minTrade = e.cfg.DefaultMinTrade
		}

		value := mvByAsset[pos.AssetID]
		actualWeight := value.Div(total)
		drift := actualWeight.Sub(target.TargetWeight)
		if drift.Abs().LessThan(band) {
			continue
		}

		targetValue := target.TargetWeight.Mul(total)
		tradeValue := targetValue.Sub(value)
		if tradeValue.Abs().LessThan(minTrade) {
			continue
		}

		side := "SELL"
		if tradeValue.IsPositive() {
			side = "BUY"
		}
		price, okPrice, err := e.valuation.AssetPrice(ctx, pos.AssetID, now)
		if err != nil {
			return err
		}
		qty := decimal.Zero
		if okPrice && price.IsPositive() {
			qty = tradeValue.Abs().Div(price)
		}

		if _, err := e.alerts.InsertAlert(ctx, storage.AlertRecord{
			PortfolioID: portfolio.ID,
			AssetID:     pos.AssetID,
			Kind:        "rebalance_suggested",
			Message:     "suggested rebalance",
			Severity:    "info",
			At:          now,
		}); err != nil {
			return err
		}

		symbol := symbols[pos.AssetID]
		e.emit(ctx, alerting.Event{
			At:       now,
			Kind:     "rebalance",
			Severity: "info",
			Message: fmt.Sprintf("%s: Drift %s%%. %s ~$%s (~%s units)",
				symbol, drift.Mul(decimal.NewFromInt(100)).StringFixed(2), side, tradeValue.Abs().StringFixed(2), qty.StringFixed(6)),
			Payload: map[string]any{
				"portfolio_id":  portfolio.ID,
				"asset_id":      pos.AssetID,
				"symbol":        symbol,
				"drift":         drift.InexactFloat64(),
				"side":          side,
				"trade_value":   tradeValue.Abs().InexactFloat64(),
				"qty_suggested": qty.InexactFloat64(),
			},
		})
	}
	return nil
}

func (e *Engine) withinCooldown(ctx context.Context, portfolioID, assetID int64, kind string, now time.Time) (bool, error) {
	last, err := e.alerts.LastAlertAt(ctx, portfolioID, assetID, kind)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return now.Sub(last) < e.cfg.Cooldown, nil
}

// emit delivers the event best-effort: the alert record is the source of
// truth, a lost message is acceptable.
func (e *Engine) emit(ctx context.Context, event alerting.Event) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Emit(ctx, event); err != nil {
		e.logger.Error().Err(err).Str("kind", event.Kind).Msg("failed to deliver alert event")
	}
}
