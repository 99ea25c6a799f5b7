package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"portfolio-balancer/internal/alerting"
	"portfolio-balancer/internal/config"
	"portfolio-balancer/internal/retention"
	"portfolio-balancer/internal/rules"
	"portfolio-balancer/internal/scheduler"
	"portfolio-balancer/internal/service"
	"portfolio-balancer/internal/storage"
	"portfolio-balancer/internal/valuation"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newSink() alerting.Sink {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	sinks := alerting.MultiSink{alerting.NewJSONLSink(a.Config.Alerting.LogPath)}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		sinks = append(sinks, alerting.NewTelegramSink(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}
	return sinks
}

func (a *App) rulesConfig() rules.Config {
	ladder := make([]decimal.Decimal, 0, len(a.Config.Rules.LadderMultiples))
	for _, m := range a.Config.Rules.LadderMultiples {
		ladder = append(ladder, decimal.NewFromFloat(m))
	}
	return rules.Config{
		Ladder:           ladder,
		Cooldown:         a.Config.Rules.Cooldown,
		SellFraction:     decimal.NewFromFloat(a.Config.Rules.SellFraction),
		DefaultDriftBand: decimal.NewFromFloat(a.Config.Rules.DriftBand),
		DefaultMinTrade:  decimal.NewFromFloat(a.Config.Rules.MinTradeUSD),
	}
}

// newService wires the cycle components over the given stores. The locker
// may be nil when the backing store offers no advisory locks.
func (a *App) newService(series storage.SeriesStore, registry storage.RegistryStore, alerts storage.AlertStore, locker storage.AdvisoryLocker, sched *scheduler.Scheduler, sink alerting.Sink) *service.Service {
	market := a.Config.Market
	val := valuation.New(series, registry, market.ReferenceCurrency, market.SecondaryCurrencies, market.BridgeSymbol, a.Logger)

	return service.New(service.Options{
		Scheduler:     sched,
		Compactor:     retention.NewCompactor(series, a.Logger),
		Repairer:      retention.NewRepairer(series, registry, market.ReferenceCurrency, market.FxBases, a.Logger),
		Rules:         rules.New(val, registry, alerts, sink, a.rulesConfig(), a.Logger),
		Registry:      registry,
		Locker:        locker,
		LockKey:       a.Config.Scheduler.AdvisoryLockKey,
		PortfolioName: a.Config.Portfolio.Name,
		BaseCurrency:  a.Config.Portfolio.BaseCurrency,
	}, a.Logger)
}

// Run executes the long-running cycle service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := a.newService(store, store, store, store, sched, a.newSink())

	a.Logger.Info().Msg("starting balancer service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("balancer service stopped")
	return nil
}

// CycleOnce executes exactly one compact-repair-evaluate pass and returns.
func (a *App) CycleOnce(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := a.newService(store, store, store, store, nil, a.newSink())
	return svc.ProcessCycle(ctx, time.Now().UTC())
}

// ExportOptions hold parameters for exporting a stored price series.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ImportOptions configure the positions import.
type ImportOptions struct {
	Path string
}
