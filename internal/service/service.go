package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"portfolio-balancer/internal/retention"
	"portfolio-balancer/internal/rules"
	"portfolio-balancer/internal/scheduler"
	"portfolio-balancer/internal/storage"
)

// Service orchestrates one maintenance cycle: compaction, gap repair, then
// rule evaluation. Every stage is idempotent, so overlapping schedule
// triggers are tolerated; the advisory lock merely avoids wasted work.
type Service struct {
	scheduler *scheduler.Scheduler
	compactor *retention.Compactor
	repairer  *retention.Repairer
	rules     *rules.Engine
	registry  storage.RegistryStore
	locker    storage.AdvisoryLocker
	lockKey   int64

	portfolioName string
	baseCurrency  string
	logger        zerolog.Logger
}

// Options wire the service's collaborators.
type Options struct {
	Scheduler     *scheduler.Scheduler
	Compactor     *retention.Compactor
	Repairer      *retention.Repairer
	Rules         *rules.Engine
	Registry      storage.RegistryStore
	Locker        storage.AdvisoryLocker
	LockKey       int64
	PortfolioName string
	BaseCurrency  string
}

// New constructs the cycle service.
func New(opts Options, logger zerolog.Logger) *Service {
	return &Service{
		scheduler:     opts.Scheduler,
		compactor:     opts.Compactor,
		repairer:      opts.Repairer,
		rules:         opts.Rules,
		registry:      opts.Registry,
		locker:        opts.Locker,
		lockKey:       opts.LockKey,
		portfolioName: opts.PortfolioName,
		baseCurrency:  opts.BaseCurrency,
		logger:        logger.With().Str("component", "service").Logger(),
	}
}

// Run begins the scheduled cycle loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessCycle)
}

// ProcessCycle executes one cycle under the advisory lock when one is
// configured.
func (s *Service) ProcessCycle(ctx context.Context, now time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("cycle", now).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeCycle(ctx, now)
}

func (s *Service) executeCycle(ctx context.Context, now time.Time) error {
	var errs []error

	if err := s.compactor.Run(ctx, now); err != nil {
		errs = append(errs, fmt.Errorf("compact: %w", err))
		s.logger.Error().Err(err).Time("cycle", now).Msg("compaction reported window failures")
	}

	if err := s.repairer.Run(ctx, now); err != nil {
		errs = append(errs, fmt.Errorf("repair: %w", err))
		s.logger.Error().Err(err).Time("cycle", now).Msg("gap repair reported failures")
	}

	portfolio, err := s.registry.PortfolioByName(ctx, s.portfolioName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn().Str("portfolio", s.portfolioName).Msg("portfolio not found; skipping rule evaluation")
			return errors.Join(errs...)
		}
		errs = append(errs, fmt.Errorf("load portfolio: %w", err))
		return errors.Join(errs...)
	}

	if err := s.rules.EvaluatePortfolio(ctx, portfolio, now); err != nil {
		errs = append(errs, fmt.Errorf("evaluate rules: %w", err))
		s.logger.Error().Err(err).Str("portfolio", portfolio.Name).Msg("rule evaluation reported failures")
	}

	s.logger.Info().Time("cycle", now).Str("portfolio", s.portfolioName).Msg("cycle complete")
	return errors.Join(errs...)
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
