// Package scheduler runs the periodic ledger jobs: settling matured debt
// instruments and rebuilding dashboard aggregates for every account.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"folio/internal/logger"
	"folio/internal/services"
)

// Scheduler owns the cron runner and the services its jobs call.
type Scheduler struct {
	cron      *cron.Cron
	accounts  services.AccountServicer
	ledger    services.LedgerServicer
	dashboard services.DashboardServicer
	now       func() time.Time
	timeout   time.Duration
	log       *zap.SugaredLogger
}

// New registers the rebuild and maturity jobs on the given cron specs.
func New(accounts services.AccountServicer, ledger services.LedgerServicer, dashboard services.DashboardServicer, rebuildSpec, maturitySpec string) (*Scheduler, error) {
	log := logger.Named("scheduler")
	cl := cronLogger{log: log}

	s := &Scheduler{
		cron:      cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		accounts:  accounts,
		ledger:    ledger,
		dashboard: dashboard,
		now:       time.Now,
		timeout:   10 * time.Minute,
		log:       log,
	}

	if _, err := s.cron.AddFunc(maturitySpec, s.job("settle_matured", s.SettleMatured)); err != nil {
		return nil, fmt.Errorf("invalid maturity schedule %q: %w", maturitySpec, err)
	}
	if _, err := s.cron.AddFunc(rebuildSpec, s.job("rebuild_dashboards", s.RebuildAll)); err != nil {
		return nil, fmt.Errorf("invalid rebuild schedule %q: %w", rebuildSpec, err)
	}

	return s, nil
}

// Start runs the cron loop in the background.
func (s *Scheduler) Start() {
	s.log.Infow("scheduler started", "jobs", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop halts the cron loop and returns a context that is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// SettleMatured settles matured debt for every account as of today.
func (s *Scheduler) SettleMatured(ctx context.Context) error {
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return err
	}

	asOf := s.now()
	var errs []error
	for _, account := range accounts {
		settled, err := s.ledger.SettleMaturedDebts(ctx, account.ID, asOf)
		if err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", account.ID, err))
		}
		if len(settled) > 0 {
			s.log.Infow("matured debt settled", "account_id", account.ID, "count", len(settled))
		}
	}
	return errors.Join(errs...)
}

// RebuildAll rebuilds the dashboard aggregate of every account.
func (s *Scheduler) RebuildAll(ctx context.Context) error {
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return err
	}

	var errs []error
	drifted := 0
	for _, account := range accounts {
		result, err := s.dashboard.Rebuild(ctx, account.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", account.ID, err))
			continue
		}
		if result.Drifted {
			drifted++
		}
	}
	s.log.Infow("dashboards rebuilt", "accounts", len(accounts), "drifted", drifted)
	return errors.Join(errs...)
}

func (s *Scheduler) job(name string, fn func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		start := time.Now()
		if err := fn(ctx); err != nil {
			s.log.Errorw("job failed", "job", name, "error", err)
			return
		}
		s.log.Debugw("job finished", "job", name, "took", time.Since(start))
	}
}

// cronLogger adapts the zap logger to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
