package main

import (
	"fmt"
	"os"

	"github.com/Rhymond/go-money"
	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"folio/internal/config"
	"folio/internal/database"
	"folio/internal/ledger"
	"folio/internal/scheduler"
	"folio/internal/services"
)

// app bundles the services a command needs.
type app struct {
	cfg       *config.Config
	manager   *database.Manager
	accounts  services.AccountServicer
	ledger    services.LedgerServicer
	dashboard services.DashboardServicer
	cashflow  services.CashFlowServicer
}

func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	manager, err := database.NewManager(database.NewConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create database manager: %w", err)
	}

	db := manager.DB()
	opts := services.LedgerOptionsFromConfig(cfg)
	accounts := services.NewAccountService(db, cfg.DefaultCurrency)
	store := services.NewPositionStore(db, opts)

	return &app{
		cfg:       cfg,
		manager:   manager,
		accounts:  accounts,
		ledger:    services.NewLedgerService(db, store, accounts, ledger.NewEngine(nil)),
		dashboard: services.NewDashboardService(db, accounts, opts),
		cashflow:  services.NewCashFlowService(db, accounts),
	}, nil
}

func (a *app) scheduler() (*scheduler.Scheduler, error) {
	return scheduler.New(a.accounts, a.ledger, a.dashboard, a.cfg.RebuildSchedule, a.cfg.MaturitySchedule)
}

func (a *app) close() {
	if err := a.manager.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close database: %v\n", err)
	}
}

// withApp opens the application, runs fn and maps its error to an exit status.
func withApp(fn func(a *app) error) subcommands.ExitStatus {
	a, err := openApp()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer a.close()

	if err := fn(a); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// formatAmount renders d in the account currency, falling back to the plain
// decimal when the currency is unknown.
func formatAmount(d decimal.Decimal, code string) string {
	currency := money.GetCurrency(code)
	if currency == nil {
		return d.StringFixed(2) + " " + code
	}
	minor := d.Shift(int32(currency.Fraction)).Round(0).IntPart()
	return money.New(minor, code).Display()
}
