package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"folio/internal/cashflow"
	"folio/internal/database"
	"folio/internal/logger"
	"folio/internal/models"
	"folio/internal/uuid"
)

type migrateCmd struct{}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "apply, roll back or inspect schema migrations" }
func (*migrateCmd) Usage() string {
	return `folio migrate <up|down|version> [N]

  up applies every pending migration. down rolls back N migrations
  (default 1). version prints the current schema version. SQLite
  databases only support up, which migrates from the models.
`
}
func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (*migrateCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	command := f.Arg(0)

	return withApp(func(a *app) error {
		log := logger.Get()

		if command == "up" {
			return a.manager.RunMigrations()
		}
		if a.cfg.DBDriver != database.DriverPostgres {
			return fmt.Errorf("%s is only supported for the %s driver", command, database.DriverPostgres)
		}

		m, err := a.manager.Migrator()
		if err != nil {
			return err
		}
		defer database.CloseMigrator(m)

		switch command {
		case "down":
			steps := 1
			if f.NArg() > 1 {
				steps, err = strconv.Atoi(f.Arg(1))
				if err != nil {
					return fmt.Errorf("invalid step count: %w", err)
				}
			}
			if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migration down failed: %w", err)
			}
			log.Infof("Rolled back %d migration(s)", steps)

		case "version":
			version, dirty, err := m.Version()
			if err != nil {
				return fmt.Errorf("failed to get version: %w", err)
			}
			log.Infof("Version: %d, Dirty: %v", version, dirty)

		default:
			return fmt.Errorf("unknown command: %s (use up, down, or version)", command)
		}
		return nil
	})
}

type accountsCmd struct {
	create   string
	currency string
}

func (*accountsCmd) Name() string     { return "accounts" }
func (*accountsCmd) Synopsis() string { return "list accounts or create a new one" }
func (*accountsCmd) Usage() string {
	return `folio accounts [-create <name> [-currency <code>]]
`
}

func (c *accountsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.create, "create", "", "Name of an account to create.")
	f.StringVar(&c.currency, "currency", "", "ISO 4217 base currency of the new account.")
}

func (c *accountsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(func(a *app) error {
		if c.create != "" {
			account, err := a.accounts.CreateAccount(ctx, c.create, c.currency)
			if err != nil {
				return err
			}
			fmt.Println(account.ID)
			return nil
		}

		accounts, err := a.accounts.ListAccounts(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCURRENCY\tREVISION")
		for _, acc := range accounts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", acc.ID, acc.Name, acc.BaseCurrency, acc.Revision)
		}
		return w.Flush()
	})
}

type settleCmd struct {
	account string
	asOf    string
}

func (*settleCmd) Name() string     { return "settle" }
func (*settleCmd) Synopsis() string { return "settle matured debt instruments of an account" }
func (*settleCmd) Usage() string {
	return `folio settle -account <id> [-asof YYYY-MM-DD]
`
}

func (c *settleCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.account, "account", "", "Account ID.")
	f.StringVar(&c.asOf, "asof", "", "Settlement date (defaults to today).")
}

func (c *settleCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !uuid.IsValid(c.account) {
		f.Usage()
		return subcommands.ExitUsageError
	}
	asOf := time.Now().UTC()
	if c.asOf != "" {
		d, err := cashflow.ParseDate(c.asOf)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitUsageError
		}
		asOf = d
	}

	return withApp(func(a *app) error {
		settled, err := a.ledger.SettleMaturedDebts(ctx, c.account, asOf)
		for _, tx := range settled {
			fmt.Printf("%s\t%s\t%s\n", tx.PositionID, tx.Date.Format(cashflow.DateLayout), tx.Amount)
		}
		return err
	})
}

type rebuildCmd struct {
	account string
	show    bool
}

func (*rebuildCmd) Name() string     { return "rebuild" }
func (*rebuildCmd) Synopsis() string { return "rebuild dashboard aggregates from the transaction log" }
func (*rebuildCmd) Usage() string {
	return `folio rebuild [-account <id>] [-show]

  Without -account every account is rebuilt. With -show the stored
  aggregate is printed and nothing is rebuilt.
`
}

func (c *rebuildCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.account, "account", "", "Account ID (defaults to all accounts).")
	f.BoolVar(&c.show, "show", false, "Print the stored aggregate instead of rebuilding.")
}

func (c *rebuildCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if (c.show && c.account == "") || (c.account != "" && !uuid.IsValid(c.account)) {
		f.Usage()
		return subcommands.ExitUsageError
	}

	return withApp(func(a *app) error {
		if c.account == "" {
			s, err := a.scheduler()
			if err != nil {
				return err
			}
			return s.RebuildAll(ctx)
		}

		account, err := a.accounts.GetAccount(ctx, c.account)
		if err != nil {
			return err
		}

		if c.show {
			agg, err := a.dashboard.Get(ctx, c.account)
			if err != nil {
				return err
			}
			printAggregate(agg, account.BaseCurrency)
			return nil
		}

		result, err := a.dashboard.Rebuild(ctx, c.account)
		if err != nil {
			return err
		}
		printAggregate(&result.Aggregate, account.BaseCurrency)
		if result.Drifted {
			fmt.Println("stored aggregate had drifted and was repaired")
		}
		if !result.CrossCheck.Consistent() {
			fmt.Printf("positions disagree with the ledger by %s\n", result.CrossCheck.Drift)
		}
		return nil
	})
}

func printAggregate(agg *models.DashboardAggregate, currency string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	rows := []struct {
		label string
		value decimal.Decimal
	}{
		{"Total invested", agg.TotalInvested},
		{"Realized P&L", agg.TotalRealizedPnL},
		{"Cash balance", agg.TotalCashBalance},
		{"Matured debt", agg.TotalMaturedDebt},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t\n", r.label, formatAmount(r.value, currency))
	}
	_ = w.Flush()
}

type cashflowCmd struct {
	account string
	month   string
}

func (*cashflowCmd) Name() string     { return "cashflow" }
func (*cashflowCmd) Synopsis() string { return "print the monthly cash-flow summary of an account" }
func (*cashflowCmd) Usage() string {
	return `folio cashflow -account <id> [-month YYYY-MM]
`
}

func (c *cashflowCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.account, "account", "", "Account ID.")
	f.StringVar(&c.month, "month", "", "Month to summarize (defaults to the current month).")
}

func (c *cashflowCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !uuid.IsValid(c.account) {
		f.Usage()
		return subcommands.ExitUsageError
	}
	month := time.Now().UTC()
	if c.month != "" {
		m, err := cashflow.ParseMonth(c.month)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitUsageError
		}
		month = m
	}

	return withApp(func(a *app) error {
		account, err := a.accounts.GetAccount(ctx, c.account)
		if err != nil {
			return err
		}
		sum, err := a.cashflow.Summarize(ctx, c.account, month)
		if err != nil {
			return err
		}

		cur := account.BaseCurrency
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintf(w, "Cash flow %s\t\t\n", sum.Month)
		fmt.Fprintf(w, "Salary\t%s\t\n", formatAmount(sum.Income.Salary, cur))
		fmt.Fprintf(w, "Other fixed income\t%s\t\n", formatAmount(sum.Income.OtherFixedIncome, cur))
		fmt.Fprintf(w, "Manual income\t%s\t\n", formatAmount(sum.Income.ManualIncome, cur))
		fmt.Fprintf(w, "Projected interest\t%s\t\n", formatAmount(sum.Income.ProjectedInterest, cur))
		fmt.Fprintf(w, "Total income\t%s\t\n", formatAmount(sum.TotalIncome, cur))
		fmt.Fprintf(w, "Zakat\t%s\t\n", formatAmount(sum.Expenses.Zakat, cur))
		fmt.Fprintf(w, "Charity\t%s\t\n", formatAmount(sum.Expenses.Charity, cur))
		fmt.Fprintf(w, "Living expenses\t%s\t\n", formatAmount(sum.Expenses.LivingExpenses, cur))
		fmt.Fprintf(w, "Other fixed expenses\t%s\t\n", formatAmount(sum.Expenses.OtherFixedExpenses, cur))
		fmt.Fprintf(w, "Itemized expenses\t%s\t\n", formatAmount(sum.Expenses.ItemizedExpenses, cur))
		fmt.Fprintf(w, "Total expenses\t%s\t\n", formatAmount(sum.TotalExpenses, cur))
		fmt.Fprintf(w, "Stocks\t%s\t\n", formatAmount(sum.Investments.Stocks, cur))
		fmt.Fprintf(w, "Debt\t%s\t\n", formatAmount(sum.Investments.Debt, cur))
		fmt.Fprintf(w, "Gold\t%s\t\n", formatAmount(sum.Investments.Gold, cur))
		fmt.Fprintf(w, "Currency\t%s\t\n", formatAmount(sum.Investments.Currency, cur))
		fmt.Fprintf(w, "Real estate\t%s\t\n", formatAmount(sum.Investments.RealEstate, cur))
		fmt.Fprintf(w, "Total investments\t%s\t\n", formatAmount(sum.TotalInvestments, cur))
		fmt.Fprintf(w, "Net cash flow\t%s\t\n", formatAmount(sum.NetCashFlow, cur))
		if err := w.Flush(); err != nil {
			return err
		}
		for _, ex := range sum.Excluded {
			fmt.Fprintf(os.Stderr, "excluded %s %s: %s\n", ex.Kind, ex.ID, ex.Reason)
		}
		return nil
	})
}

type scheduleCmd struct{}

func (*scheduleCmd) Name() string     { return "schedule" }
func (*scheduleCmd) Synopsis() string { return "run the maturity and rebuild jobs until interrupted" }
func (*scheduleCmd) Usage() string {
	return `folio schedule

  Runs matured-debt settlement on MATURITY_SCHEDULE and dashboard
  rebuilds on REBUILD_SCHEDULE until SIGINT or SIGTERM.
`
}
func (*scheduleCmd) SetFlags(*flag.FlagSet) {}

func (*scheduleCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(func(a *app) error {
		s, err := a.scheduler()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		s.Start()
		<-ctx.Done()

		logger.Get().Info("Shutting down scheduler...")
		<-s.Stop().Done()
		return nil
	})
}
