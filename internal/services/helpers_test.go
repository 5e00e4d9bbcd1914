package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"folio/internal/ledger"
	"folio/internal/models"
	"folio/internal/testutil"
)

type testServices struct {
	accounts  AccountServicer
	store     *positionStore
	ledger    LedgerServicer
	records   RecordsServicer
	dashboard DashboardServicer
	cashflow  CashFlowServicer
}

func testLedgerOptions() LedgerOptions {
	return LedgerOptions{MaxRetries: 3, RetryBase: time.Millisecond, TxTimeout: 5 * time.Second}
}

func newTestServices(db *gorm.DB) testServices {
	opts := testLedgerOptions()
	accounts := NewAccountService(db, "EGP")
	store := NewPositionStore(db, opts).(*positionStore)
	engine := ledger.NewEngine(func() time.Time { return testutil.Date(2024, 6, 1) })
	return testServices{
		accounts:  accounts,
		store:     store,
		ledger:    NewLedgerService(db, store, accounts, engine),
		records:   NewRecordsService(db, opts),
		dashboard: NewDashboardService(db, accounts, opts),
		cashflow:  NewCashFlowService(db, accounts),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func openSecurity(t *testing.T, svc testServices, accountID, units, price, fees string) *models.Position {
	t.Helper()

	pos, err := svc.ledger.OpenPosition(context.Background(), OpenPositionRequest{
		AccountID:  accountID,
		AssetClass: models.AssetClassSecurity,
		Name:       "Commercial International Bank",
		Symbol:     "COMI",
		Date:       testutil.Date(2024, 1, 10),
		Units:      dec(units),
		UnitPrice:  dec(price),
		Fees:       dec(fees),
	})
	testutil.AssertNoError(t, err)
	return pos
}

// openContract opens a quarterly contract of 5000 installments from
// 2024-03-10 with a price of 20000 plus the down payment.
func openContract(t *testing.T, svc testServices, accountID, downPayment string) *models.Position {
	t.Helper()

	first := testutil.Date(2024, 3, 10)
	dp := dec(downPayment)
	pos, err := svc.ledger.OpenPosition(context.Background(), OpenPositionRequest{
		AccountID:            accountID,
		AssetClass:           models.AssetClassRealEstate,
		Name:                 "New Cairo apartment",
		PropertyType:         "apartment",
		Date:                 testutil.Date(2024, 1, 1),
		InstallmentFrequency: models.FrequencyQuarterly,
		InstallmentAmount:    dec("5000"),
		TotalContractPrice:   dec("20000").Add(dp),
		FirstInstallmentDate: &first,
		DownPayment:          dp,
	})
	testutil.AssertNoError(t, err)
	return pos
}

func openDebt(t *testing.T, svc testServices, accountID, amount string, maturity time.Time) *models.Position {
	t.Helper()

	pos, err := svc.ledger.OpenPosition(context.Background(), OpenPositionRequest{
		AccountID:         accountID,
		AssetClass:        models.AssetClassDebtInstrument,
		Name:              "Three-year certificate",
		DebtKind:          "certificate",
		Date:              testutil.Date(2023, 6, 1),
		Units:             dec("1"),
		Amount:            dec(amount),
		InterestRate:      dec("19.5"),
		MaturityDate:      &maturity,
		InterestFrequency: models.FrequencyMonthly,
	})
	testutil.AssertNoError(t, err)
	return pos
}

func aggregateOf(t *testing.T, svc testServices, accountID string) *models.DashboardAggregate {
	t.Helper()

	agg, err := svc.dashboard.Get(context.Background(), accountID)
	testutil.AssertNoError(t, err)
	return agg
}

func countTransactions(db *gorm.DB, accountID string) int64 {
	var n int64
	db.Model(&models.Transaction{}).Where("account_id = ?", accountID).Count(&n)
	return n
}

func intPtr(n int) *int {
	return &n
}
