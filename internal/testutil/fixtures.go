package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"folio/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// counter provides unique values across fixtures within a test run.
var counter atomic.Int64

func nextID() int64 {
	return counter.Add(1)
}

// Date returns midnight UTC of the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// CreateTestAccount creates an account with a unique name.
func CreateTestAccount(t *testing.T, db *gorm.DB) *models.Account {
	t.Helper()

	account := &models.Account{
		Name:         fmt.Sprintf("Test Account %d", nextID()),
		BaseCurrency: "EGP",
	}
	if err := db.Create(account).Error; err != nil {
		t.Fatalf("failed to create test account: %v", err)
	}
	return account
}

// CreateTestSecurityPosition creates an open security position holding
// units at the given total cost. No transactions are written.
func CreateTestSecurityPosition(t *testing.T, db *gorm.DB, accountID string, units, invested int64) *models.Position {
	t.Helper()

	u := decimal.NewFromInt(units)
	inv := decimal.NewFromInt(invested)
	avg := decimal.Zero
	if units > 0 {
		avg = inv.DivRound(u, 8)
	}

	pos := &models.Position{
		AccountID:       accountID,
		AssetClass:      models.AssetClassSecurity,
		Name:            fmt.Sprintf("Security %d", nextID()),
		Currency:        "EGP",
		Symbol:          "TST",
		TotalUnits:      u,
		TotalInvested:   inv,
		AverageUnitCost: avg,
		OpeningCost:     inv,
		FirstAcquiredAt: Date(2024, 1, 10),
		LastUpdatedAt:   Date(2024, 1, 10),
	}
	if err := db.Create(pos).Error; err != nil {
		t.Fatalf("failed to create test security position: %v", err)
	}
	return pos
}

// CreateTestRealEstatePosition creates a real-estate contract with a
// quarterly schedule of unpaid installments of 5000 each.
func CreateTestRealEstatePosition(t *testing.T, db *gorm.DB, accountID string, installments int) *models.Position {
	t.Helper()

	first := Date(2024, 3, 10)
	pos := &models.Position{
		AccountID:            accountID,
		AssetClass:           models.AssetClassRealEstate,
		Name:                 fmt.Sprintf("Unit %d", nextID()),
		Currency:             "EGP",
		TotalUnits:           decimal.NewFromInt(1),
		FirstAcquiredAt:      Date(2024, 1, 1),
		LastUpdatedAt:        Date(2024, 1, 1),
		InstallmentFrequency: models.FrequencyQuarterly,
		InstallmentAmount:    decimal.NewFromInt(5000),
		TotalContractPrice:   decimal.NewFromInt(int64(5000 * installments)),
		FirstInstallmentDate: &first,
	}
	for i := 1; i <= installments; i++ {
		pos.Installments = append(pos.Installments, models.Installment{
			Number:  i,
			DueDate: first.AddDate(0, 3*(i-1), 0),
			Amount:  decimal.NewFromInt(5000),
			Status:  models.InstallmentUnpaid,
		})
	}
	if err := db.Create(pos).Error; err != nil {
		t.Fatalf("failed to create test real estate position: %v", err)
	}
	return pos
}

// CreateTestDebtPosition creates an open debt instrument maturing on maturity.
func CreateTestDebtPosition(t *testing.T, db *gorm.DB, accountID string, invested int64, rate string, maturity time.Time) *models.Position {
	t.Helper()

	pos := &models.Position{
		AccountID:         accountID,
		AssetClass:        models.AssetClassDebtInstrument,
		Name:              fmt.Sprintf("Certificate %d", nextID()),
		Currency:          "EGP",
		TotalUnits:        decimal.NewFromInt(1),
		TotalInvested:     decimal.NewFromInt(invested),
		AverageUnitCost:   decimal.NewFromInt(invested),
		OpeningCost:       decimal.NewFromInt(invested),
		FirstAcquiredAt:   Date(2023, 6, 1),
		LastUpdatedAt:     Date(2023, 6, 1),
		DebtKind:          "certificate",
		DebtInterestRate:  decimal.RequireFromString(rate),
		MaturityDate:      &maturity,
		InterestFrequency: models.FrequencyMonthly,
	}
	if err := db.Create(pos).Error; err != nil {
		t.Fatalf("failed to create test debt position: %v", err)
	}
	return pos
}

// CreateTestFixedEstimate creates a fixed estimate.
func CreateTestFixedEstimate(t *testing.T, db *gorm.DB, accountID string, category models.EstimateCategory, amount int64, period models.Frequency, isExpense bool) *models.FixedEstimate {
	t.Helper()

	fe := &models.FixedEstimate{
		AccountID: accountID,
		Name:      string(category),
		Category:  category,
		Amount:    decimal.NewFromInt(amount),
		Period:    period,
		IsExpense: isExpense,
	}
	if err := db.Create(fe).Error; err != nil {
		t.Fatalf("failed to create test fixed estimate: %v", err)
	}
	return fe
}

// CreateTestExpenseRecord creates an expense record without a ledger entry.
func CreateTestExpenseRecord(t *testing.T, db *gorm.DB, accountID, date string, amount int64) *models.ExpenseRecord {
	t.Helper()

	rec := &models.ExpenseRecord{
		AccountID: accountID,
		Date:      date,
		Amount:    decimal.NewFromInt(amount),
		Category:  "groceries",
	}
	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("failed to create test expense record: %v", err)
	}
	return rec
}
