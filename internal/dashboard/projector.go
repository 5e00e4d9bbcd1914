// Package dashboard maintains an account's running totals. Project folds a
// single transaction into the aggregate; Rebuild replays the full history
// through the same fold. Both paths must agree.
package dashboard

import (
	"sort"
	"time"

	"folio/internal/models"

	"github.com/shopspring/decimal"
)

// Zero returns the all-zero aggregate an account starts from.
func Zero(accountID string) models.DashboardAggregate {
	return models.DashboardAggregate{
		AccountID:        accountID,
		TotalInvested:    decimal.Zero,
		TotalRealizedPnL: decimal.Zero,
		TotalCashBalance: decimal.Zero,
		TotalMaturedDebt: decimal.Zero,
	}
}

// Project folds tx into cur. Transactions must be in canonical sign form,
// as returned by the ledger engine.
func Project(cur models.DashboardAggregate, tx models.Transaction) models.DashboardAggregate {
	next := cur

	switch tx.Type {
	case models.TransactionTypeBuy:
		cost := tx.Amount.Abs()
		next.TotalCashBalance = next.TotalCashBalance.Sub(cost)
		next.TotalInvested = next.TotalInvested.Add(cost)

	case models.TransactionTypeSell:
		proceeds := tx.Amount.Abs().Sub(tx.Fees)
		next.TotalCashBalance = next.TotalCashBalance.Add(proceeds)
		next.TotalInvested = next.TotalInvested.Sub(tx.CostBasisRemoved)
		if tx.RealizedPnL.Valid {
			next.TotalRealizedPnL = next.TotalRealizedPnL.Add(tx.RealizedPnL.Decimal)
		}

	case models.TransactionTypePayment:
		// Outgoing payments are negative; reversals are positive.
		next.TotalCashBalance = next.TotalCashBalance.Add(tx.Amount)
		next.TotalInvested = next.TotalInvested.Sub(tx.Amount)

	case models.TransactionTypeDividend, models.TransactionTypeInterest,
		models.TransactionTypeIncome, models.TransactionTypeExpense:
		next.TotalCashBalance = next.TotalCashBalance.Add(tx.Amount)

	case models.TransactionTypeMaturedDebt:
		amount := tx.Amount.Abs()
		next.TotalInvested = next.TotalInvested.Sub(amount)
		next.TotalCashBalance = next.TotalCashBalance.Add(amount)
		next.TotalMaturedDebt = next.TotalMaturedDebt.Add(amount)
	}

	if tx.Date.After(next.UpdatedAt) {
		next.UpdatedAt = tx.Date
	}
	return next
}

// CrossCheck compares the replayed invested total with the sum of the
// current position states.
type CrossCheck struct {
	PositionsInvested decimal.Decimal
	Drift             decimal.Decimal
}

// Consistent reports whether the replay matches the positions.
func (c CrossCheck) Consistent() bool {
	return c.Drift.IsZero()
}

// Rebuild replays txs in chronological order from a zero aggregate. The
// input slice is not reordered.
func Rebuild(accountID string, txs []models.Transaction, positions []models.Position) (models.DashboardAggregate, CrossCheck) {
	ordered := append([]models.Transaction(nil), txs...)
	SortChronological(ordered)

	agg := Zero(accountID)
	for _, tx := range ordered {
		agg = Project(agg, tx)
	}

	invested := InvestedFromPositions(positions)
	return agg, CrossCheck{
		PositionsInvested: invested,
		Drift:             agg.TotalInvested.Sub(invested),
	}
}

// InvestedFromPositions sums the cost basis still held. Debt settled at
// maturity keeps its invested figure on the position but has left the
// portfolio, so it is skipped.
func InvestedFromPositions(positions []models.Position) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		if p.AssetClass == models.AssetClassDebtInstrument && p.IsClosed && p.TotalUnits.IsPositive() {
			continue
		}
		total = total.Add(p.TotalInvested)
	}
	return total
}

// SortChronological orders transactions by date, then creation time, then
// id, which is the order they were applied in.
func SortChronological(txs []models.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := txs[i], txs[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Stamp marks an aggregate as rebuilt at t.
func Stamp(agg models.DashboardAggregate, t time.Time) models.DashboardAggregate {
	agg.RebuiltAt = &t
	return agg
}
