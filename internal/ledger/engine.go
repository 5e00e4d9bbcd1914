// Package ledger turns a new transaction into a consistent update of the
// position that owns it. The engine is pure: it never touches storage and
// never retries. Atomicity and conflict handling belong to the caller.
package ledger

import (
	"time"

	apperrors "folio/internal/errors"
	"folio/internal/models"

	"github.com/shopspring/decimal"
)

// costScale is the number of decimal places kept for derived averages,
// matching the decimal(24,8) columns.
const costScale = 8

// Engine applies transactions to positions.
type Engine struct {
	now func() time.Time
}

// NewEngine creates an engine. A nil clock defaults to time.Now.
func NewEngine(now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{now: now}
}

// Apply computes the position that results from tx and returns it together
// with the canonical form of tx (signs normalized, derived fields such as
// realized P&L filled in). On error the original position is returned
// untouched.
func (e *Engine) Apply(pos models.Position, tx models.Transaction) (models.Position, models.Transaction, error) {
	if pos.ID == "" {
		return pos, tx, apperrors.ErrPositionNotFound
	}
	if tx.PositionID != "" && tx.PositionID != pos.ID {
		return pos, tx, apperrors.WithMessage(apperrors.ErrPositionNotFound, "transaction belongs to a different position")
	}
	if tx.Date.IsZero() {
		return pos, tx, apperrors.WithMessage(apperrors.ErrMissingRequiredField, "date is required")
	}
	if tx.Fees.IsNegative() {
		return pos, tx, apperrors.WithMessage(apperrors.ErrInvalidInput, "fees cannot be negative")
	}

	terms := pos.Terms()
	if terms == nil {
		return pos, tx, apperrors.WithMessage(apperrors.ErrInvalidInput, "unknown asset class "+string(pos.AssetClass))
	}

	if isSettledDebt(pos) {
		return pos, tx, apperrors.WithMessage(apperrors.ErrInvalidInput, "debt instrument is already settled")
	}

	next := pos.Clone()
	tx.PositionID = pos.ID
	tx.AccountID = pos.AccountID

	var err error
	switch tx.Type {
	case models.TransactionTypeBuy:
		err = applyBuy(&next, &tx, terms)
	case models.TransactionTypeSell:
		err = applySell(&next, &tx, terms)
	case models.TransactionTypePayment:
		err = applyPayment(&next, &tx, terms)
	case models.TransactionTypeDividend, models.TransactionTypeInterest:
		err = applyCashEvent(&tx, terms)
	case models.TransactionTypeMaturedDebt:
		err = applyMaturity(&next, &tx, terms)
	default:
		err = apperrors.WithMessage(apperrors.ErrInvalidTransactionType,
			"transaction type "+string(tx.Type)+" cannot be applied to a position")
	}
	if err != nil {
		return pos, tx, err
	}

	next.LastUpdatedAt = e.now()
	return next, tx, nil
}

func applyBuy(p *models.Position, tx *models.Transaction, terms models.AssetTerms) error {
	units := tx.Units.Abs()
	if _, ok := terms.(models.RealEstateTerms); ok {
		// A contract is a single unit; buys add to its cost only.
		units = decimal.NewFromInt(1)
		if p.TotalUnits.IsPositive() {
			units = decimal.Zero
		}
	} else if units.IsZero() {
		return apperrors.WithMessage(apperrors.ErrMissingRequiredField, "units are required for a buy")
	}

	cost := tx.Amount.Abs()
	if cost.IsZero() {
		cost = units.Mul(tx.UnitPrice).Add(tx.Fees)
	}
	if cost.IsZero() {
		return apperrors.WithMessage(apperrors.ErrMissingRequiredField, "amount or unit price is required for a buy")
	}

	if p.TotalUnits.IsZero() && p.TotalInvested.IsZero() && p.FirstAcquiredAt.IsZero() {
		p.FirstAcquiredAt = tx.Date
	}
	p.TotalUnits = p.TotalUnits.Add(units)
	p.TotalInvested = p.TotalInvested.Add(cost)
	p.AverageUnitCost = averageCost(p.TotalInvested, p.TotalUnits)
	p.IsClosed = false

	tx.Units = units
	tx.Amount = cost
	return nil
}

func applySell(p *models.Position, tx *models.Transaction, terms models.AssetTerms) error {
	units := tx.Units.Abs()
	if units.IsZero() {
		return apperrors.WithMessage(apperrors.ErrMissingRequiredField, "units are required for a sell")
	}
	if units.GreaterThan(p.TotalUnits) {
		return apperrors.WithMessage(apperrors.ErrInsufficientUnits,
			"cannot sell "+units.String()+" units, only "+p.TotalUnits.String()+" held")
	}

	gross := tx.Amount.Abs()
	if gross.IsZero() {
		gross = units.Mul(tx.UnitPrice)
	}

	tx.Units = units.Neg()
	tx.Amount = gross.Neg()

	if _, ok := terms.(models.RealEstateTerms); ok {
		// Disposal of a contract is not tracked; the cost basis stays.
		p.TotalUnits = p.TotalUnits.Sub(units)
		tx.CostBasisRemoved = decimal.Zero
		tx.RealizedPnL = decimal.NullDecimal{}
		return nil
	}

	removed := p.TotalInvested
	if units.LessThan(p.TotalUnits) {
		removed = p.AverageUnitCost.Mul(units).Round(costScale)
	}

	p.TotalUnits = p.TotalUnits.Sub(units)
	p.TotalInvested = p.TotalInvested.Sub(removed)
	if p.TotalUnits.IsZero() {
		p.TotalInvested = decimal.Zero
		p.AverageUnitCost = decimal.Zero
		p.IsClosed = true
	}

	tx.CostBasisRemoved = removed
	tx.RealizedPnL = decimal.NewNullDecimal(gross.Sub(tx.Fees).Sub(removed))
	return nil
}

func applyPayment(p *models.Position, tx *models.Transaction, terms models.AssetTerms) error {
	if _, ok := terms.(models.RealEstateTerms); ok {
		return applyInstallmentPayment(p, tx)
	}

	amount := tx.Amount.Abs()
	if amount.IsZero() {
		return apperrors.WithMessage(apperrors.ErrMissingRequiredField, "amount is required for a payment")
	}

	if tx.IsReversal() {
		p.TotalInvested = p.TotalInvested.Sub(amount)
		tx.Amount = amount
	} else {
		p.TotalInvested = p.TotalInvested.Add(amount)
		tx.Amount = amount.Neg()
	}
	p.AverageUnitCost = averageCost(p.TotalInvested, p.TotalUnits)
	return nil
}

func applyInstallmentPayment(p *models.Position, tx *models.Transaction) error {
	if tx.InstallmentNumber == nil {
		return apperrors.WithMessage(apperrors.ErrMissingRequiredField, "installment number is required for a real estate payment")
	}

	idx := -1
	for i := range p.Installments {
		if p.Installments[i].Number == *tx.InstallmentNumber {
			idx = i
			break
		}
	}
	if idx < 0 {
		return apperrors.ErrInstallmentNotFound
	}
	inst := &p.Installments[idx]

	if tx.IsReversal() {
		if !inst.IsPaid() {
			return apperrors.ErrInstallmentNotPaid
		}
		amount := tx.Amount.Abs()
		if amount.IsZero() {
			amount = inst.PaidAmount
		}
		inst.Status = models.InstallmentUnpaid
		inst.PaidAmount = decimal.Zero
		inst.PaidAt = nil
		p.TotalInvested = p.TotalInvested.Sub(amount)
		tx.Amount = amount
	} else {
		if inst.IsPaid() {
			return apperrors.ErrInstallmentAlreadyPaid
		}
		amount := tx.Amount.Abs()
		if amount.IsZero() {
			amount = inst.Amount
		}
		paidAt := tx.Date
		inst.Status = models.InstallmentPaid
		inst.PaidAmount = amount
		inst.PaidAt = &paidAt
		p.TotalInvested = p.TotalInvested.Add(amount)
		tx.Amount = amount.Neg()
	}

	if p.TotalUnits.IsZero() {
		p.TotalUnits = decimal.NewFromInt(1)
	}
	p.AverageUnitCost = averageCost(p.TotalInvested, p.TotalUnits)
	return nil
}

func applyCashEvent(tx *models.Transaction, terms models.AssetTerms) error {
	switch terms.(type) {
	case models.SecurityTerms, models.RealEstateTerms:
		if tx.Type != models.TransactionTypeDividend {
			return apperrors.WithMessage(apperrors.ErrInvalidTransactionType, "interest applies to debt and currency positions")
		}
	case models.DebtTerms, models.CurrencyTerms:
		if tx.Type != models.TransactionTypeInterest {
			return apperrors.WithMessage(apperrors.ErrInvalidTransactionType, "dividends apply to security and real estate positions")
		}
	case models.GoldTerms:
		return apperrors.WithMessage(apperrors.ErrInvalidTransactionType, "gold positions have no cash distributions")
	}

	amount := tx.Amount.Abs()
	if amount.IsZero() {
		return apperrors.WithMessage(apperrors.ErrMissingRequiredField, "amount is required")
	}
	tx.Amount = amount
	tx.Units = decimal.Zero
	return nil
}

func applyMaturity(p *models.Position, tx *models.Transaction, terms models.AssetTerms) error {
	if _, ok := terms.(models.DebtTerms); !ok {
		return apperrors.WithMessage(apperrors.ErrInvalidTransactionType, "only debt instruments mature")
	}
	if !p.TotalUnits.IsPositive() {
		return apperrors.WithMessage(apperrors.ErrInvalidInput, "debt instrument has no holdings to settle")
	}

	amount := tx.Amount.Abs()
	if amount.IsZero() {
		amount = p.TotalInvested
	}
	p.IsClosed = true

	tx.Amount = amount
	tx.Units = decimal.Zero
	return nil
}

// Normalize canonicalizes a position-less Income or Expense transaction:
// income is cash in, expense is cash out.
func Normalize(tx models.Transaction) (models.Transaction, error) {
	if tx.PositionID != "" {
		return tx, apperrors.WithMessage(apperrors.ErrInvalidTransactionType, "income and expense transactions have no position")
	}
	if tx.Date.IsZero() {
		return tx, apperrors.WithMessage(apperrors.ErrMissingRequiredField, "date is required")
	}
	amount := tx.Amount.Abs()
	if amount.IsZero() {
		return tx, apperrors.WithMessage(apperrors.ErrMissingRequiredField, "amount is required")
	}

	var incoming bool
	switch tx.Type {
	case models.TransactionTypeIncome:
		incoming = true
	case models.TransactionTypeExpense:
		incoming = false
	default:
		return tx, apperrors.WithMessage(apperrors.ErrInvalidTransactionType,
			"transaction type "+string(tx.Type)+" requires a position")
	}
	// A reversal flips the sign of the entry it undoes.
	if tx.IsReversal() {
		incoming = !incoming
	}
	if incoming {
		tx.Amount = amount
	} else {
		tx.Amount = amount.Neg()
	}
	tx.Units = decimal.Zero
	return tx, nil
}

// isSettledDebt reports whether a debt position was closed by maturity rather
// than by selling out.
func isSettledDebt(p models.Position) bool {
	return p.AssetClass == models.AssetClassDebtInstrument && p.IsClosed && p.TotalUnits.IsPositive()
}

func averageCost(invested, units decimal.Decimal) decimal.Decimal {
	if !units.IsPositive() {
		return decimal.Zero
	}
	return invested.DivRound(units, costScale)
}
