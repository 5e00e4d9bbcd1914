// Package cashflow computes a month-scoped income, expense and investment
// breakdown from positions, fixed estimates and dated records. Summarize is
// a pure function of its arguments and safe to call concurrently.
package cashflow

import (
	"time"

	"folio/internal/models"

	"github.com/shopspring/decimal"
)

// Inputs are the entities a monthly summary is computed from. Positions
// must carry their installments.
type Inputs struct {
	Positions      []models.Position
	FixedEstimates []models.FixedEstimate
	IncomeRecords  []models.IncomeRecord
	ExpenseRecords []models.ExpenseRecord
	Dividends      []models.Transaction
}

// Income is the income side of a summary.
type Income struct {
	Salary            decimal.Decimal `json:"salary"`
	OtherFixedIncome  decimal.Decimal `json:"other_fixed_income"`
	ManualIncome      decimal.Decimal `json:"manual_income"`
	ProjectedInterest decimal.Decimal `json:"projected_interest"`
}

// Total sums every income bucket.
func (i Income) Total() decimal.Decimal {
	return decimal.Sum(i.Salary, i.OtherFixedIncome, i.ManualIncome, i.ProjectedInterest)
}

// Expenses is the spending side of a summary, investments excluded.
type Expenses struct {
	Zakat              decimal.Decimal `json:"zakat"`
	Charity            decimal.Decimal `json:"charity"`
	LivingExpenses     decimal.Decimal `json:"living_expenses"`
	OtherFixedExpenses decimal.Decimal `json:"other_fixed_expenses"`
	ItemizedExpenses   decimal.Decimal `json:"itemized_expenses"`
}

// Total sums every expense bucket.
func (e Expenses) Total() decimal.Decimal {
	return decimal.Sum(e.Zakat, e.Charity, e.LivingExpenses, e.OtherFixedExpenses, e.ItemizedExpenses)
}

// Investments holds new money put into each asset class during the month.
type Investments struct {
	Stocks     decimal.Decimal `json:"stocks"`
	Debt       decimal.Decimal `json:"debt"`
	Gold       decimal.Decimal `json:"gold"`
	Currency   decimal.Decimal `json:"currency"`
	RealEstate decimal.Decimal `json:"real_estate"`
}

// Total sums every investment bucket.
func (i Investments) Total() decimal.Decimal {
	return decimal.Sum(i.Stocks, i.Debt, i.Gold, i.Currency, i.RealEstate)
}

// Exclusion records an input dropped from date-bounded buckets.
type Exclusion struct {
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Summary is the monthly cash-flow breakdown.
type Summary struct {
	Month       string      `json:"month"`
	Start       time.Time   `json:"start"`
	End         time.Time   `json:"end"`
	Income      Income      `json:"income"`
	Expenses    Expenses    `json:"expenses"`
	Investments Investments `json:"investments"`

	TotalIncome      decimal.Decimal `json:"total_income"`
	TotalExpenses    decimal.Decimal `json:"total_expenses"`
	TotalInvestments decimal.Decimal `json:"total_investments"`
	NetCashFlow      decimal.Decimal `json:"net_cash_flow"`

	Excluded []Exclusion `json:"excluded,omitempty"`
}

var (
	twelve  = decimal.NewFromInt(12)
	hundred = decimal.NewFromInt(100)
)

// Summarize computes the cash flow of the month containing month.
// Individual bad records never fail the summary; they are listed in
// Summary.Excluded instead.
func Summarize(month time.Time, in Inputs) Summary {
	w := MonthWindow(month)
	s := Summary{
		Month: w.Key(),
		Start: w.Start,
		End:   w.End,
	}

	for _, fe := range in.FixedEstimates {
		addFixedEstimate(&s, fe)
	}

	for _, rec := range in.IncomeRecords {
		date, err := ParseDate(rec.Date)
		if err != nil {
			s.exclude("income_record", rec.ID, err)
			continue
		}
		if w.Contains(date) {
			s.Income.ManualIncome = s.Income.ManualIncome.Add(rec.Amount)
		}
	}

	for _, tx := range in.Dividends {
		if tx.Type != models.TransactionTypeDividend {
			continue
		}
		if w.containsDate(tx.Date) {
			s.Income.ManualIncome = s.Income.ManualIncome.Add(tx.Amount)
		}
	}

	for _, rec := range in.ExpenseRecords {
		addExpense(&s, w, rec)
	}

	for _, p := range in.Positions {
		addPosition(&s, w, p)
	}

	s.TotalIncome = s.Income.Total()
	s.TotalExpenses = s.Expenses.Total()
	s.TotalInvestments = s.Investments.Total()
	s.NetCashFlow = s.TotalIncome.Sub(s.TotalExpenses).Sub(s.TotalInvestments)
	return s
}

// MonthlyAmount converts a fixed estimate to its per-month figure.
func MonthlyAmount(fe models.FixedEstimate) (decimal.Decimal, bool) {
	months := fe.Period.Months()
	if months == 0 {
		return decimal.Zero, false
	}
	return fe.Amount.Div(decimal.NewFromInt(int64(months))), true
}

func addFixedEstimate(s *Summary, fe models.FixedEstimate) {
	monthly, ok := MonthlyAmount(fe)
	if !ok {
		s.Excluded = append(s.Excluded, Exclusion{Kind: "fixed_estimate", ID: fe.ID, Reason: "unknown period " + string(fe.Period)})
		return
	}

	if !fe.IsExpense {
		if fe.Category == models.EstimateCategorySalary {
			s.Income.Salary = s.Income.Salary.Add(monthly)
		} else {
			s.Income.OtherFixedIncome = s.Income.OtherFixedIncome.Add(monthly)
		}
		return
	}

	switch fe.Category {
	case models.EstimateCategoryZakat:
		s.Expenses.Zakat = s.Expenses.Zakat.Add(monthly)
	case models.EstimateCategoryCharity:
		s.Expenses.Charity = s.Expenses.Charity.Add(monthly)
	case models.EstimateCategoryLivingExpenses:
		s.Expenses.LivingExpenses = s.Expenses.LivingExpenses.Add(monthly)
	default:
		s.Expenses.OtherFixedExpenses = s.Expenses.OtherFixedExpenses.Add(monthly)
	}
}

func addExpense(s *Summary, w Window, rec models.ExpenseRecord) {
	date, err := ParseDate(rec.Date)
	if err != nil {
		s.exclude("expense_record", rec.ID, err)
		return
	}

	if rec.IsCreditInstallment() {
		// Spread evenly over NumberOfInstallments months from the record's month.
		diff := monthsBetween(date, w.Start)
		if diff >= 0 && diff < rec.NumberOfInstallments {
			s.Expenses.ItemizedExpenses = s.Expenses.ItemizedExpenses.Add(rec.InstallmentShare())
		}
		return
	}

	if w.Contains(date) {
		s.Expenses.ItemizedExpenses = s.Expenses.ItemizedExpenses.Add(rec.Amount)
	}
}

func addPosition(s *Summary, w Window, p models.Position) {
	class := classifyPosition(p)

	switch t := p.Terms().(type) {
	case models.RealEstateTerms:
		// Only paid installments due this month count, never the contract total.
		for _, inst := range p.Installments {
			if !inst.IsPaid() || !w.containsDate(inst.DueDate) {
				continue
			}
			amount := inst.PaidAmount
			if amount.IsZero() {
				amount = inst.Amount
			}
			s.Investments.RealEstate = s.Investments.RealEstate.Add(amount)
		}
		return

	case models.DebtTerms:
		if !p.IsClosed {
			interest := p.TotalInvested.Mul(t.InterestRate).Div(hundred).Div(twelve)
			s.Income.ProjectedInterest = s.Income.ProjectedInterest.Add(interest)
		}

	case nil:
		s.Excluded = append(s.Excluded, Exclusion{Kind: "position", ID: p.ID, Reason: "unknown asset class " + string(p.AssetClass)})
		return
	}

	if p.FirstAcquiredAt.IsZero() || !w.containsDate(p.FirstAcquiredAt) {
		return
	}
	cost := p.OpeningCost
	if cost.IsZero() {
		cost = p.TotalInvested
	}

	switch class {
	case FundClassDebt:
		s.Investments.Debt = s.Investments.Debt.Add(cost)
	case FundClassGold:
		s.Investments.Gold = s.Investments.Gold.Add(cost)
	case FundClassCurrency:
		s.Investments.Currency = s.Investments.Currency.Add(cost)
	default:
		s.Investments.Stocks = s.Investments.Stocks.Add(cost)
	}
}

func (s *Summary) exclude(kind, id string, err error) {
	s.Excluded = append(s.Excluded, Exclusion{Kind: kind, ID: id, Reason: err.Error()})
}
