package models

import "github.com/shopspring/decimal"

// EstimateCategory buckets a fixed estimate in the monthly cash flow.
type EstimateCategory string

const (
	EstimateCategorySalary         EstimateCategory = "salary"
	EstimateCategoryZakat          EstimateCategory = "zakat"
	EstimateCategoryCharity        EstimateCategory = "charity"
	EstimateCategoryLivingExpenses EstimateCategory = "living_expenses"
	EstimateCategoryOther          EstimateCategory = "other"
)

// FixedEstimate is a recurring planning figure. It is not a transaction and
// counts in every month's cash flow regardless of dates.
type FixedEstimate struct {
	Base
	AccountID string           `gorm:"type:uuid;not null;index" json:"account_id"`
	Name      string           `json:"name"`
	Category  EstimateCategory `gorm:"not null" json:"category"`
	Amount    decimal.Decimal  `gorm:"type:decimal(24,8);not null" json:"amount"`
	Period    Frequency        `gorm:"not null" json:"period"`
	IsExpense bool             `gorm:"not null;default:false" json:"is_expense"`
}

// IncomeRecord is a manually logged income entry. Dates are kept as
// YYYY-MM-DD strings; rows with unparseable dates are excluded from
// date-bounded aggregation instead of failing it.
type IncomeRecord struct {
	Base
	AccountID   string          `gorm:"type:uuid;not null;index" json:"account_id"`
	Date        string          `gorm:"size:10;not null;index" json:"date"`
	Amount      decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"amount"`
	Category    string          `json:"category"`
	Description string          `json:"description,omitempty"`
}

// ExpenseCategoryCreditCard marks expenses that may be paid in installments.
const ExpenseCategoryCreditCard = "credit_card"

// ExpenseRecord is a manually logged expense. Credit card expenses may be
// split into NumberOfInstallments equal monthly shares.
type ExpenseRecord struct {
	Base
	AccountID                string          `gorm:"type:uuid;not null;index" json:"account_id"`
	Date                     string          `gorm:"size:10;not null;index" json:"date"`
	Amount                   decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"amount"`
	Category                 string          `gorm:"not null" json:"category"`
	Description              string          `json:"description,omitempty"`
	IsInstallment            bool            `gorm:"not null;default:false" json:"is_installment"`
	NumberOfInstallments     int             `gorm:"not null;default:0" json:"number_of_installments"`
	LastPaidInstallmentIndex int             `gorm:"not null;default:0" json:"last_paid_installment_index"`
	IsClosed                 bool            `gorm:"not null;default:false" json:"is_closed"`
}

// IsCreditInstallment reports whether the expense is amortized over months.
func (e ExpenseRecord) IsCreditInstallment() bool {
	return e.Category == ExpenseCategoryCreditCard && e.IsInstallment && e.NumberOfInstallments > 0
}

// InstallmentShare returns the amount of one monthly share.
func (e ExpenseRecord) InstallmentShare() decimal.Decimal {
	if !e.IsCreditInstallment() {
		return e.Amount
	}
	return e.Amount.Div(decimal.NewFromInt(int64(e.NumberOfInstallments)))
}
