package cashflow

import (
	"strings"

	"folio/internal/models"
)

// FundClass is the cash-flow bucket a security falls into.
type FundClass string

const (
	FundClassStock      FundClass = "stock"
	FundClassDebt       FundClass = "debt"
	FundClassGold       FundClass = "gold"
	FundClassCurrency   FundClass = "currency"
	FundClassRealEstate FundClass = "real_estate"
)

var (
	goldKeywords       = []string{"gold", "precious metal", "gld", "bullion"}
	realEstateKeywords = []string{"reit", "real estate", "property fund", "mortgage"}
	debtKeywords       = []string{"debt", "bond", "fixed income", "money market", "treasury", "sukuk"}
	currencyKeywords   = []string{"currency", "forex", "foreign exchange", "dollar"}
)

// ClassifyFund buckets a fund by keywords in its fund type. Debt is checked
// before gold so "gold-backed bond" funds count as debt.
func ClassifyFund(fundType string) FundClass {
	lower := strings.ToLower(fundType)
	switch {
	case lower == "":
		return FundClassStock
	case containsAny(lower, debtKeywords):
		return FundClassDebt
	case containsAny(lower, goldKeywords):
		return FundClassGold
	case containsAny(lower, currencyKeywords):
		return FundClassCurrency
	case containsAny(lower, realEstateKeywords):
		return FundClassRealEstate
	}
	return FundClassStock
}

// classifyPosition maps a position to the investment bucket its purchase
// counts toward.
func classifyPosition(p models.Position) FundClass {
	switch t := p.Terms().(type) {
	case models.SecurityTerms:
		return ClassifyFund(t.FundType)
	case models.GoldTerms:
		return FundClassGold
	case models.CurrencyTerms:
		return FundClassCurrency
	case models.DebtTerms:
		return FundClassDebt
	case models.RealEstateTerms:
		return FundClassRealEstate
	}
	return ""
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
