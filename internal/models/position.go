package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetClass represents the kind of asset a position holds.
type AssetClass string

const (
	AssetClassSecurity       AssetClass = "security"
	AssetClassGold           AssetClass = "gold"
	AssetClassCurrency       AssetClass = "currency"
	AssetClassRealEstate     AssetClass = "real_estate"
	AssetClassDebtInstrument AssetClass = "debt_instrument"
)

// Frequency is a calendar recurrence used by installments, interest and
// fixed estimates.
type Frequency string

const (
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
)

// Months returns the number of calendar months in one period, or 0 when the
// frequency is unknown.
func (f Frequency) Months() int {
	switch f {
	case FrequencyMonthly:
		return 1
	case FrequencyQuarterly:
		return 3
	case FrequencyYearly:
		return 12
	}
	return 0
}

// Position is a holding of one asset instance. All mutation goes through the
// ledger engine; Version is the optimistic lock checked on every write.
type Position struct {
	Base
	AccountID       string          `gorm:"type:uuid;not null;index" json:"account_id"`
	AssetClass      AssetClass      `gorm:"not null" json:"asset_class"`
	Name            string          `gorm:"not null" json:"name"`
	Currency        string          `gorm:"not null;default:'EGP'" json:"currency"`
	TotalUnits      decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"total_units"`
	TotalInvested   decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"total_invested"`
	AverageUnitCost decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"average_unit_cost"`
	OpeningCost     decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"opening_cost"`
	FirstAcquiredAt time.Time       `gorm:"not null" json:"first_acquired_at"`
	LastUpdatedAt   time.Time       `gorm:"not null" json:"last_updated_at"`
	IsClosed        bool            `gorm:"not null;default:false" json:"is_closed"`
	Version         int64           `gorm:"not null;default:0" json:"version"`

	// Security
	Symbol   string `json:"symbol,omitempty"`
	FundType string `json:"fund_type,omitempty"`

	// Gold
	GoldKarat int `json:"gold_karat,omitempty"`

	// Currency
	HeldCurrency string `json:"held_currency,omitempty"`

	// Debt instrument
	DebtKind          string          `json:"debt_kind,omitempty"`
	DebtInterestRate  decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"debt_interest_rate"`
	MaturityDate      *time.Time      `json:"maturity_date,omitempty"`
	InterestFrequency Frequency       `json:"interest_frequency,omitempty"`

	// Real estate
	PropertyType         string          `json:"property_type,omitempty"`
	InstallmentFrequency Frequency       `json:"installment_frequency,omitempty"`
	InstallmentAmount    decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"installment_amount"`
	TotalContractPrice   decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"total_contract_price"`
	FirstInstallmentDate *time.Time      `json:"first_installment_date,omitempty"`
	LastInstallmentDate  *time.Time      `json:"last_installment_date,omitempty"`
	DownPayment          decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"down_payment"`
	MaintenanceAmount    decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"maintenance_amount"`
	MaintenanceDate      *time.Time      `json:"maintenance_date,omitempty"`

	// Relationships
	Installments []Installment `gorm:"foreignKey:PositionID" json:"installments,omitempty"`
}

// AssetTerms is the class-specific view of a position. The set of variants is
// closed: only types in this package implement it.
type AssetTerms interface {
	assetTerms()
}

// SecurityTerms describes a listed security or fund.
type SecurityTerms struct {
	Symbol   string
	FundType string
}

// GoldTerms describes a gold holding measured in grams.
type GoldTerms struct {
	Karat int
}

// CurrencyTerms describes a foreign currency holding.
type CurrencyTerms struct {
	Code string
}

// DebtTerms describes a certificate, bond or treasury bill.
type DebtTerms struct {
	Kind              string
	InterestRate      decimal.Decimal
	MaturityDate      *time.Time
	InterestFrequency Frequency
}

// RealEstateTerms describes an amortized real-estate contract.
type RealEstateTerms struct {
	PropertyType         string
	Frequency            Frequency
	InstallmentAmount    decimal.Decimal
	TotalContractPrice   decimal.Decimal
	FirstInstallmentDate *time.Time
	LastInstallmentDate  *time.Time
	DownPayment          decimal.Decimal
	DownPaymentDate      *time.Time
	MaintenanceAmount    decimal.Decimal
	MaintenanceDate      *time.Time
}

func (SecurityTerms) assetTerms()   {}
func (GoldTerms) assetTerms()       {}
func (CurrencyTerms) assetTerms()   {}
func (DebtTerms) assetTerms()       {}
func (RealEstateTerms) assetTerms() {}

// Terms returns the class-specific variant for the position, or nil when the
// asset class is unknown.
func (p *Position) Terms() AssetTerms {
	switch p.AssetClass {
	case AssetClassSecurity:
		return SecurityTerms{Symbol: p.Symbol, FundType: p.FundType}
	case AssetClassGold:
		return GoldTerms{Karat: p.GoldKarat}
	case AssetClassCurrency:
		return CurrencyTerms{Code: p.HeldCurrency}
	case AssetClassDebtInstrument:
		return DebtTerms{
			Kind:              p.DebtKind,
			InterestRate:      p.DebtInterestRate,
			MaturityDate:      p.MaturityDate,
			InterestFrequency: p.InterestFrequency,
		}
	case AssetClassRealEstate:
		first := p.FirstAcquiredAt
		return RealEstateTerms{
			PropertyType:         p.PropertyType,
			Frequency:            p.InstallmentFrequency,
			InstallmentAmount:    p.InstallmentAmount,
			TotalContractPrice:   p.TotalContractPrice,
			FirstInstallmentDate: p.FirstInstallmentDate,
			LastInstallmentDate:  p.LastInstallmentDate,
			DownPayment:          p.DownPayment,
			DownPaymentDate:      &first,
			MaintenanceAmount:    p.MaintenanceAmount,
			MaintenanceDate:      p.MaintenanceDate,
		}
	}
	return nil
}

// SetRealEstateTerms copies contract terms back onto the position columns.
func (p *Position) SetRealEstateTerms(t RealEstateTerms) {
	p.PropertyType = t.PropertyType
	p.InstallmentFrequency = t.Frequency
	p.InstallmentAmount = t.InstallmentAmount
	p.TotalContractPrice = t.TotalContractPrice
	p.FirstInstallmentDate = t.FirstInstallmentDate
	p.LastInstallmentDate = t.LastInstallmentDate
	p.DownPayment = t.DownPayment
	p.MaintenanceAmount = t.MaintenanceAmount
	p.MaintenanceDate = t.MaintenanceDate
}

// IsMatured reports whether a debt position has reached its maturity date.
func (p *Position) IsMatured(asOf time.Time) bool {
	if p.AssetClass != AssetClassDebtInstrument || p.MaturityDate == nil {
		return false
	}
	return !p.MaturityDate.After(asOf)
}

// Clone returns a deep copy; the installment slice is not shared.
func (p Position) Clone() Position {
	if p.Installments != nil {
		p.Installments = append([]Installment(nil), p.Installments...)
	}
	return p
}
