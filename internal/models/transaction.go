package models

import (
	"time"

	"folio/internal/uuid"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransactionType represents the economic event a transaction records.
type TransactionType string

const (
	TransactionTypeBuy         TransactionType = "buy"
	TransactionTypeSell        TransactionType = "sell"
	TransactionTypePayment     TransactionType = "payment"
	TransactionTypeDividend    TransactionType = "dividend"
	TransactionTypeInterest    TransactionType = "interest"
	TransactionTypeMaturedDebt TransactionType = "matured_debt"
	TransactionTypeIncome      TransactionType = "income"
	TransactionTypeExpense     TransactionType = "expense"
)

// Metadata holds free-form asset-class annotations such as sector or
// source sub type.
type Metadata map[string]string

// Transaction is an immutable economic event. Amount is signed from the cash
// point of view (positive = cash in); Units is positive on buys and negative
// on sells. A transaction is never edited: corrections append a new row that
// points at the original through ReversesID. This is append-only data, so
// there is no Base embed and no soft delete.
type Transaction struct {
	ID                string              `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID         string              `gorm:"type:uuid;not null;index" json:"account_id"`
	PositionID        string              `gorm:"size:36;index" json:"position_id,omitempty"`
	Type              TransactionType     `gorm:"not null;index" json:"type"`
	Date              time.Time           `gorm:"not null;index" json:"date"`
	Amount            decimal.Decimal     `gorm:"type:decimal(24,8);not null" json:"amount"`
	Units             decimal.Decimal     `gorm:"type:decimal(24,8);not null;default:0" json:"units"`
	UnitPrice         decimal.Decimal     `gorm:"type:decimal(24,8);not null;default:0" json:"unit_price"`
	Fees              decimal.Decimal     `gorm:"type:decimal(24,8);not null;default:0" json:"fees"`
	CostBasisRemoved  decimal.Decimal     `gorm:"type:decimal(24,8);not null;default:0" json:"cost_basis_removed"`
	RealizedPnL       decimal.NullDecimal `gorm:"column:realized_pnl;type:decimal(24,8)" json:"realized_pnl"`
	InstallmentNumber *int                `json:"installment_number,omitempty"`
	ReversesID        string              `gorm:"size:36;index" json:"reverses_id,omitempty"`
	SourceID          string              `gorm:"size:36;index" json:"source_id,omitempty"`
	Description       string              `json:"description,omitempty"`
	Metadata          Metadata            `gorm:"serializer:json;type:text" json:"metadata,omitempty"`
	CreatedAt         time.Time           `gorm:"not null" json:"created_at"`
}

// BeforeCreate hook generates a UUIDv7 for new records
func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New()
	}
	return nil
}

// IsReversal reports whether the transaction undoes an earlier one.
func (t Transaction) IsReversal() bool {
	return t.ReversesID != ""
}
