package models

import (
	"time"

	"folio/internal/uuid"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InstallmentStatus represents whether a scheduled payment was made.
type InstallmentStatus string

const (
	InstallmentUnpaid InstallmentStatus = "unpaid"
	InstallmentPaid   InstallmentStatus = "paid"
)

// Installment is one scheduled payment of a real-estate contract. Installments
// are owned by their position and rewritten together with it, so they are hard
// deleted rather than soft deleted.
type Installment struct {
	ID              string            `gorm:"type:uuid;primaryKey" json:"id"`
	PositionID      string            `gorm:"type:uuid;not null;uniqueIndex:uq_installments_position_number" json:"position_id"`
	Number          int               `gorm:"not null;uniqueIndex:uq_installments_position_number" json:"number"`
	DueDate         time.Time         `gorm:"not null" json:"due_date"`
	Amount          decimal.Decimal   `gorm:"type:decimal(24,8);not null" json:"amount"`
	Status          InstallmentStatus `gorm:"not null;default:'unpaid'" json:"status"`
	PaidAmount      decimal.Decimal   `gorm:"type:decimal(24,8);not null;default:0" json:"paid_amount"`
	PaidAt          *time.Time        `json:"paid_at,omitempty"`
	ChequeReference string            `json:"cheque_reference,omitempty"`
	Description     string            `json:"description,omitempty"`
	IsDownPayment   bool              `gorm:"not null;default:false" json:"is_down_payment"`
	IsMaintenance   bool              `gorm:"not null;default:false" json:"is_maintenance"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// BeforeCreate hook generates a UUIDv7 for new records
func (i *Installment) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.New()
	}
	return nil
}

// IsPaid reports whether the installment has been paid.
func (i Installment) IsPaid() bool {
	return i.Status == InstallmentPaid
}
