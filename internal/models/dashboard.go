package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DashboardAggregate holds an account's running totals. It is derived data:
// created lazily with zero values, folded forward on every transaction and
// rebuildable from the transaction history. UpdatedAt is the date of the
// latest folded transaction, not the row write time.
type DashboardAggregate struct {
	AccountID        string          `gorm:"type:uuid;primaryKey" json:"account_id"`
	TotalInvested    decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"total_invested"`
	TotalRealizedPnL decimal.Decimal `gorm:"column:total_realized_pnl;type:decimal(24,8);not null;default:0" json:"total_realized_pnl"`
	TotalCashBalance decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"total_cash_balance"`
	TotalMaturedDebt decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"total_matured_debt"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime:false" json:"updated_at"`
	RebuiltAt        *time.Time      `json:"rebuilt_at,omitempty"`
	Version          int64           `gorm:"not null;default:0" json:"version"`
}
