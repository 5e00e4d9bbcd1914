package models

// Account owns positions, records, transactions and one dashboard aggregate.
// Revision is bumped by every committed ledger write so derived views can be
// cached against it.
type Account struct {
	Base
	Name         string `gorm:"not null" json:"name"`
	BaseCurrency string `gorm:"not null;default:'EGP'" json:"base_currency"`
	Revision     int64  `gorm:"not null;default:0" json:"revision"`

	// Relationships
	Positions []Position `gorm:"foreignKey:AccountID" json:"positions,omitempty"`
}
