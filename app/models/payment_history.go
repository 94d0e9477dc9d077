package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentHistory is an append-only ledger entry written once per reconciled
// payment. Amount is the net amount after gateway fees.
type PaymentHistory struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	DebtID        uint            `gorm:"not null;index" json:"debt_id"`
	PaymentLinkID uint            `gorm:"not null;uniqueIndex" json:"payment_link_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Reference     string          `gorm:"type:varchar(191);not null" json:"reference"`
	Method        string          `gorm:"type:varchar(20);not null" json:"method"`
	Notes         string          `gorm:"type:text" json:"notes"`
	PaidAt        time.Time       `gorm:"type:timestamp;not null" json:"paid_at"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (PaymentHistory) TableName() string {
	return "payment_history"
}
