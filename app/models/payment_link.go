package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentLinkStatus string

const (
	PaymentLinkStatusPending PaymentLinkStatus = "pendiente"
	PaymentLinkStatusPaid    PaymentLinkStatus = "pagado"
	PaymentLinkStatusExpired PaymentLinkStatus = "expirado"
)

// PaymentLink tracks one hosted checkout attempt for a debt. Amount is the
// gross requested amount; Fee and NetAmount are filled in on settlement.
type PaymentLink struct {
	ID           uint              `gorm:"primaryKey" json:"id"`
	DebtID       uint              `gorm:"not null;index" json:"debt_id"`
	CredentialID uint              `gorm:"not null;index" json:"credential_id"`
	Gateway      string            `gorm:"type:varchar(20);not null" json:"gateway"`
	ExternalID   string            `gorm:"type:varchar(191);not null;index:idx_payment_links_external_status,priority:1" json:"external_id"`
	URL          string            `gorm:"type:text;not null" json:"url"`
	Amount       decimal.Decimal   `gorm:"type:decimal(12,2);not null" json:"amount"`
	Fee          decimal.Decimal   `gorm:"type:decimal(12,2);not null;default:0" json:"fee"`
	NetAmount    decimal.Decimal   `gorm:"type:decimal(12,2);not null;default:0" json:"net_amount"`
	Status       PaymentLinkStatus `gorm:"type:varchar(20);not null;default:'pendiente';index:idx_payment_links_external_status,priority:2" json:"status"`
	PaidAt       *time.Time        `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt    time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}
