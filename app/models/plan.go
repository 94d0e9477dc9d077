package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Plan is a read-only template of limits and gateway price references.
type Plan struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	Name          string          `gorm:"type:varchar(100);not null;uniqueIndex" json:"name"`
	Price         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	MaxWhatsApp   int64           `gorm:"not null;default:0" json:"max_whatsapp"`
	MaxEmail      int64           `gorm:"not null;default:0" json:"max_email"`
	MaxAPI        int64           `gorm:"not null;default:0" json:"max_api"`
	MaxClients    int64           `gorm:"not null;default:0" json:"max_clients"`
	StripePriceID string          `gorm:"type:varchar(191)" json:"stripe_price_id"`
	PayPalPlanID  string          `gorm:"type:varchar(191)" json:"paypal_plan_id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
