package models

import (
	"strings"
	"time"
)

const (
	GatewayStripe = "stripe"
	GatewayPayPal = "paypal"
)

// GatewayCredential holds one tenant's keys for one payment gateway. There is
// at most one row per (tenant, gateway); writes are upserts.
type GatewayCredential struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	TenantID      uint      `gorm:"not null;index:ux_gateway_credentials_tenant_gateway,unique,priority:1" json:"tenant_id"`
	Gateway       string    `gorm:"type:varchar(20);not null;index:ux_gateway_credentials_tenant_gateway,unique,priority:2" json:"gateway" validate:"required,oneof=stripe paypal"`
	APIKey        string    `gorm:"type:text" json:"-"`
	APISecret     string    `gorm:"type:text" json:"-"`
	WebhookSecret string    `gorm:"type:text" json:"-"`
	WebhookID     string    `gorm:"type:varchar(191)" json:"webhook_id"`
	Active        bool      `gorm:"not null;default:true;index" json:"active"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// NormalizeGateway lowercases and trims a gateway name. Unknown names come
// back as the empty string.
func NormalizeGateway(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case GatewayStripe:
		return GatewayStripe
	case GatewayPayPal:
		return GatewayPayPal
	default:
		return ""
	}
}
