package models

import "time"

type ResourceKind string

const (
	ResourceWhatsApp ResourceKind = "whatsapp"
	ResourceEmail    ResourceKind = "email"
	ResourceAPI      ResourceKind = "api"
	ResourceClients  ResourceKind = "clients"
)

// Resources counts usage for the current period of a subscription.
type Resources struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SubscriptionID uint      `gorm:"not null;uniqueIndex" json:"subscription_id"`
	WhatsAppUsed   int64     `gorm:"column:whatsapp_used;not null;default:0" json:"whatsapp_used"`
	EmailUsed      int64     `gorm:"not null;default:0" json:"email_used"`
	APIUsed        int64     `gorm:"not null;default:0" json:"api_used"`
	ClientsUsed    int64     `gorm:"not null;default:0" json:"clients_used"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Reset zeroes every counter.
func (r *Resources) Reset() {
	r.WhatsAppUsed = 0
	r.EmailUsed = 0
	r.APIUsed = 0
	r.ClientsUsed = 0
}

// Column returns the table column that stores the counter for kind.
func (k ResourceKind) Column() string {
	switch k {
	case ResourceWhatsApp:
		return "whatsapp_used"
	case ResourceEmail:
		return "email_used"
	case ResourceAPI:
		return "api_used"
	case ResourceClients:
		return "clients_used"
	default:
		return ""
	}
}
