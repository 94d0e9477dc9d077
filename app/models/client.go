package models

import "time"

// Client is a debtor managed by a tenant.
type Client struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	TenantID         uint      `gorm:"not null;index" json:"tenant_id"`
	Name             string    `gorm:"type:varchar(150);not null" json:"name" validate:"required,max=150"`
	Email            string    `gorm:"type:varchar(200)" json:"email" validate:"omitempty,email"`
	Phone            string    `gorm:"type:varchar(32);index" json:"phone"`
	PreferredGateway string    `gorm:"type:varchar(20);not null;default:'stripe'" json:"preferred_gateway" validate:"omitempty,oneof=stripe paypal"`
	Debts            []Debt    `gorm:"foreignKey:ClientID" json:"debts,omitempty"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
