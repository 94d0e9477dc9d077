package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Tenant is a landlord account ("inquilino") owning clients, debts,
// subscriptions and gateway credentials.
type Tenant struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	Name          string         `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=2,max=150"`
	Email         string         `gorm:"type:varchar(200);uniqueIndex" json:"email" validate:"required,email,max=200"`
	Phone         string         `gorm:"type:varchar(32)" json:"phone" validate:"omitempty,max=32"`
	CompanyName   string         `gorm:"type:varchar(150)" json:"company_name" validate:"omitempty,max=150"`
	Timezone      string         `gorm:"type:varchar(64);not null;default:'America/Mexico_City'" json:"timezone" validate:"omitempty,timezone"`
	APIKeyHash    string         `gorm:"type:char(64);uniqueIndex" json:"-"`
	APIKeyPrefix  string         `gorm:"type:varchar(12)" json:"api_key_prefix"`
	Subscriptions []Subscription `gorm:"foreignKey:TenantID" json:"subscriptions,omitempty"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t *Tenant) Validate() error {
	return validator.New().Struct(t)
}

// ChannelName is the real-time channel all tenant scoped events are sent to.
func (t *Tenant) ChannelName() string {
	return TenantChannel(t.ID)
}

// HashAPIKey returns the SHA-256 hash for the provided API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey creates a new random key and stores its hash and prefix on
// the tenant. The raw key is only returned once.
func (t *Tenant) GenerateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	raw := "cf_" + hex.EncodeToString(b)
	t.APIKeyHash = HashAPIKey(raw)
	t.APIKeyPrefix = raw[:10]
	return raw, nil
}
