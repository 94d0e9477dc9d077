package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ManuelReschke/CobroFox/app/models"
)

// TenantRepository defines the interface for tenant-related database operations
type TenantRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Tenant, error)
	GetByAPIKeyHash(ctx context.Context, hash string) (*models.Tenant, error)
	Update(ctx context.Context, tenant *models.Tenant) error
	// LiveSubscription returns the tenant's activa or pago_vencido subscription with its plan and usage.
	LiveSubscription(ctx context.Context, tenantID uint) (*models.Subscription, error)
}

// GatewayCredentialRepository defines the interface for gateway credential operations.
// Secrets are sealed before they are written.
type GatewayCredentialRepository interface {
	Upsert(ctx context.Context, cred *models.GatewayCredential) error
	ListByTenant(ctx context.Context, tenantID uint) ([]models.GatewayCredential, error)
}

// DebtRepository defines the read side used by the chatbot
type DebtRepository interface {
	FindClientByPhone(ctx context.Context, tenantID uint, phone string) (*models.Client, error)
	ListByClientAndStatus(ctx context.Context, clientID uint, status models.DebtStatus) ([]models.Debt, error)
}

// Repositories holds all repository instances
type Repositories struct {
	Tenant     TenantRepository
	Credential GatewayCredentialRepository
	Debt       DebtRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB, sealer Sealer) *Repositories {
	return &Repositories{
		Tenant:     NewTenantRepository(db),
		Credential: NewGatewayCredentialRepository(db, sealer),
		Debt:       NewDebtRepository(db),
	}
}
