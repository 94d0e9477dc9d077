package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Factory manages repository instances and ensures they are singletons
type Factory struct {
	db     *gorm.DB
	sealer Sealer
	repos  *Repositories
	once   sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB, sealer Sealer) *Factory {
	return &Factory{
		db:     db,
		sealer: sealer,
	}
}

// GetRepositories returns a singleton instance of all repositories
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db, f.sealer)
	})
	return f.repos
}

// GetTenantRepository returns the tenant repository instance
func (f *Factory) GetTenantRepository() TenantRepository {
	return f.GetRepositories().Tenant
}

// GetCredentialRepository returns the gateway credential repository instance
func (f *Factory) GetCredentialRepository() GatewayCredentialRepository {
	return f.GetRepositories().Credential
}

// GetDebtRepository returns the debt repository instance
func (f *Factory) GetDebtRepository() DebtRepository {
	return f.GetRepositories().Debt
}

// Global factory instance
var globalFactory *Factory
var factoryOnce sync.Once

// InitializeFactory initializes the global repository factory
func InitializeFactory(db *gorm.DB, sealer Sealer) {
	factoryOnce.Do(func() {
		globalFactory = NewFactory(db, sealer)
	})
}

// GetGlobalFactory returns the global repository factory instance
func GetGlobalFactory() *Factory {
	if globalFactory == nil {
		panic("Repository factory not initialized. Call InitializeFactory first.")
	}
	return globalFactory
}

// GetGlobalRepositories returns the global repositories instance
func GetGlobalRepositories() *Repositories {
	return GetGlobalFactory().GetRepositories()
}
