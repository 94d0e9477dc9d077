package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/ManuelReschke/CobroFox/app/models"
)

type tenantRepository struct {
	db *gorm.DB
}

// NewTenantRepository creates a new tenant repository instance
func NewTenantRepository(db *gorm.DB) TenantRepository {
	return &tenantRepository{db: db}
}

func (r *tenantRepository) GetByID(ctx context.Context, id uint) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := r.db.WithContext(ctx).First(&tenant, id).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

// GetByAPIKeyHash resolves an API key hash to its tenant.
func (r *tenantRepository) GetByAPIKeyHash(ctx context.Context, hash string) (*models.Tenant, error) {
	trimmed := strings.TrimSpace(hash)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var tenant models.Tenant
	if err := r.db.WithContext(ctx).Where("api_key_hash = ?", trimmed).First(&tenant).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

// Update writes the editable profile columns only.
func (r *tenantRepository) Update(ctx context.Context, tenant *models.Tenant) error {
	return r.db.WithContext(ctx).Model(tenant).
		Select("name", "email", "phone", "company_name", "timezone").
		Updates(tenant).Error
}

func (r *tenantRepository) LiveSubscription(ctx context.Context, tenantID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Preload("Plan").
		Preload("Resources").
		Where("tenant_id = ? AND status IN ?", tenantID, models.LiveSubscriptionStatuses).
		Order("renewal_date DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
