package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/CobroFox/app/models"
)

// Sealer encrypts a secret before it is stored.
type Sealer interface {
	Seal(plain string) (string, error)
}

type plainSealer struct{}

func (plainSealer) Seal(plain string) (string, error) { return plain, nil }

type gatewayCredentialRepository struct {
	db     *gorm.DB
	sealer Sealer
}

// NewGatewayCredentialRepository creates a credential repository; a nil
// sealer stores secrets as given.
func NewGatewayCredentialRepository(db *gorm.DB, sealer Sealer) GatewayCredentialRepository {
	if sealer == nil {
		sealer = plainSealer{}
	}
	return &gatewayCredentialRepository{db: db, sealer: sealer}
}

// Upsert inserts or replaces the tenant's credential for cred.Gateway.
func (r *gatewayCredentialRepository) Upsert(ctx context.Context, cred *models.GatewayCredential) error {
	row := *cred
	for _, field := range []*string{&row.APIKey, &row.APISecret, &row.WebhookSecret} {
		if *field == "" {
			continue
		}
		sealed, err := r.sealer.Seal(*field)
		if err != nil {
			return fmt.Errorf("seal credential: %w", err)
		}
		*field = sealed
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "gateway"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"api_key", "api_secret", "webhook_secret", "webhook_id", "active", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return err
	}
	cred.ID = row.ID

	// GORM leaves a false bool with a column default out of the INSERT.
	if !row.Active {
		return r.db.WithContext(ctx).Model(&models.GatewayCredential{}).
			Where("tenant_id = ? AND gateway = ?", row.TenantID, row.Gateway).
			Update("active", false).Error
	}
	return nil
}

func (r *gatewayCredentialRepository) ListByTenant(ctx context.Context, tenantID uint) ([]models.GatewayCredential, error) {
	var creds []models.GatewayCredential
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("gateway ASC").Find(&creds).Error
	return creds, err
}
