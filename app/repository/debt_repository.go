package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/ManuelReschke/CobroFox/app/models"
)

type debtRepository struct {
	db *gorm.DB
}

// NewDebtRepository creates a new debt repository instance
func NewDebtRepository(db *gorm.DB) DebtRepository {
	return &debtRepository{db: db}
}

func (r *debtRepository) FindClientByPhone(ctx context.Context, tenantID uint, phone string) (*models.Client, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var client models.Client
	err := r.db.WithContext(ctx).Where("tenant_id = ? AND phone = ?", tenantID, phone).First(&client).Error
	if err != nil {
		return nil, err
	}
	return &client, nil
}

func (r *debtRepository) ListByClientAndStatus(ctx context.Context, clientID uint, status models.DebtStatus) ([]models.Debt, error) {
	var debts []models.Debt
	err := r.db.WithContext(ctx).
		Where("client_id = ? AND status = ?", clientID, status).
		Order("due_date ASC").
		Find(&debts).Error
	return debts, err
}
