package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/CobroFox/app/models"
)

// Repository provides the DB operations used by the billing service. Lookups
// return gorm.ErrRecordNotFound when nothing matches.
type Repository interface {
	// Transaction runs fn against a repository bound to one DB transaction.
	Transaction(ctx context.Context, fn func(tx Repository) error) error

	FindActiveCredential(ctx context.Context, tenantID uint, gateway string) (*models.GatewayCredential, error)

	GetDebt(ctx context.Context, id uint) (*models.Debt, error)
	GetDebtForUpdate(ctx context.Context, id uint) (*models.Debt, error)
	GetClient(ctx context.Context, id uint) (*models.Client, error)
	SettleDebt(ctx context.Context, id uint) (bool, error)

	CreatePaymentLink(ctx context.Context, link *models.PaymentLink) error
	FindPendingPaymentLink(ctx context.Context, tenantID uint, gateway, externalID string) (*models.PaymentLink, error)
	MarkPaymentLinkPaid(ctx context.Context, id uint, paidAt time.Time, fee, net decimal.Decimal) (bool, error)
	ExpirePaymentLink(ctx context.Context, id uint) (bool, error)
	CreatePaymentHistory(ctx context.Context, entry *models.PaymentHistory) error

	FindSubscriptionByExternalID(ctx context.Context, tenantID uint, externalID string) (*models.Subscription, error)
	SaveSubscription(ctx context.Context, sub *models.Subscription) error
	CancelOtherLiveSubscriptions(ctx context.Context, tenantID, keepID uint, at time.Time) (int64, error)
	ResetResources(ctx context.Context, subscriptionID uint) error

	CreateWebhookEventIfNotExists(ctx context.Context, event *models.GatewayWebhookEvent) (bool, *models.GatewayWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) FindActiveCredential(ctx context.Context, tenantID uint, gateway string) (*models.GatewayCredential, error) {
	var cred models.GatewayCredential
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND gateway = ? AND active = ?", tenantID, gateway, true).
		First(&cred).Error
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (r *gormRepository) GetDebt(ctx context.Context, id uint) (*models.Debt, error) {
	var debt models.Debt
	if err := r.db.WithContext(ctx).First(&debt, id).Error; err != nil {
		return nil, err
	}
	return &debt, nil
}

func (r *gormRepository) GetDebtForUpdate(ctx context.Context, id uint) (*models.Debt, error) {
	var debt models.Debt
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&debt, id).Error
	if err != nil {
		return nil, err
	}
	return &debt, nil
}

func (r *gormRepository) GetClient(ctx context.Context, id uint) (*models.Client, error) {
	var client models.Client
	if err := r.db.WithContext(ctx).First(&client, id).Error; err != nil {
		return nil, err
	}
	return &client, nil
}

func (r *gormRepository) SettleDebt(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Debt{}).
		Where("id = ? AND status IN ?", id, []models.DebtStatus{models.DebtStatusPending, models.DebtStatusOverdue}).
		Updates(map[string]interface{}{
			"balance": decimal.Zero,
			"status":  models.DebtStatusPaid,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *gormRepository) CreatePaymentLink(ctx context.Context, link *models.PaymentLink) error {
	return r.db.WithContext(ctx).Create(link).Error
}

func (r *gormRepository) FindPendingPaymentLink(ctx context.Context, tenantID uint, gateway, externalID string) (*models.PaymentLink, error) {
	var link models.PaymentLink
	err := r.db.WithContext(ctx).
		Joins("JOIN gateway_credentials gc ON gc.id = payment_links.credential_id").
		Where("payment_links.external_id = ? AND payment_links.status = ? AND payment_links.gateway = ? AND gc.tenant_id = ?",
			externalID, models.PaymentLinkStatusPending, gateway, tenantID).
		Order("payment_links.id DESC").
		First(&link).Error
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// MarkPaymentLinkPaid flips a pending link to paid. It reports false when the
// link was no longer pending, which means a concurrent delivery won.
func (r *gormRepository) MarkPaymentLinkPaid(ctx context.Context, id uint, paidAt time.Time, fee, net decimal.Decimal) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.PaymentLink{}).
		Where("id = ? AND status = ?", id, models.PaymentLinkStatusPending).
		Updates(map[string]interface{}{
			"status":     models.PaymentLinkStatusPaid,
			"paid_at":    paidAt,
			"fee":        fee,
			"net_amount": net,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *gormRepository) ExpirePaymentLink(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.PaymentLink{}).
		Where("id = ? AND status = ?", id, models.PaymentLinkStatusPending).
		Update("status", models.PaymentLinkStatusExpired)
	return res.RowsAffected == 1, res.Error
}

func (r *gormRepository) CreatePaymentHistory(ctx context.Context, entry *models.PaymentHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *gormRepository) FindSubscriptionByExternalID(ctx context.Context, tenantID uint, externalID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND external_id = ?", tenantID, externalID).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(sub).Error
}

func (r *gormRepository) CancelOtherLiveSubscriptions(ctx context.Context, tenantID, keepID uint, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("tenant_id = ? AND id <> ? AND status IN ?", tenantID, keepID, models.LiveSubscriptionStatuses).
		Updates(map[string]interface{}{
			"status":       models.SubscriptionStatusCancelled,
			"cancelled_at": at,
		})
	return res.RowsAffected, res.Error
}

func (r *gormRepository) ResetResources(ctx context.Context, subscriptionID uint) error {
	row := models.Resources{SubscriptionID: subscriptionID}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "subscription_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"whatsapp_used": 0,
			"email_used":    0,
			"api_used":      0,
			"clients_used":  0,
			"updated_at":    time.Now(),
		}),
	}).Create(&row).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.GatewayWebhookEvent) (bool, *models.GatewayWebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"},
			{Name: "gateway"},
			{Name: "event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.GatewayWebhookEvent
	if err := r.db.WithContext(ctx).Where("tenant_id = ? AND gateway = ? AND event_id = ?", event.TenantID, event.Gateway, event.EventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.GatewayWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
