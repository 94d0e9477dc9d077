package maintenance

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/CobroFox/app/models"
)

// Repository holds the bulk queries of the periodic maintenance run.
type Repository interface {
	MarkOverdueDebts(ctx context.Context, now time.Time) (int64, error)
	ExpirePastDueSubscriptions(ctx context.Context, renewedBefore time.Time) (int64, error)
	// SubscriptionsRenewingBetween returns subscriptions in status whose
	// renewal date lies in [from, to), with Tenant and Plan loaded.
	SubscriptionsRenewingBetween(ctx context.Context, status models.SubscriptionStatus, from, to time.Time) ([]models.Subscription, error)
	DeleteCancelledSubscriptions(ctx context.Context, cancelledBefore time.Time) (int64, error)
	DeleteOrphanedResources(ctx context.Context) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) MarkOverdueDebts(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Debt{}).
		Where("status = ? AND due_date < ? AND balance > 0", models.DebtStatusPending, now).
		Update("status", models.DebtStatusOverdue)
	return res.RowsAffected, res.Error
}

func (r *gormRepository) ExpirePastDueSubscriptions(ctx context.Context, renewedBefore time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("status = ? AND renewal_date < ?", models.SubscriptionStatusPastDue, renewedBefore).
		Update("status", models.SubscriptionStatusExpired)
	return res.RowsAffected, res.Error
}

func (r *gormRepository) SubscriptionsRenewingBetween(ctx context.Context, status models.SubscriptionStatus, from, to time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Preload("Tenant").
		Preload("Plan").
		Where("status = ? AND renewal_date >= ? AND renewal_date < ?", status, from, to).
		Order("id ASC").
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) DeleteCancelledSubscriptions(ctx context.Context, cancelledBefore time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND cancelled_at IS NOT NULL AND cancelled_at < ?", models.SubscriptionStatusCancelled, cancelledBefore).
		Delete(&models.Subscription{})
	return res.RowsAffected, res.Error
}

func (r *gormRepository) DeleteOrphanedResources(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("NOT EXISTS (SELECT 1 FROM subscriptions s WHERE s.id = resources.subscription_id)").
		Delete(&models.Resources{})
	return res.RowsAffected, res.Error
}
