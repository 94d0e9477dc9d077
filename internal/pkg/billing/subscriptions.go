package billing

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/CobroFox/app/models"
	"github.com/ManuelReschke/CobroFox/internal/pkg/realtime"
)

// ApplySubscriptionRenewal handles a paid subscription invoice: the
// subscription becomes active for one more month from now, a deferred plan
// change is applied and usage counters start from zero.
func (s *Service) ApplySubscriptionRenewal(ctx context.Context, tenantID uint, externalID string) error {
	now := s.now()
	var renewed *models.Subscription
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		sub, err := tx.FindSubscriptionByExternalID(ctx, tenantID, externalID)
		if err != nil {
			return err
		}
		sub.Renew(now)
		sub.CancelledAt = nil
		s.discardPendingUsage(ctx, sub.ID)
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		if err := tx.ResetResources(ctx, sub.ID); err != nil {
			return err
		}
		superseded, err := tx.CancelOtherLiveSubscriptions(ctx, tenantID, sub.ID, now)
		if err != nil {
			return err
		}
		if superseded > 0 {
			log.Infof("[Billing] Cancelled %d superseded subscription(s) of tenant %d", superseded, tenantID)
		}
		renewed = sub
		return nil
	})
	if err != nil {
		return s.subscriptionLookupError("renewal", tenantID, externalID, err)
	}

	log.Infof("[Billing] Subscription %d of tenant %d renewed until %s (plan %d)",
		renewed.ID, tenantID, renewed.RenewalDate.Format(time.RFC3339), renewed.PlanID)
	s.publishSubscription(ctx, renewed)
	return nil
}

func (s *Service) discardPendingUsage(ctx context.Context, subscriptionID uint) {
	if s.usage == nil {
		return
	}
	if err := s.usage(ctx, subscriptionID); err != nil {
		log.Warnf("[Billing] Failed to drop pending usage of subscription %d: %v", subscriptionID, err)
	}
}

// MarkSubscriptionPastDue records a failed renewal payment. Dates are left
// alone so the grace period counts from the missed renewal date.
func (s *Service) MarkSubscriptionPastDue(ctx context.Context, tenantID uint, externalID string) error {
	sub, err := s.updateSubscription(ctx, tenantID, externalID, func(sub *models.Subscription) bool {
		if sub.Status == models.SubscriptionStatusCancelled || sub.Status == models.SubscriptionStatusExpired {
			return false
		}
		sub.Status = models.SubscriptionStatusPastDue
		return true
	})
	if err != nil {
		return s.subscriptionLookupError("payment failure", tenantID, externalID, err)
	}
	if sub != nil {
		log.Infof("[Billing] Subscription %d of tenant %d is past due", sub.ID, tenantID)
	}
	return nil
}

// CancelSubscription marks the subscription cancelled. Access continues
// until the already paid renewal date.
func (s *Service) CancelSubscription(ctx context.Context, tenantID uint, externalID string, at time.Time) error {
	cancelledAt := s.nowOr(at)
	sub, err := s.updateSubscription(ctx, tenantID, externalID, func(sub *models.Subscription) bool {
		if sub.Status == models.SubscriptionStatusCancelled {
			return false
		}
		sub.Status = models.SubscriptionStatusCancelled
		sub.CancelledAt = &cancelledAt
		return true
	})
	if err != nil {
		return s.subscriptionLookupError("cancellation", tenantID, externalID, err)
	}
	if sub != nil {
		log.Infof("[Billing] Subscription %d of tenant %d cancelled, access until %s",
			sub.ID, tenantID, sub.RenewalDate.Format(time.RFC3339))
	}
	return nil
}

// updateSubscription loads, mutates and saves one subscription in a
// transaction. mutate returns false when nothing needs to change.
func (s *Service) updateSubscription(ctx context.Context, tenantID uint, externalID string, mutate func(*models.Subscription) bool) (*models.Subscription, error) {
	var changed *models.Subscription
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		sub, err := tx.FindSubscriptionByExternalID(ctx, tenantID, externalID)
		if err != nil {
			return err
		}
		if !mutate(sub) {
			return nil
		}
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		changed = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed != nil {
		s.publishSubscription(ctx, changed)
	}
	return changed, nil
}

// subscriptionLookupError turns an unknown subscription into a no-op; the
// gateway may announce subscriptions this system never created.
func (s *Service) subscriptionLookupError(op string, tenantID uint, externalID string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Infof("[Billing] Ignoring %s for unknown subscription %s of tenant %d", op, externalID, tenantID)
		return nil
	}
	return err
}

func (s *Service) publishSubscription(ctx context.Context, sub *models.Subscription) {
	realtime.PublishBestEffort(ctx, s.publisher, sub.TenantID, realtime.EventSubscriptionUpdated, map[string]interface{}{
		"subscription_id": sub.ID,
		"status":          sub.Status,
		"plan_id":         sub.PlanID,
		"renewal_date":    sub.RenewalDate,
	})
}
