package models

import (
	"time"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive     SubscriptionStatus = "activa"
	SubscriptionStatusPastDue    SubscriptionStatus = "pago_vencido"
	SubscriptionStatusCancelled  SubscriptionStatus = "cancelada"
	SubscriptionStatusIncomplete SubscriptionStatus = "incompleta"
	SubscriptionStatusExpired    SubscriptionStatus = "vencida"
)

// GracePeriod is how long a past-due subscription keeps access after its
// renewal date before it expires.
const GracePeriod = 72 * time.Hour

// LiveSubscriptionStatuses are the statuses of which a tenant may hold at most one subscription.
var LiveSubscriptionStatuses = []SubscriptionStatus{SubscriptionStatusActive, SubscriptionStatusPastDue}

// Subscription binds a tenant to a plan. NextPlanID holds a deferred plan
// change that is applied on the next successful renewal.
type Subscription struct {
	ID          uint               `gorm:"primaryKey" json:"id"`
	TenantID    uint               `gorm:"not null;index:idx_subscriptions_tenant_status,priority:1" json:"tenant_id"`
	Tenant      *Tenant            `gorm:"foreignKey:TenantID" json:"-"`
	PlanID      uint               `gorm:"not null;index" json:"plan_id"`
	Plan        *Plan              `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
	NextPlanID  *uint              `gorm:"default:null" json:"next_plan_id,omitempty"`
	Status      SubscriptionStatus `gorm:"type:varchar(20);not null;default:'incompleta';index:idx_subscriptions_tenant_status,priority:2;index:idx_subscriptions_status_renewal,priority:1" json:"status"`
	StartDate   time.Time          `gorm:"type:timestamp;not null" json:"start_date"`
	RenewalDate time.Time          `gorm:"type:timestamp;not null;index:idx_subscriptions_status_renewal,priority:2" json:"renewal_date"`
	CancelledAt *time.Time         `gorm:"type:timestamp;default:null" json:"cancelled_at,omitempty"`
	ExternalID  string             `gorm:"type:varchar(191);index" json:"external_id"`
	Gateway     string             `gorm:"type:varchar(20)" json:"gateway"`
	Resources   *Resources         `gorm:"foreignKey:SubscriptionID" json:"resources,omitempty"`
	CreatedAt   time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// GraceEndsAt is the instant after which a past-due subscription expires.
func (s *Subscription) GraceEndsAt() time.Time {
	return s.RenewalDate.Add(GracePeriod)
}

// HasAccess reports whether the tenant may still use the plan at now.
// Cancelled subscriptions keep access until the already paid period ends.
func (s *Subscription) HasAccess(now time.Time) bool {
	switch s.Status {
	case SubscriptionStatusActive:
		return true
	case SubscriptionStatusPastDue:
		return !now.After(s.GraceEndsAt())
	case SubscriptionStatusCancelled:
		return now.Before(s.RenewalDate)
	default:
		return false
	}
}

// IsLive reports whether the subscription counts toward the one-per-tenant rule.
func (s *Subscription) IsLive() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusPastDue
}

// Renew starts a new one month period at now and promotes a deferred plan.
func (s *Subscription) Renew(now time.Time) {
	s.Status = SubscriptionStatusActive
	s.StartDate = now
	s.RenewalDate = now.AddDate(0, 1, 0)
	if s.NextPlanID != nil {
		s.PlanID = *s.NextPlanID
		s.NextPlanID = nil
	}
}
