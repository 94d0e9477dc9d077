package entitlements

import (
	"github.com/ManuelReschke/CobroFox/app/models"
)

// Limit returns the allowance of a plan for one resource per period.
// Zero means the plan does not cap that resource.
func Limit(plan *models.Plan, kind models.ResourceKind) int64 {
	if plan == nil {
		return 0
	}
	switch kind {
	case models.ResourceWhatsApp:
		return plan.MaxWhatsApp
	case models.ResourceEmail:
		return plan.MaxEmail
	case models.ResourceAPI:
		return plan.MaxAPI
	case models.ResourceClients:
		return plan.MaxClients
	default:
		return 0
	}
}

// Used returns the flushed usage of the current period.
func Used(res *models.Resources, kind models.ResourceKind) int64 {
	if res == nil {
		return 0
	}
	switch kind {
	case models.ResourceWhatsApp:
		return res.WhatsAppUsed
	case models.ResourceEmail:
		return res.EmailUsed
	case models.ResourceAPI:
		return res.APIUsed
	case models.ResourceClients:
		return res.ClientsUsed
	default:
		return 0
	}
}

// Remaining returns how many units are left, or -1 when uncapped.
func Remaining(plan *models.Plan, res *models.Resources, kind models.ResourceKind) int64 {
	limit := Limit(plan, kind)
	if limit <= 0 {
		return -1
	}
	left := limit - Used(res, kind)
	if left < 0 {
		return 0
	}
	return left
}

// Allows reports whether n more units of kind fit the subscription's plan.
// Usage is flushed from Redis every few seconds, so the check can lag
// slightly behind bursts.
func Allows(sub *models.Subscription, kind models.ResourceKind, n int64) bool {
	left := Remaining(sub.Plan, sub.Resources, kind)
	return left < 0 || left >= n
}
