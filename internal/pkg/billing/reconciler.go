package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ManuelReschke/CobroFox/app/models"
	"github.com/ManuelReschke/CobroFox/internal/pkg/metrics"
	"github.com/ManuelReschke/CobroFox/internal/pkg/realtime"
)

// errLinkAlreadySettled aborts the transaction when a concurrent delivery
// moved the link out of pending first. It never leaves this file.
var errLinkAlreadySettled = errors.New("payment link already settled")

// ReconcilePaymentCaptured applies a captured payment to the pending link and
// its debt exactly once. Unknown or already settled links are a silent no-op;
// a debt that cannot be settled yields an IntegrityError and no writes.
func (s *Service) ReconcilePaymentCaptured(ctx context.Context, tenantID uint, ev PaymentCaptured) error {
	gateway := strings.ToLower(ev.Method)
	if ev.ExternalID == "" {
		log.Warnf("[Reconciler] %s event %s carries no correlation id, ignoring", gateway, ev.ID)
		return nil
	}
	if !tenantHintMatches(ev.TenantHint, tenantID) {
		log.Warnf("[Reconciler] Tenant mismatch for %s %s: route tenant %d, event tenant %q; ignoring",
			gateway, ev.ExternalID, tenantID, ev.TenantHint)
		metrics.PaymentsReconciled.WithLabelValues(gateway, "tenant_mismatch").Inc()
		return nil
	}

	link, err := s.repo.FindPendingPaymentLink(ctx, tenantID, gateway, ev.ExternalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Infof("[Reconciler] No pending %s link %s for tenant %d (duplicate or unknown)", gateway, ev.ExternalID, tenantID)
			metrics.PaymentsReconciled.WithLabelValues(gateway, "noop").Inc()
			return nil
		}
		return err
	}

	fee, net := s.settlementAmounts(ctx, ev, link)
	paidAt := s.nowOr(ev.CapturedAt)
	reference := ev.Reference
	if reference == "" {
		reference = ev.ExternalID
	}

	var debt *models.Debt
	err = s.repo.Transaction(ctx, func(tx Repository) error {
		updated, err := tx.MarkPaymentLinkPaid(ctx, link.ID, paidAt, fee, net)
		if err != nil {
			return err
		}
		if !updated {
			return errLinkAlreadySettled
		}

		d, err := tx.GetDebtForUpdate(ctx, link.DebtID)
		if err != nil {
			return fmt.Errorf("load debt %d: %w", link.DebtID, err)
		}
		if !d.Settleable() {
			return &IntegrityError{DebtID: d.ID, Status: d.Status, Balance: d.Balance, Reason: "debt is not pending or overdue"}
		}
		if !d.Balance.IsPositive() {
			return &IntegrityError{DebtID: d.ID, Status: d.Status, Balance: d.Balance, Reason: "debt has no outstanding balance"}
		}

		settled, err := tx.SettleDebt(ctx, d.ID)
		if err != nil {
			return err
		}
		if !settled {
			return &IntegrityError{DebtID: d.ID, Status: d.Status, Balance: d.Balance, Reason: "debt changed during settlement"}
		}

		if err := tx.CreatePaymentHistory(ctx, &models.PaymentHistory{
			DebtID:        d.ID,
			PaymentLinkID: link.ID,
			Amount:        net,
			Reference:     reference,
			Method:        gateway,
			Notes:         fmt.Sprintf("Pago %s %s (bruto %s, comision %s)", gateway, ev.ExternalID, link.Amount.StringFixed(2), fee.StringFixed(2)),
			PaidAt:        paidAt,
		}); err != nil {
			return fmt.Errorf("insert payment history: %w", err)
		}

		d.Balance = decimal.Zero
		d.Status = models.DebtStatusPaid
		debt = d
		return nil
	})
	if err != nil {
		if errors.Is(err, errLinkAlreadySettled) {
			log.Infof("[Reconciler] %s link %s settled by a concurrent delivery", gateway, ev.ExternalID)
			metrics.PaymentsReconciled.WithLabelValues(gateway, "noop").Inc()
			return nil
		}
		var integrity *IntegrityError
		if errors.As(err, &integrity) {
			log.Errorf("[Reconciler] Integrity violation for %s link %s (tenant %d, debt %d, prior status %s): %s",
				gateway, ev.ExternalID, tenantID, integrity.DebtID, integrity.Status, integrity.Reason)
			metrics.PaymentsReconciled.WithLabelValues(gateway, "integrity_error").Inc()
			return err
		}
		metrics.PaymentsReconciled.WithLabelValues(gateway, "error").Inc()
		return err
	}

	metrics.PaymentsReconciled.WithLabelValues(gateway, "paid").Inc()
	log.Infof("[Reconciler] Debt %d paid via %s %s (net %s)", debt.ID, gateway, ev.ExternalID, net.StringFixed(2))

	realtime.PublishBestEffort(ctx, s.publisher, tenantID, realtime.EventPaymentReceived, map[string]interface{}{
		"debt_id":         debt.ID,
		"payment_link_id": link.ID,
		"gateway":         gateway,
		"amount":          net.StringFixed(2),
		"reference":       reference,
		"paid_at":         paidAt,
	})
	realtime.PublishBestEffort(ctx, s.publisher, tenantID, realtime.EventDebtUpdated, map[string]interface{}{
		"debt_id": debt.ID,
		"status":  debt.Status,
		"balance": debt.Balance.StringFixed(2),
	})
	return nil
}

// settlementAmounts determines fee and net for the ledger entry. Lookup
// failures fall back to the gross amount with no fee.
func (s *Service) settlementAmounts(ctx context.Context, ev PaymentCaptured, link *models.PaymentLink) (decimal.Decimal, decimal.Decimal) {
	fee, net := ev.Fee, ev.Net
	if ev.Settlement != nil {
		f, n, err := ev.Settlement(ctx)
		if err != nil {
			log.Warnf("[Reconciler] Settlement lookup for %s failed, recording gross amount: %v", ev.ExternalID, err)
		} else {
			fee, net = f, n
		}
	}
	if net.IsZero() {
		gross := ev.Gross
		if gross.IsZero() {
			gross = link.Amount
		}
		net = gross.Sub(fee)
	}
	return fee.Round(2), net.Round(2)
}

// ExpirePaymentLink marks the pending link for externalID as expired.
func (s *Service) ExpirePaymentLink(ctx context.Context, tenantID uint, gateway, externalID string) error {
	link, err := s.repo.FindPendingPaymentLink(ctx, tenantID, gateway, externalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	expired, err := s.repo.ExpirePaymentLink(ctx, link.ID)
	if err != nil {
		return err
	}
	if expired {
		log.Infof("[Billing] Payment link %s of tenant %d expired", externalID, tenantID)
	}
	return nil
}

func tenantHintMatches(hint string, tenantID uint) bool {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return true
	}
	id, err := strconv.ParseUint(hint, 10, 64)
	if err != nil {
		return false
	}
	return uint(id) == tenantID
}

func formatTenantHint(tenantID uint) string {
	return strconv.FormatUint(uint64(tenantID), 10)
}

// nowOr returns t, or the service clock when t is zero.
func (s *Service) nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return s.now()
	}
	return t
}
