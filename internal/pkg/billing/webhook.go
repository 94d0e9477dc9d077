package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/CobroFox/app/models"
)

type WebhookOutcome string

const (
	OutcomeProcessed WebhookOutcome = "processed"
	OutcomeDuplicate WebhookOutcome = "duplicate"
	OutcomeIgnored   WebhookOutcome = "ignored"
)

// ProcessWebhook verifies, records and applies one gateway delivery for the
// tenant named in the route. Verification happens before anything is read
// from the payload.
func (s *Service) ProcessWebhook(ctx context.Context, tenantID uint, gateway string, payload []byte, headers http.Header) (WebhookOutcome, error) {
	cred, err := s.ResolveCredential(ctx, tenantID, gateway)
	if err != nil {
		return "", err
	}
	if !webhookConfigured(cred) {
		log.Warnf("[Webhook] Tenant %d has no %s webhook configuration", tenantID, cred.Gateway)
		return "", ErrCredentialMissing
	}

	gw, err := s.gateways(cred)
	if err != nil {
		return "", err
	}
	if !gw.VerifyWebhook(ctx, payload, headers) {
		log.Warnf("[Webhook] Rejected %s delivery for tenant %d: signature verification failed", cred.Gateway, tenantID)
		return "", ErrInvalidSignature
	}

	ev, err := gw.ParseEvent(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	meta := ev.Meta()
	sum := sha256.Sum256(payload)
	eventID := meta.ID
	if eventID == "" {
		eventID = hex.EncodeToString(sum[:])
	}
	created, record, err := s.repo.CreateWebhookEventIfNotExists(ctx, &models.GatewayWebhookEvent{
		TenantID:      tenantID,
		Gateway:       cred.Gateway,
		EventID:       eventID,
		EventType:     meta.Type,
		PayloadSHA256: hex.EncodeToString(sum[:]),
		PayloadJSON:   string(payload),
	})
	if err != nil {
		return "", err
	}
	if !created && record.Succeeded() {
		log.Infof("[Webhook] Duplicate %s event %s for tenant %d", cred.Gateway, eventID, tenantID)
		return OutcomeDuplicate, nil
	}

	handleErr := s.HandleEvent(ctx, tenantID, gw, ev)
	processingError := ""
	if handleErr != nil {
		processingError = handleErr.Error()
	}
	if err := s.repo.MarkWebhookProcessed(ctx, record.ID, processingError); err != nil {
		log.Errorf("[Webhook] Failed to mark %s event %s processed: %v", cred.Gateway, eventID, err)
	}
	if handleErr != nil {
		return "", handleErr
	}
	if ev.Kind() == KindUnhandled {
		return OutcomeIgnored, nil
	}
	return OutcomeProcessed, nil
}

// HandleEvent dispatches a verified event on its kind.
func (s *Service) HandleEvent(ctx context.Context, tenantID uint, gw Gateway, ev Event) error {
	switch e := ev.(type) {
	case *PaymentCaptured:
		return s.ReconcilePaymentCaptured(ctx, tenantID, *e)
	case *OrderApproved:
		return s.captureApprovedOrder(ctx, tenantID, gw, e)
	case *PaymentLinkExpired:
		return s.ExpirePaymentLink(ctx, tenantID, gw.Name(), e.ExternalID)
	case *SubscriptionRenewed:
		return s.ApplySubscriptionRenewal(ctx, tenantID, e.SubscriptionID)
	case *SubscriptionPaymentFailed:
		return s.MarkSubscriptionPastDue(ctx, tenantID, e.SubscriptionID)
	case *SubscriptionCancelled:
		return s.CancelSubscription(ctx, tenantID, e.SubscriptionID, e.CancelledAt)
	default:
		meta := ev.Meta()
		log.Infof("[Webhook] Ignoring %s event %s (%s)", gw.Name(), meta.ID, meta.Type)
		return nil
	}
}

// captureApprovedOrder captures an approved order that has a pending link and
// reconciles the capture result right away.
func (s *Service) captureApprovedOrder(ctx context.Context, tenantID uint, gw Gateway, ev *OrderApproved) error {
	if !tenantHintMatches(ev.TenantHint, tenantID) {
		log.Warnf("[Webhook] Tenant mismatch for approved order %s: route tenant %d, event tenant %q; ignoring",
			ev.OrderID, tenantID, ev.TenantHint)
		return nil
	}
	capturer, ok := gw.(OrderCapturer)
	if !ok {
		return nil
	}
	if _, err := s.repo.FindPendingPaymentLink(ctx, tenantID, gw.Name(), ev.OrderID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Infof("[Webhook] Approved order %s has no pending link for tenant %d", ev.OrderID, tenantID)
			return nil
		}
		return err
	}

	captured, err := capturer.CaptureOrder(ctx, ev.OrderID)
	if err != nil {
		if errors.Is(err, ErrAlreadyCaptured) {
			log.Infof("[Webhook] Order %s was already captured", ev.OrderID)
			return nil
		}
		return err
	}
	if captured.ID == "" {
		captured.EventMeta = ev.EventMeta
	}
	return s.ReconcilePaymentCaptured(ctx, tenantID, *captured)
}
