package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CobroFox/app/models"
	"github.com/ManuelReschke/CobroFox/internal/pkg/billing"
	"github.com/ManuelReschke/CobroFox/internal/pkg/metrics"
)

// WebhookProcessor verifies and applies one gateway delivery.
type WebhookProcessor interface {
	ProcessWebhook(ctx context.Context, tenantID uint, gateway string, payload []byte, headers http.Header) (billing.WebhookOutcome, error)
}

// WebhookController receives Stripe and PayPal notifications for a tenant.
type WebhookController struct {
	processor WebhookProcessor
}

func NewWebhookController(processor WebhookProcessor) *WebhookController {
	return &WebhookController{processor: processor}
}

// HandleGatewayWebhook answers POST /webhooks/:tenantId/:gateway. Gateways only
// see the status code: 200 for processed, duplicate and ignored deliveries.
func (wc *WebhookController) HandleGatewayWebhook(c *fiber.Ctx) error {
	started := time.Now()
	gateway := models.NormalizeGateway(c.Params("gateway"))
	label := gateway
	if label == "" {
		label = "unknown"
	}
	defer func() {
		metrics.WebhookDuration.WithLabelValues(label).Observe(time.Since(started).Seconds())
	}()

	tenantID, ok := uintParam(c, "tenantId")
	if !ok || gateway == "" {
		metrics.WebhookRequests.WithLabelValues(label, "not_found").Inc()
		return errorResponse(c, fiber.StatusNotFound, "not_found", "Unknown webhook endpoint")
	}

	// fasthttp reuses the body buffer once the handler returns.
	payload := append([]byte(nil), c.Body()...)

	ctx, cancel := requestContext(c)
	defer cancel()

	outcome, err := wc.processor.ProcessWebhook(ctx, tenantID, gateway, payload, requestHeaders(c))
	if err != nil {
		status, code := webhookErrorStatus(err)
		metrics.WebhookRequests.WithLabelValues(label, code).Inc()
		if status == fiber.StatusInternalServerError {
			log.Errorf("[Webhook] %s delivery for tenant %d from %s failed: %v", gateway, tenantID, GetClientIP(c), err)
		} else {
			log.Warnf("[Webhook] %s delivery for tenant %d from %s rejected: %v", gateway, tenantID, GetClientIP(c), err)
		}
		return errorResponse(c, status, code, "Webhook could not be processed")
	}

	metrics.WebhookRequests.WithLabelValues(label, string(outcome)).Inc()
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "outcome": outcome})
}

// webhookErrorStatus maps processing errors onto the status a gateway sees.
// Configuration problems answer 404 so gateways stop retrying deliveries
// for deleted tenants.
func webhookErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, billing.ErrCredentialMissing), errors.Is(err, billing.ErrUnsupportedGateway):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, billing.ErrInvalidSignature):
		return fiber.StatusUnauthorized, "invalid_signature"
	case errors.Is(err, billing.ErrMalformedEvent):
		return fiber.StatusBadRequest, "invalid_payload"
	default:
		return fiber.StatusInternalServerError, "processing_failed"
	}
}
