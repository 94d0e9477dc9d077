package controllers

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CobroFox/app/models"
	"github.com/ManuelReschke/CobroFox/internal/pkg/billing"
	"github.com/ManuelReschke/CobroFox/internal/pkg/tenantcontext"
)

// PaymentLinkIssuer creates hosted checkouts for debts.
type PaymentLinkIssuer interface {
	IssuePaymentLink(ctx context.Context, req billing.PaymentLinkRequest) (*models.PaymentLink, error)
}

type paymentLinkRequest struct {
	Gateway string `json:"gateway" validate:"omitempty,oneof=stripe paypal"`
}

// PaymentLinkController exposes link issuing to tenant integrations.
type PaymentLinkController struct {
	issuer   PaymentLinkIssuer
	validate *validator.Validate
}

func NewPaymentLinkController(issuer PaymentLinkIssuer) *PaymentLinkController {
	return &PaymentLinkController{issuer: issuer, validate: validator.New()}
}

// HandleCreatePaymentLink answers POST /api/v1/debts/:id/payment-link with {"url": ...}.
func (pc *PaymentLinkController) HandleCreatePaymentLink(c *fiber.Ctx) error {
	debtID, ok := uintParam(c, "id")
	if !ok {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_request", "Invalid debt id")
	}

	var body paymentLinkRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return errorResponse(c, fiber.StatusBadRequest, "invalid_request", "Invalid JSON body")
		}
	}
	body.Gateway = strings.ToLower(strings.TrimSpace(body.Gateway))
	if err := pc.validate.Struct(body); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_request", "gateway must be stripe or paypal")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	link, err := pc.issuer.IssuePaymentLink(ctx, billing.PaymentLinkRequest{
		DebtID:   debtID,
		Gateway:  body.Gateway,
		TenantID: tenantcontext.GetTenantID(c),
	})
	if err != nil {
		return paymentLinkError(c, debtID, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"url":     link.URL,
		"gateway": link.Gateway,
		"amount":  link.Amount.StringFixed(2),
	})
}

func paymentLinkError(c *fiber.Ctx, debtID uint, err error) error {
	switch {
	case errors.Is(err, billing.ErrDebtNotFound), errors.Is(err, billing.ErrClientNotFound):
		return errorResponse(c, fiber.StatusNotFound, "not_found", "Debt not found")
	case errors.Is(err, billing.ErrCredentialMissing):
		return errorResponse(c, fiber.StatusNotFound, "credential_missing", "No active credential for this gateway")
	case errors.Is(err, billing.ErrUnsupportedGateway):
		return errorResponse(c, fiber.StatusBadRequest, "invalid_request", "Unsupported gateway")
	case errors.Is(err, billing.ErrDebtNotPayable):
		return errorResponse(c, fiber.StatusConflict, "not_payable", "Debt has no open balance")
	}

	var gwErr *billing.GatewayError
	if errors.As(err, &gwErr) {
		log.Errorf("[PaymentLink] gateway rejected checkout for debt %d (retryable=%t): %v", debtID, gwErr.Retryable(), err)
	} else {
		log.Errorf("[PaymentLink] failed to issue link for debt %d: %v", debtID, err)
	}
	return errorResponse(c, fiber.StatusInternalServerError, "payment_link_failed", "Error processing payment")
}
