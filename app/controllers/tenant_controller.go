package controllers

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/CobroFox/app/models"
	"github.com/ManuelReschke/CobroFox/app/repository"
	"github.com/ManuelReschke/CobroFox/internal/pkg/tenantcontext"
)

// TenantController serves the tenant's own profile and gateway credentials.
type TenantController struct {
	tenants     repository.TenantRepository
	credentials repository.GatewayCredentialRepository
	validate    *validator.Validate
}

func NewTenantController(tenants repository.TenantRepository, credentials repository.GatewayCredentialRepository) *TenantController {
	return &TenantController{
		tenants:     tenants,
		credentials: credentials,
		validate:    validator.New(),
	}
}

type updateTenantRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	CompanyName string `json:"company_name"`
	Timezone    string `json:"timezone"`
}

type credentialRequest struct {
	APIKey        string `json:"api_key" validate:"max=255"`
	APISecret     string `json:"api_secret" validate:"required,max=255"`
	WebhookSecret string `json:"webhook_secret" validate:"max=255"`
	WebhookID     string `json:"webhook_id" validate:"max=191"`
	Active        *bool  `json:"active"`
}

// missingField reports the first field the gateway needs that the request
// left empty.
func (r credentialRequest) missingField(gateway string) string {
	switch gateway {
	case models.GatewayStripe:
		if r.WebhookSecret == "" {
			return "webhook_secret"
		}
	case models.GatewayPayPal:
		if r.APIKey == "" {
			return "api_key"
		}
		if r.WebhookID == "" {
			return "webhook_id"
		}
	}
	return ""
}

// HandleGetTenant answers GET /api/v1/tenant.
func (tc *TenantController) HandleGetTenant(c *fiber.Ctx) error {
	tenantID := tenantcontext.GetTenantID(c)
	ctx, cancel := requestContext(c)
	defer cancel()

	tenant, err := tc.tenants.GetByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorResponse(c, fiber.StatusNotFound, "not_found", "Tenant not found")
		}
		log.Errorf("[Tenant] failed to load tenant %d: %v", tenantID, err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load tenant")
	}

	creds, err := tc.credentials.ListByTenant(ctx, tenantID)
	if err != nil {
		log.Errorf("[Tenant] failed to list credentials of tenant %d: %v", tenantID, err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load credentials")
	}

	var subscription *models.Subscription
	sub, err := tc.tenants.LiveSubscription(ctx, tenantID)
	switch {
	case err == nil:
		subscription = sub
	case !errors.Is(err, gorm.ErrRecordNotFound):
		log.Warnf("[Tenant] failed to load subscription of tenant %d: %v", tenantID, err)
	}

	return c.JSON(fiber.Map{
		"tenant":       tenant,
		"credentials":  creds,
		"subscription": subscription,
	})
}

// HandleUpdateTenant answers PUT /api/v1/tenant. Empty fields keep their value.
func (tc *TenantController) HandleUpdateTenant(c *fiber.Ctx) error {
	var req updateTenantRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_request", "Invalid JSON body")
	}

	tenantID := tenantcontext.GetTenantID(c)
	ctx, cancel := requestContext(c)
	defer cancel()

	tenant, err := tc.tenants.GetByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorResponse(c, fiber.StatusNotFound, "not_found", "Tenant not found")
		}
		log.Errorf("[Tenant] failed to load tenant %d: %v", tenantID, err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load tenant")
	}

	for dst, src := range map[*string]string{
		&tenant.Name:        req.Name,
		&tenant.Email:       req.Email,
		&tenant.Phone:       req.Phone,
		&tenant.CompanyName: req.CompanyName,
		&tenant.Timezone:    req.Timezone,
	} {
		if v := strings.TrimSpace(src); v != "" {
			*dst = v
		}
	}
	if err := tenant.Validate(); err != nil {
		return errorResponse(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}

	if err := tc.tenants.Update(ctx, tenant); err != nil {
		log.Errorf("[Tenant] failed to update tenant %d: %v", tenantID, err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to update tenant")
	}
	return c.JSON(fiber.Map{"tenant": tenant})
}

// HandleUpsertCredential answers PUT /api/v1/tenant/credentials/:gateway and
// replaces the tenant's credential for that gateway.
func (tc *TenantController) HandleUpsertCredential(c *fiber.Ctx) error {
	gateway := models.NormalizeGateway(c.Params("gateway"))
	if gateway == "" {
		return errorResponse(c, fiber.StatusNotFound, "not_found", "Unsupported gateway")
	}

	var req credentialRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_request", "Invalid JSON body")
	}
	req.APIKey = strings.TrimSpace(req.APIKey)
	req.APISecret = strings.TrimSpace(req.APISecret)
	req.WebhookSecret = strings.TrimSpace(req.WebhookSecret)
	req.WebhookID = strings.TrimSpace(req.WebhookID)
	if err := tc.validate.Struct(req); err != nil {
		return errorResponse(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}
	if field := req.missingField(gateway); field != "" {
		return errorResponse(c, fiber.StatusUnprocessableEntity, "validation_failed", field+" is required for "+gateway)
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	cred := &models.GatewayCredential{
		TenantID:      tenantcontext.GetTenantID(c),
		Gateway:       gateway,
		APIKey:        req.APIKey,
		APISecret:     req.APISecret,
		WebhookSecret: req.WebhookSecret,
		WebhookID:     req.WebhookID,
		Active:        active,
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	if err := tc.credentials.Upsert(ctx, cred); err != nil {
		log.Errorf("[Tenant] failed to store %s credential for tenant %d: %v", gateway, cred.TenantID, err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to store credential")
	}

	log.Infof("[Tenant] stored %s credential for tenant %d", gateway, cred.TenantID)
	return c.JSON(fiber.Map{"credential": cred})
}
