package middleware

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/CobroFox/app/models"
	"github.com/ManuelReschke/CobroFox/internal/pkg/tenantcontext"
)

const testKey = "cf_0123456789abcdef"

type fakeTenants struct {
	tenant    *models.Tenant
	sub       *models.Subscription
	lookupErr error
}

func (f *fakeTenants) GetByID(context.Context, uint) (*models.Tenant, error) {
	return f.tenant, nil
}

func (f *fakeTenants) GetByAPIKeyHash(_ context.Context, hash string) (*models.Tenant, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	if f.tenant == nil || hash != models.HashAPIKey(testKey) {
		return nil, gorm.ErrRecordNotFound
	}
	return f.tenant, nil
}

func (f *fakeTenants) Update(context.Context, *models.Tenant) error { return nil }

func (f *fakeTenants) LiveSubscription(context.Context, uint) (*models.Subscription, error) {
	if f.sub == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return f.sub, nil
}

func newAuthApp(repo *fakeTenants, now time.Time) *fiber.App {
	app := fiber.New()
	app.Use(TenantAuthMiddleware(repo))
	app.Get("/me", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"tenant_id": tenantcontext.GetTenantID(c)})
	})
	paid := RequireSubscription(repo, func() time.Time { return now })
	app.Get("/paid", paid, func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	app.Get("/api-call", paid, RequireQuota(models.ResourceAPI), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func TestTenantAuthMiddleware(t *testing.T) {
	repo := &fakeTenants{tenant: &models.Tenant{ID: 3, Name: "Rentas Norte"}}
	app := newAuthApp(repo, time.Now())

	tests := []struct {
		name   string
		header string
		value  string
		status int
	}{
		{name: "missing key", status: fiber.StatusUnauthorized},
		{name: "wrong key", header: "X-API-Key", value: "cf_wrong", status: fiber.StatusUnauthorized},
		{name: "x-api-key", header: "X-API-Key", value: testKey, status: fiber.StatusOK},
		{name: "bearer", header: "Authorization", value: "Bearer " + testKey, status: fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	repo.lookupErr = errors.New("connection refused")
	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("X-API-Key", testKey)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestRequireSubscription(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	renewal := now.Add(-48 * time.Hour)

	tests := []struct {
		name   string
		sub    *models.Subscription
		status int
	}{
		{name: "no subscription", status: fiber.StatusPaymentRequired},
		{name: "active", sub: &models.Subscription{Status: models.SubscriptionStatusActive, RenewalDate: now.AddDate(0, 0, 10)}, status: fiber.StatusNoContent},
		{name: "past due in grace", sub: &models.Subscription{Status: models.SubscriptionStatusPastDue, RenewalDate: renewal}, status: fiber.StatusNoContent},
		{name: "past due after grace", sub: &models.Subscription{Status: models.SubscriptionStatusPastDue, RenewalDate: now.Add(-models.GracePeriod - time.Second)}, status: fiber.StatusPaymentRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeTenants{tenant: &models.Tenant{ID: 3}, sub: tt.sub}
			app := newAuthApp(repo, now)
			req := httptest.NewRequest("GET", "/paid", nil)
			req.Header.Set("X-API-Key", testKey)
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestRequireQuota(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	sub := &models.Subscription{
		Status:      models.SubscriptionStatusActive,
		RenewalDate: now.AddDate(0, 0, 10),
		Plan:        &models.Plan{MaxAPI: 100},
		Resources:   &models.Resources{APIUsed: 99},
	}
	repo := &fakeTenants{tenant: &models.Tenant{ID: 3}, sub: sub}
	app := newAuthApp(repo, now)

	call := func() int {
		req := httptest.NewRequest("GET", "/api-call", nil)
		req.Header.Set("X-API-Key", testKey)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusNoContent, call())
	sub.Resources.APIUsed = 100
	assert.Equal(t, fiber.StatusTooManyRequests, call())
	sub.Plan.MaxAPI = 0
	assert.Equal(t, fiber.StatusNoContent, call())
}
