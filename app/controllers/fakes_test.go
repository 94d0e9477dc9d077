package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/CobroFox/app/models"
	"github.com/ManuelReschke/CobroFox/internal/pkg/billing"
	"github.com/ManuelReschke/CobroFox/internal/pkg/tenantcontext"
)

const testTenantID uint = 1

// newTestApp mounts handlers behind a stand-in for the API key middleware.
func newTestApp(register func(app *fiber.App)) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		tenantcontext.Set(c, &models.Tenant{ID: testTenantID, Name: "Rentas Norte"})
		return c.Next()
	})
	register(app)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

type fakeProcessor struct {
	outcome billing.WebhookOutcome
	err     error

	tenantID uint
	gateway  string
	payload  []byte
	headers  http.Header
}

func (f *fakeProcessor) ProcessWebhook(_ context.Context, tenantID uint, gateway string, payload []byte, headers http.Header) (billing.WebhookOutcome, error) {
	f.tenantID = tenantID
	f.gateway = gateway
	f.payload = payload
	f.headers = headers
	return f.outcome, f.err
}

type fakeIssuer struct {
	link     *models.PaymentLink
	err      error
	requests []billing.PaymentLinkRequest
}

func (f *fakeIssuer) IssuePaymentLink(_ context.Context, req billing.PaymentLinkRequest) (*models.PaymentLink, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.link, nil
}

type fakeTenantRepo struct {
	tenant    *models.Tenant
	sub       *models.Subscription
	updated   *models.Tenant
	updateErr error
}

func (f *fakeTenantRepo) GetByID(_ context.Context, id uint) (*models.Tenant, error) {
	if f.tenant == nil || f.tenant.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *f.tenant
	return &cp, nil
}

func (f *fakeTenantRepo) GetByAPIKeyHash(context.Context, string) (*models.Tenant, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeTenantRepo) Update(_ context.Context, tenant *models.Tenant) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	cp := *tenant
	f.updated = &cp
	return nil
}

func (f *fakeTenantRepo) LiveSubscription(context.Context, uint) (*models.Subscription, error) {
	if f.sub == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return f.sub, nil
}

type fakeCredentialRepo struct {
	stored []models.GatewayCredential
}

func (f *fakeCredentialRepo) Upsert(_ context.Context, cred *models.GatewayCredential) error {
	cred.ID = uint(len(f.stored) + 1)
	f.stored = append(f.stored, *cred)
	return nil
}

func (f *fakeCredentialRepo) ListByTenant(_ context.Context, tenantID uint) ([]models.GatewayCredential, error) {
	var out []models.GatewayCredential
	for _, c := range f.stored {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out, nil
}

// fakeDebtRepo matches statuses byte for byte like the MySQL column would
// with a binary collation.
type fakeDebtRepo struct {
	mu       sync.Mutex
	clients  []models.Client
	debts    []models.Debt
	statuses []models.DebtStatus
}

func (f *fakeDebtRepo) FindClientByPhone(_ context.Context, tenantID uint, phone string) (*models.Client, error) {
	for _, c := range f.clients {
		if c.TenantID == tenantID && c.Phone == phone {
			cp := c
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeDebtRepo) ListByClientAndStatus(_ context.Context, clientID uint, status models.DebtStatus) ([]models.Debt, error) {
	f.mu.Lock()
	f.statuses = append(f.statuses, status)
	f.mu.Unlock()
	var out []models.Debt
	for _, d := range f.debts {
		if d.ClientID == clientID && d.Status == status {
			out = append(out, d)
		}
	}
	return out, nil
}
