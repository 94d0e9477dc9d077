package controllers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/CobroFox/app/models"
	"github.com/ManuelReschke/CobroFox/internal/pkg/billing"
)

func seedDebts() *fakeDebtRepo {
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return &fakeDebtRepo{
		clients: []models.Client{
			{ID: 10, TenantID: testTenantID, Name: "Ana", Phone: "+5215512345678"},
			{ID: 11, TenantID: 2, Name: "Luis", Phone: "+5215599999999"},
		},
		debts: []models.Debt{
			{ID: 30, ClientID: 10, Balance: decimal.RequireFromString("500"), Currency: "MXN", Status: models.DebtStatusPending, DueDate: due.AddDate(0, 1, 0)},
			{ID: 31, ClientID: 10, Balance: decimal.RequireFromString("250.50"), Currency: "MXN", Status: models.DebtStatusPending, DueDate: due.AddDate(0, 2, 0)},
			{ID: 32, ClientID: 10, Balance: decimal.RequireFromString("100"), Currency: "MXN", Status: models.DebtStatusOverdue, DueDate: due},
			{ID: 33, ClientID: 10, Balance: decimal.Zero, Currency: "MXN", Status: models.DebtStatusPaid, DueDate: due},
			{ID: 40, ClientID: 11, Balance: decimal.RequireFromString("900"), Currency: "MXN", Status: models.DebtStatusPending, DueDate: due},
		},
	}
}

func newChatbotApp(debts *fakeDebtRepo, issuer *fakeIssuer, usage UsageFunc) *fiber.App {
	cc := NewChatbotController(debts, issuer, usage)
	return newTestApp(func(app *fiber.App) {
		app.Post("/api/v1/chatbot/fulfillment", cc.HandleFulfillment)
	})
}

func fulfillment(intent, params string) string {
	return `{"queryResult":{"intent":{"displayName":"` + intent + `"},"parameters":` + params + `}}`
}

func TestChatbotDebtQuery_UsesLowercasePendingStatus(t *testing.T) {
	debts := seedDebts()
	app := newChatbotApp(debts, &fakeIssuer{}, nil)

	status, body := doJSON(t, app, "POST", "/api/v1/chatbot/fulfillment", fulfillment(IntentDebtQuery, `{"telefono":"+52 1 55 1234 5678"}`))
	require.Equal(t, fiber.StatusOK, status)

	require.Equal(t, []models.DebtStatus{"pendiente"}, debts.statuses)
	payload := body["payload"].(map[string]interface{})
	assert.Len(t, payload["debts"], 2)
	assert.Equal(t, "750.50", payload["total"])
	assert.Contains(t, body["fulfillmentText"], "Ana")
}

func TestChatbotDebtQuery_LegacyUppercaseStatusIsNormalized(t *testing.T) {
	debts := seedDebts()
	app := newChatbotApp(debts, &fakeIssuer{}, nil)

	status, body := doJSON(t, app, "POST", "/api/v1/chatbot/fulfillment", fulfillment(IntentDebtQuery, `{"telefono":"+5215512345678","estado":"PENDIENTE"}`))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, []models.DebtStatus{models.DebtStatusPending}, debts.statuses)
	assert.Equal(t, "750.50", body["payload"].(map[string]interface{})["total"])

	debts.statuses = nil
	_, body = doJSON(t, app, "POST", "/api/v1/chatbot/fulfillment", fulfillment(IntentDebtQuery, `{"telefono":"+5215512345678","estado":"Vencido"}`))
	assert.Equal(t, []models.DebtStatus{models.DebtStatusOverdue}, debts.statuses)
	assert.Equal(t, "100.00", body["payload"].(map[string]interface{})["total"])
}

func TestChatbotDebtQuery_PhoneFromChannelPayload(t *testing.T) {
	app := newChatbotApp(seedDebts(), &fakeIssuer{}, nil)
	body := `{"queryResult":{"intent":{"displayName":"deuda.consultar"}},"originalDetectIntentRequest":{"payload":{"from":"whatsapp:+5215512345678"}}}`

	status, resp := doJSON(t, app, "POST", "/api/v1/chatbot/fulfillment", body)
	require.Equal(t, fiber.StatusOK, status)
	assert.NotNil(t, resp["payload"])
}

func TestChatbotDebtQuery_ClientIsolation(t *testing.T) {
	app := newChatbotApp(seedDebts(), &fakeIssuer{}, nil)

	// Luis belongs to tenant 2.
	status, body := doJSON(t, app, "POST", "/api/v1/chatbot/fulfillment", fulfillment(IntentDebtQuery, `{"telefono":"+5215599999999"}`))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, textUnknownClient, body["fulfillmentText"])

	_, body = doJSON(t, app, "POST", "/api/v1/chatbot/fulfillment", fulfillment(IntentDebtQuery, `{}`))
	assert.Equal(t, textNoPhone, body["fulfillmentText"])
}

func TestChatbotDebtPayment_OldestOpenDebt(t *testing.T) {
	issuer := &fakeIssuer{link: &models.PaymentLink{URL: "https://pay/32", Amount: decimal.RequireFromString("100")}}
	app := newChatbotApp(seedDebts(), issuer, nil)

	status, body := doJSON(t, app, "POST", "/api/v1/chatbot/fulfillment", fulfillment(IntentDebtPayment, `{"telefono":"+5215512345678"}`))
	require.Equal(t, fiber.StatusOK, status)
	require.Len(t, issuer.requests, 1)
	assert.Equal(t, billing.PaymentLinkRequest{DebtID: 32, TenantID: testTenantID}, issuer.requests[0])
	assert.Contains(t, body["fulfillmentText"], "https://pay/32")
}

func TestChatbotDebtPayment_ExplicitDebt(t *testing.T) {
	issuer := &fakeIssuer{link: &models.PaymentLink{URL: "https://pay/31", Amount: decimal.RequireFromString("250.50")}}
	app := newChatbotApp(seedDebts(), issuer, nil)

	_, body := doJSON(t, app, "POST", "/api/v1/chatbot/fulfillment", fulfillment(IntentDebtPayment, `{"telefono":"+5215512345678","adeudo":31}`))
	require.Len(t, issuer.requests, 1)
	assert.Equal(t, uint(31), issuer.requests[0].DebtID)
	assert.Equal(t, "https://pay/31", body["payload"].(map[string]interface{})["url"])

	// Another client's debt and a paid debt are not offered.
	for _, id := range []string{"40", "33"} {
		_, body = doJSON(t, app, "POST", "/api/v1/chatbot/fulfillment", fulfillment(IntentDebtPayment, `{"telefono":"+5215512345678","adeudo":"`+id+`"}`))
		assert.Equal(t, textDebtNotFound, body["fulfillmentText"])
	}
	assert.Len(t, issuer.requests, 1)
}

func TestChatbotDebtPayment_GatewayFailureIsGeneric(t *testing.T) {
	issuer := &fakeIssuer{err: &billing.GatewayError{Gateway: models.GatewayStripe, Op: "create checkout session", Err: errors.New("timeout")}}
	app := newChatbotApp(seedDebts(), issuer, nil)

	status, body := doJSON(t, app, "POST", "/api/v1/chatbot/fulfillment", fulfillment(IntentDebtPayment, `{"telefono":"+5215512345678"}`))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, textPaymentError, body["fulfillmentText"])
}

func TestChatbot_UsageIsDetachedAndFailuresInvisible(t *testing.T) {
	calls := make(chan uint, 2)
	usage := func(_ context.Context, tenantID uint) error {
		calls <- tenantID
		return errors.New("redis unavailable")
	}
	app := newChatbotApp(seedDebts(), &fakeIssuer{}, usage)

	status, body := doJSON(t, app, "POST", "/api/v1/chatbot/fulfillment", fulfillment("smalltalk.saludo", `{}`))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, textUnknownIntent, body["fulfillmentText"])

	select {
	case id := <-calls:
		assert.Equal(t, testTenantID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("usage was not recorded")
	}
}
