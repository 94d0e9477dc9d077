package controllers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ManuelReschke/CobroFox/app/models"
	"github.com/ManuelReschke/CobroFox/app/repository"
	"github.com/ManuelReschke/CobroFox/internal/pkg/billing"
	"github.com/ManuelReschke/CobroFox/internal/pkg/tenantcontext"
)

const (
	IntentDebtQuery   = "deuda.consultar"
	IntentDebtPayment = "deuda.pagar"

	usageTimeout = 5 * time.Second
)

const (
	textUnknownIntent = "No entendí tu solicitud. Puedes preguntar por tus adeudos o pedir un enlace de pago."
	textNoPhone       = "No pudimos identificar tu número de teléfono."
	textUnknownClient = "No encontramos adeudos asociados a tu número."
	textNoDebts       = "No tienes adeudos pendientes."
	textDebtNotFound  = "No encontramos ese adeudo."
	textPaymentError  = "Hubo un error al procesar el pago. Intenta de nuevo más tarde."
)

// UsageFunc records one billable chatbot call for a tenant.
type UsageFunc func(ctx context.Context, tenantID uint) error

type fulfillmentRequest struct {
	QueryResult struct {
		Intent struct {
			DisplayName string `json:"displayName"`
		} `json:"intent"`
		Parameters map[string]interface{} `json:"parameters"`
	} `json:"queryResult"`
	OriginalDetectIntentRequest struct {
		Payload map[string]interface{} `json:"payload"`
	} `json:"originalDetectIntentRequest"`
}

// phone returns the caller's number from the intent parameters or the
// messaging channel payload.
func (r fulfillmentRequest) phone() string {
	for _, src := range []map[string]interface{}{r.QueryResult.Parameters, r.OriginalDetectIntentRequest.Payload} {
		for _, key := range []string{"telefono", "phone", "from"} {
			if v := stringValue(src[key]); v != "" {
				return normalizePhone(v)
			}
		}
	}
	return ""
}

// debtID returns the "adeudo" parameter; Dialogflow sends numbers as floats.
func (r fulfillmentRequest) debtID() uint {
	raw := stringValue(r.QueryResult.Parameters["adeudo"])
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}

// debtStatus returns the optional "estado" filter, defaulting to pending.
// Agents trained on older prompts send upper case literals.
func (r fulfillmentRequest) debtStatus() models.DebtStatus {
	if status, ok := models.ParseDebtStatus(stringValue(r.QueryResult.Parameters["estado"])); ok {
		return status
	}
	return models.DebtStatusPending
}

func stringValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}

func normalizePhone(raw string) string {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "whatsapp:")
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(raw)
}

// ChatbotController answers conversational agent fulfillment calls for a tenant.
type ChatbotController struct {
	debts repository.DebtRepository
	links PaymentLinkIssuer
	usage UsageFunc
}

func NewChatbotController(debts repository.DebtRepository, links PaymentLinkIssuer, usage UsageFunc) *ChatbotController {
	return &ChatbotController{debts: debts, links: links, usage: usage}
}

// HandleFulfillment answers POST /api/v1/chatbot/fulfillment. The agent
// always gets a 200 with a reply text; lookup problems become messages.
func (cc *ChatbotController) HandleFulfillment(c *fiber.Ctx) error {
	var req fulfillmentRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_request", "Invalid JSON body")
	}

	tenantID := tenantcontext.GetTenantID(c)
	cc.recordUsage(tenantID)

	ctx, cancel := requestContext(c)
	defer cancel()

	switch req.QueryResult.Intent.DisplayName {
	case IntentDebtQuery:
		return cc.handleDebtQuery(ctx, c, tenantID, req)
	case IntentDebtPayment:
		return cc.handleDebtPayment(ctx, c, tenantID, req)
	default:
		return reply(c, textUnknownIntent, nil)
	}
}

// recordUsage counts the call without delaying or failing the reply.
func (cc *ChatbotController) recordUsage(tenantID uint) {
	if cc.usage == nil || tenantID == 0 {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("[Chatbot] usage recording panicked for tenant %d: %v", tenantID, r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), usageTimeout)
		defer cancel()
		if err := cc.usage(ctx, tenantID); err != nil {
			log.Debugf("[Chatbot] usage not recorded for tenant %d: %v", tenantID, err)
		}
	}()
}

func (cc *ChatbotController) handleDebtQuery(ctx context.Context, c *fiber.Ctx, tenantID uint, req fulfillmentRequest) error {
	client, text := cc.findClient(ctx, tenantID, req.phone())
	if client == nil {
		return reply(c, text, nil)
	}

	status := req.debtStatus()
	debts, err := cc.debts.ListByClientAndStatus(ctx, client.ID, status)
	if err != nil {
		log.Errorf("[Chatbot] failed to list debts of client %d: %v", client.ID, err)
		return reply(c, textPaymentError, nil)
	}
	if len(debts) == 0 {
		return reply(c, fmt.Sprintf("No tienes adeudos con estado %s.", status), nil)
	}

	total := decimal.Zero
	items := make([]fiber.Map, 0, len(debts))
	for _, d := range debts {
		total = total.Add(d.Balance)
		items = append(items, fiber.Map{
			"id":          d.ID,
			"description": d.Description,
			"balance":     d.Balance.StringFixed(2),
			"currency":    d.Currency,
			"due_date":    d.DueDate.Format("2006-01-02"),
		})
	}
	text = fmt.Sprintf("Hola %s, tienes %d adeudo(s) con estado %s por un total de $%s %s.",
		client.Name, len(debts), status, total.StringFixed(2), debts[0].Currency)
	return reply(c, text, fiber.Map{"debts": items, "total": total.StringFixed(2)})
}

func (cc *ChatbotController) handleDebtPayment(ctx context.Context, c *fiber.Ctx, tenantID uint, req fulfillmentRequest) error {
	client, text := cc.findClient(ctx, tenantID, req.phone())
	if client == nil {
		return reply(c, text, nil)
	}

	payable, err := cc.payableDebts(ctx, client.ID)
	if err != nil {
		log.Errorf("[Chatbot] failed to list debts of client %d: %v", client.ID, err)
		return reply(c, textPaymentError, nil)
	}
	if len(payable) == 0 {
		return reply(c, textNoDebts, nil)
	}

	// Without an explicit debt the oldest open one is collected first.
	debt := &payable[0]
	if wanted := req.debtID(); wanted != 0 {
		debt = nil
		for i := range payable {
			if payable[i].ID == wanted {
				debt = &payable[i]
				break
			}
		}
		if debt == nil {
			return reply(c, textDebtNotFound, nil)
		}
	}

	link, err := cc.links.IssuePaymentLink(ctx, billing.PaymentLinkRequest{DebtID: debt.ID, TenantID: tenantID})
	if err != nil {
		if errors.Is(err, billing.ErrDebtNotFound) || errors.Is(err, billing.ErrDebtNotPayable) {
			return reply(c, textDebtNotFound, nil)
		}
		log.Errorf("[Chatbot] failed to issue payment link for debt %d: %v", debt.ID, err)
		return reply(c, textPaymentError, nil)
	}

	text = fmt.Sprintf("Puedes pagar tu adeudo de $%s %s aquí: %s", link.Amount.StringFixed(2), debt.Currency, link.URL)
	return reply(c, text, fiber.Map{"url": link.URL, "debt_id": debt.ID})
}

// findClient resolves the caller; on failure it returns the reply to send.
func (cc *ChatbotController) findClient(ctx context.Context, tenantID uint, phone string) (*models.Client, string) {
	if phone == "" {
		return nil, textNoPhone
	}
	client, err := cc.debts.FindClientByPhone(ctx, tenantID, phone)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Errorf("[Chatbot] client lookup failed for tenant %d: %v", tenantID, err)
			return nil, textPaymentError
		}
		return nil, textUnknownClient
	}
	return client, ""
}

// payableDebts lists pending and overdue debts ordered by due date.
func (cc *ChatbotController) payableDebts(ctx context.Context, clientID uint) ([]models.Debt, error) {
	var out []models.Debt
	for _, status := range []models.DebtStatus{models.DebtStatusPending, models.DebtStatusOverdue} {
		debts, err := cc.debts.ListByClientAndStatus(ctx, clientID, status)
		if err != nil {
			return nil, err
		}
		out = append(out, debts...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func reply(c *fiber.Ctx, text string, payload fiber.Map) error {
	body := fiber.Map{"fulfillmentText": text}
	if payload != nil {
		body["payload"] = payload
	}
	return c.Status(fiber.StatusOK).JSON(body)
}
