package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/ManuelReschke/CobroFox/app/models"
)

const (
	stripeSettlementAttempts = 3
	stripeSettlementDelay    = 750 * time.Millisecond
	stripeHTTPTimeout        = 15 * time.Second
)

var errSettlementPending = errors.New("balance transaction not available yet")

// StripeGateway talks to Stripe with one tenant's secret key. Webhook
// signatures are checked locally with the tenant's endpoint secret.
type StripeGateway struct {
	webhookSecret string

	sessions *stripesession.Client
	intents  *paymentintent.Client

	// balanceLookup returns fee and net for a payment intent.
	balanceLookup  func(ctx context.Context, paymentIntentID string) (fee, net decimal.Decimal, err error)
	settlementWait time.Duration
}

func NewStripeGateway(cred *models.GatewayCredential) *StripeGateway {
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: stripeHTTPTimeout},
	})
	g := &StripeGateway{
		webhookSecret:  cred.WebhookSecret,
		sessions:       &stripesession.Client{B: backend, Key: cred.APISecret},
		intents:        &paymentintent.Client{B: backend, Key: cred.APISecret},
		settlementWait: stripeSettlementDelay,
	}
	g.balanceLookup = g.fetchBalanceTransaction
	return g
}

func (g *StripeGateway) Name() string { return models.GatewayStripe }

func (g *StripeGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "mxn"
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(fmt.Sprintf("%d", req.DebtID)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
					UnitAmount: stripe.Int64(toMinorUnits(req.Amount)),
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"tenant_id": formatTenantHint(req.TenantID),
			"debt_id":   fmt.Sprintf("%d", req.DebtID),
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.Context = ctx
	params.SetIdempotencyKey(uuid.NewString())

	session, err := g.sessions.New(params)
	if err != nil {
		return nil, stripeError("create checkout session", err)
	}
	return &Checkout{ExternalID: session.ID, URL: session.URL}, nil
}

func (g *StripeGateway) VerifyWebhook(_ context.Context, payload []byte, headers http.Header) bool {
	sig := headers.Get("Stripe-Signature")
	if sig == "" || g.webhookSecret == "" {
		return false
	}
	_, err := webhook.ConstructEventWithOptions(payload, sig, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	return err == nil
}

func (g *StripeGateway) ParseEvent(payload []byte) (Event, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	if event.Data == nil {
		return nil, errors.New("stripe event without data")
	}
	meta := EventMeta{ID: event.ID, Type: string(event.Type)}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, err
		}
		if session.Mode == stripe.CheckoutSessionModeSubscription ||
			session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			return &UnhandledEvent{EventMeta: meta}, nil
		}
		captured := &PaymentCaptured{
			EventMeta:  meta,
			ExternalID: session.ID,
			TenantHint: session.Metadata["tenant_id"],
			Reference:  session.ID,
			Method:     models.GatewayStripe,
			Gross:      fromMinorUnits(session.AmountTotal),
			CapturedAt: time.Unix(event.Created, 0),
		}
		if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
			piID := session.PaymentIntent.ID
			captured.Reference = piID
			captured.Settlement = func(ctx context.Context) (decimal.Decimal, decimal.Decimal, error) {
				return g.settlement(ctx, piID)
			}
		}
		return captured, nil

	case "checkout.session.expired":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, err
		}
		return &PaymentLinkExpired{EventMeta: meta, ExternalID: session.ID}, nil

	case "invoice.paid":
		subID, err := stripeInvoiceSubscription(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		if subID == "" {
			return &UnhandledEvent{EventMeta: meta}, nil
		}
		return &SubscriptionRenewed{EventMeta: meta, SubscriptionID: subID}, nil

	case "invoice.payment_failed":
		subID, err := stripeInvoiceSubscription(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		if subID == "" {
			return &UnhandledEvent{EventMeta: meta}, nil
		}
		return &SubscriptionPaymentFailed{EventMeta: meta, SubscriptionID: subID}, nil

	case "customer.subscription.deleted":
		var sub struct {
			ID         string `json:"id"`
			CanceledAt int64  `json:"canceled_at"`
		}
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, err
		}
		ev := &SubscriptionCancelled{EventMeta: meta, SubscriptionID: sub.ID}
		if sub.CanceledAt > 0 {
			ev.CancelledAt = time.Unix(sub.CanceledAt, 0)
		}
		return ev, nil

	default:
		return &UnhandledEvent{EventMeta: meta}, nil
	}
}

// settlement retries the balance transaction lookup; Stripe fills it in
// asynchronously shortly after the charge succeeds.
func (g *StripeGateway) settlement(ctx context.Context, paymentIntentID string) (decimal.Decimal, decimal.Decimal, error) {
	var fee, net decimal.Decimal
	err := retry(ctx, stripeSettlementAttempts, g.settlementWait, func() error {
		f, n, err := g.balanceLookup(ctx, paymentIntentID)
		if err != nil {
			return err
		}
		fee, net = f, n
		return nil
	})
	return fee, net, err
}

func (g *StripeGateway) fetchBalanceTransaction(ctx context.Context, paymentIntentID string) (decimal.Decimal, decimal.Decimal, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge.balance_transaction")
	pi, err := g.intents.Get(paymentIntentID, params)
	if err != nil {
		return decimal.Zero, decimal.Zero, stripeError("retrieve payment intent", err)
	}
	if pi.LatestCharge == nil || pi.LatestCharge.BalanceTransaction == nil {
		return decimal.Zero, decimal.Zero, errSettlementPending
	}
	bt := pi.LatestCharge.BalanceTransaction
	return fromMinorUnits(bt.Fee), fromMinorUnits(bt.Net), nil
}

// stripeInvoiceSubscription extracts the subscription id of an invoice. Newer
// API versions nest it under parent.subscription_details.
func stripeInvoiceSubscription(raw json.RawMessage) (string, error) {
	var inv struct {
		Subscription json.RawMessage `json:"subscription"`
		Parent       *struct {
			SubscriptionDetails *struct {
				Subscription json.RawMessage `json:"subscription"`
			} `json:"subscription_details"`
		} `json:"parent"`
	}
	if err := json.Unmarshal(raw, &inv); err != nil {
		return "", err
	}
	if id := expandableID(inv.Subscription); id != "" {
		return id, nil
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return expandableID(inv.Parent.SubscriptionDetails.Subscription), nil
	}
	return "", nil
}

// expandableID reads a Stripe expandable field that is either an id string
// or an object with an id.
func expandableID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

func stripeError(op string, err error) error {
	gwErr := &GatewayError{Gateway: models.GatewayStripe, Op: op, Err: err}
	var se *stripe.Error
	if errors.As(err, &se) {
		gwErr.StatusCode = se.HTTPStatusCode
	}
	return gwErr
}

func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func fromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}
