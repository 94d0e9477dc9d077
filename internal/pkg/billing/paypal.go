package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ManuelReschke/CobroFox/app/models"
)

const (
	PayPalSandboxBaseURL = "https://api-m.sandbox.paypal.com"
	PayPalLiveBaseURL    = "https://api-m.paypal.com"

	paypalHTTPTimeout     = 15 * time.Second
	paypalMaxResponseBody = 1 << 20
)

var (
	paypalBreakersMu sync.Mutex
	paypalBreakers   = map[string]*gobreaker.CircuitBreaker[*paypalResponse]{}
)

type paypalResponse struct {
	StatusCode int
	Body       []byte
}

// PayPalGateway calls the PayPal REST API with one tenant's client id and
// secret. Access tokens come from the client credentials grant; webhook
// signatures are verified remotely.
type PayPalGateway struct {
	baseURL   string
	webhookID string
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[*paypalResponse]
}

// NewPayPalGateway builds a gateway for cred. An empty baseURL selects the
// sandbox API.
func NewPayPalGateway(cred *models.GatewayCredential, baseURL string) *PayPalGateway {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = PayPalSandboxBaseURL
	}
	cfg := clientcredentials.Config{
		ClientID:     cred.APIKey,
		ClientSecret: cred.APISecret,
		TokenURL:     baseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	transport := &http.Client{Timeout: paypalHTTPTimeout}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, transport)
	client := cfg.Client(tokenCtx)
	client.Timeout = paypalHTTPTimeout

	return &PayPalGateway{
		baseURL:   baseURL,
		webhookID: cred.WebhookID,
		client:    client,
		breaker:   paypalBreaker(baseURL),
	}
}

// paypalBreaker returns the shared breaker for one API host. Only transport
// failures and 5xx answers count against it.
func paypalBreaker(baseURL string) *gobreaker.CircuitBreaker[*paypalResponse] {
	paypalBreakersMu.Lock()
	defer paypalBreakersMu.Unlock()

	if cb, ok := paypalBreakers[baseURL]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[*paypalResponse](gobreaker.Settings{
		Name:        "paypal " + baseURL,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("[PayPal] Circuit breaker %s changed from %s to %s", name, from.String(), to.String())
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var gwErr *GatewayError
			if errors.As(err, &gwErr) {
				return gwErr.StatusCode > 0 && gwErr.StatusCode < 500
			}
			return false
		},
	})
	paypalBreakers[baseURL] = cb
	return cb
}

func (g *PayPalGateway) Name() string { return models.GatewayPayPal }

// call sends one JSON request through the breaker. Any non-2xx answer comes
// back as a *GatewayError carrying the status code and the response body.
func (g *PayPalGateway) call(ctx context.Context, op, method, path string, body interface{}, extraHeaders map[string]string) (*paypalResponse, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}

	resp, err := g.breaker.Execute(func() (*paypalResponse, error) {
		req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
		if err != nil {
			return nil, &GatewayError{Gateway: models.GatewayPayPal, Op: op, Err: err}
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		for k, v := range extraHeaders {
			req.Header.Set(k, v)
		}

		res, err := g.client.Do(req)
		if err != nil {
			return nil, &GatewayError{Gateway: models.GatewayPayPal, Op: op, StatusCode: oauthStatus(err), Err: err}
		}
		defer res.Body.Close()

		data, err := io.ReadAll(io.LimitReader(res.Body, paypalMaxResponseBody))
		if err != nil {
			return nil, &GatewayError{Gateway: models.GatewayPayPal, Op: op, Err: err}
		}
		out := &paypalResponse{StatusCode: res.StatusCode, Body: data}
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			return out, &GatewayError{
				Gateway:    models.GatewayPayPal,
				Op:         op,
				StatusCode: res.StatusCode,
				Err:        fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(data))),
			}
		}
		return out, nil
	})
	if err != nil {
		var gwErr *GatewayError
		if !errors.As(err, &gwErr) {
			// open or half-open breaker refusing the call
			err = &GatewayError{Gateway: models.GatewayPayPal, Op: op, Err: err}
		}
		return resp, err
	}
	return resp, nil
}

// oauthStatus extracts the HTTP status of a failed token exchange. Rejected
// client credentials surface as 401 so they do not trip the breaker.
func oauthStatus(err error) int {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return re.Response.StatusCode
	}
	return 0
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code,omitempty"`
	Value        string `json:"value"`
}

type paypalLink struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

type paypalBreakdown struct {
	GrossAmount *paypalAmount `json:"gross_amount"`
	PayPalFee   *paypalAmount `json:"paypal_fee"`
	NetAmount   *paypalAmount `json:"net_amount"`
}

type paypalCapture struct {
	ID                        string           `json:"id"`
	Status                    string           `json:"status"`
	CustomID                  string           `json:"custom_id"`
	Amount                    *paypalAmount    `json:"amount"`
	SellerReceivableBreakdown *paypalBreakdown `json:"seller_receivable_breakdown"`
	SupplementaryData         struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
	CreateTime time.Time `json:"create_time"`
}

type paypalPurchaseUnit struct {
	ReferenceID string `json:"reference_id"`
	CustomID    string `json:"custom_id"`
	Payments    struct {
		Captures []paypalCapture `json:"captures"`
	} `json:"payments"`
}

type paypalOrder struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	Links         []paypalLink         `json:"links"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
}

func (g *PayPalGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "MXN"
	}
	body := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"reference_id": fmt.Sprintf("%d", req.DebtID),
				"custom_id":    formatTenantHint(req.TenantID),
				"description":  req.Description,
				"amount": paypalAmount{
					CurrencyCode: currency,
					Value:        req.Amount.StringFixed(2),
				},
			},
		},
		"application_context": map[string]string{
			"return_url":  req.SuccessURL,
			"cancel_url":  req.CancelURL,
			"user_action": "PAY_NOW",
		},
	}

	resp, err := g.call(ctx, "create order", http.MethodPost, "/v2/checkout/orders", body, map[string]string{
		"PayPal-Request-Id": fmt.Sprintf("debt-%d-%d", req.DebtID, time.Now().UnixNano()),
	})
	if err != nil {
		return nil, err
	}
	var order paypalOrder
	if err := json.Unmarshal(resp.Body, &order); err != nil {
		return nil, &GatewayError{Gateway: models.GatewayPayPal, Op: "create order", Err: err}
	}
	for _, l := range order.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return &Checkout{ExternalID: order.ID, URL: l.Href}, nil
		}
	}
	return nil, &GatewayError{Gateway: models.GatewayPayPal, Op: "create order", Err: errors.New("order has no approval link")}
}

// VerifyWebhook asks PayPal to validate the transmission headers. Missing
// headers, transport errors and any status other than SUCCESS reject the
// delivery.
func (g *PayPalGateway) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) bool {
	if g.webhookID == "" || !json.Valid(payload) {
		return false
	}
	fields := map[string]string{
		"auth_algo":         headers.Get("Paypal-Auth-Algo"),
		"cert_url":          headers.Get("Paypal-Cert-Url"),
		"transmission_id":   headers.Get("Paypal-Transmission-Id"),
		"transmission_sig":  headers.Get("Paypal-Transmission-Sig"),
		"transmission_time": headers.Get("Paypal-Transmission-Time"),
	}
	body := map[string]interface{}{
		"webhook_id":    g.webhookID,
		"webhook_event": json.RawMessage(payload),
	}
	for k, v := range fields {
		if v == "" {
			return false
		}
		body[k] = v
	}

	resp, err := g.call(ctx, "verify webhook", http.MethodPost, "/v1/notifications/verify-webhook-signature", body, nil)
	if err != nil {
		log.Warnf("[PayPal] Webhook verification call failed: %v", err)
		return false
	}
	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return false
	}
	return out.VerificationStatus == "SUCCESS"
}

type paypalEvent struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	CreateTime time.Time       `json:"create_time"`
	Resource   json.RawMessage `json:"resource"`
}

func (g *PayPalGateway) ParseEvent(payload []byte) (Event, error) {
	var event paypalEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	if event.EventType == "" {
		return nil, errors.New("paypal event without event_type")
	}
	meta := EventMeta{ID: event.ID, Type: event.EventType}

	switch event.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		var capture paypalCapture
		if err := json.Unmarshal(event.Resource, &capture); err != nil {
			return nil, err
		}
		ev := paypalCaptured(capture, capture.SupplementaryData.RelatedIDs.OrderID, capture.CustomID)
		ev.EventMeta = meta
		if ev.CapturedAt.IsZero() {
			ev.CapturedAt = event.CreateTime
		}
		return ev, nil

	case "CHECKOUT.ORDER.APPROVED":
		var order paypalOrder
		if err := json.Unmarshal(event.Resource, &order); err != nil {
			return nil, err
		}
		ev := &OrderApproved{EventMeta: meta, OrderID: order.ID}
		if len(order.PurchaseUnits) > 0 {
			ev.TenantHint = order.PurchaseUnits[0].CustomID
		}
		return ev, nil

	case "PAYMENT.SALE.COMPLETED":
		var sale struct {
			BillingAgreementID string `json:"billing_agreement_id"`
		}
		if err := json.Unmarshal(event.Resource, &sale); err != nil {
			return nil, err
		}
		if sale.BillingAgreementID == "" {
			return &UnhandledEvent{EventMeta: meta}, nil
		}
		return &SubscriptionRenewed{EventMeta: meta, SubscriptionID: sale.BillingAgreementID}, nil

	case "BILLING.SUBSCRIPTION.PAYMENT.FAILED":
		var sub struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(event.Resource, &sub); err != nil {
			return nil, err
		}
		return &SubscriptionPaymentFailed{EventMeta: meta, SubscriptionID: sub.ID}, nil

	case "BILLING.SUBSCRIPTION.CANCELLED":
		var sub struct {
			ID               string    `json:"id"`
			StatusUpdateTime time.Time `json:"status_update_time"`
		}
		if err := json.Unmarshal(event.Resource, &sub); err != nil {
			return nil, err
		}
		return &SubscriptionCancelled{EventMeta: meta, SubscriptionID: sub.ID, CancelledAt: sub.StatusUpdateTime}, nil

	default:
		return &UnhandledEvent{EventMeta: meta}, nil
	}
}

// CaptureOrder captures an approved order and returns the resulting payment.
func (g *PayPalGateway) CaptureOrder(ctx context.Context, orderID string) (*PaymentCaptured, error) {
	resp, err := g.call(ctx, "capture order", http.MethodPost, "/v2/checkout/orders/"+orderID+"/capture", map[string]string{}, map[string]string{
		"PayPal-Request-Id": "capture-" + orderID,
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnprocessableEntity && paypalIssue(resp.Body) == "ORDER_ALREADY_CAPTURED" {
			return nil, ErrAlreadyCaptured
		}
		return nil, err
	}

	var order paypalOrder
	if err := json.Unmarshal(resp.Body, &order); err != nil {
		return nil, &GatewayError{Gateway: models.GatewayPayPal, Op: "capture order", Err: err}
	}
	for _, unit := range order.PurchaseUnits {
		for _, capture := range unit.Payments.Captures {
			if capture.Status != "COMPLETED" {
				continue
			}
			hint := capture.CustomID
			if hint == "" {
				hint = unit.CustomID
			}
			return paypalCaptured(capture, order.ID, hint), nil
		}
	}
	return nil, &GatewayError{Gateway: models.GatewayPayPal, Op: "capture order", Err: fmt.Errorf("order %s has no completed capture (status %s)", orderID, order.Status)}
}

func paypalCaptured(capture paypalCapture, orderID, tenantHint string) *PaymentCaptured {
	ev := &PaymentCaptured{
		ExternalID: orderID,
		TenantHint: tenantHint,
		Reference:  capture.ID,
		Method:     models.GatewayPayPal,
		CapturedAt: capture.CreateTime,
	}
	if capture.Amount != nil {
		ev.Gross = parsePayPalAmount(capture.Amount)
	}
	if b := capture.SellerReceivableBreakdown; b != nil {
		if b.GrossAmount != nil {
			ev.Gross = parsePayPalAmount(b.GrossAmount)
		}
		ev.Fee = parsePayPalAmount(b.PayPalFee)
		ev.Net = parsePayPalAmount(b.NetAmount)
	}
	return ev
}

func parsePayPalAmount(a *paypalAmount) decimal.Decimal {
	if a == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.TrimSpace(a.Value))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// paypalIssue returns the first issue code of a PayPal error body.
func paypalIssue(body []byte) string {
	var out struct {
		Details []struct {
			Issue string `json:"issue"`
		} `json:"details"`
	}
	if err := json.Unmarshal(body, &out); err != nil || len(out.Details) == 0 {
		return ""
	}
	return out.Details[0].Issue
}
