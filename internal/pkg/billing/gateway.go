package billing

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/CobroFox/app/models"
)

// CheckoutRequest describes a hosted checkout for one debt.
type CheckoutRequest struct {
	TenantID      uint
	DebtID        uint
	Amount        decimal.Decimal
	Currency      string
	Description   string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

// Checkout is what the gateway returned for a created checkout.
type Checkout struct {
	ExternalID string
	URL        string
}

// Gateway is a tenant-scoped client for one payment processor. It is built
// per operation from freshly resolved credentials.
type Gateway interface {
	Name() string
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
	// VerifyWebhook fails closed: any error yields false.
	VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) bool
	ParseEvent(payload []byte) (Event, error)
}

// OrderCapturer is implemented by gateways whose approved orders must be
// captured explicitly.
type OrderCapturer interface {
	CaptureOrder(ctx context.Context, orderID string) (*PaymentCaptured, error)
}

// GatewayFactory builds a Gateway from an unsealed credential.
type GatewayFactory func(cred *models.GatewayCredential) (Gateway, error)

// GatewayConfig holds process wide gateway settings.
type GatewayConfig struct {
	PayPalBaseURL string
}

// NewGatewayFactory returns the production factory for Stripe and PayPal.
func NewGatewayFactory(cfg GatewayConfig) GatewayFactory {
	return func(cred *models.GatewayCredential) (Gateway, error) {
		switch cred.Gateway {
		case models.GatewayStripe:
			return NewStripeGateway(cred), nil
		case models.GatewayPayPal:
			return NewPayPalGateway(cred, cfg.PayPalBaseURL), nil
		default:
			return nil, ErrUnsupportedGateway
		}
	}
}
