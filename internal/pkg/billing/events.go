package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventKind is the closed set of gateway events the billing core understands.
type EventKind string

const (
	KindPaymentCaptured           EventKind = "payment_captured"
	KindOrderApproved             EventKind = "order_approved"
	KindPaymentLinkExpired        EventKind = "payment_link_expired"
	KindSubscriptionRenewed       EventKind = "subscription_renewed"
	KindSubscriptionPaymentFailed EventKind = "subscription_payment_failed"
	KindSubscriptionCancelled     EventKind = "subscription_cancelled"
	KindUnhandled                 EventKind = "unhandled"
)

// Event is a parsed gateway webhook event.
type Event interface {
	Kind() EventKind
	Meta() EventMeta
}

// EventMeta carries the gateway's event id and raw type name.
type EventMeta struct {
	ID   string
	Type string
}

func (m EventMeta) Meta() EventMeta { return m }

// SettlementLookup fetches fee and net amount for a capture. Gateways that
// only know them after the fact (Stripe balance transactions) set it.
type SettlementLookup func(ctx context.Context) (fee, net decimal.Decimal, err error)

// PaymentCaptured reports money received for a checkout. ExternalID is the
// order or session id stored on the payment link.
type PaymentCaptured struct {
	EventMeta
	ExternalID string
	TenantHint string
	Reference  string
	Method     string
	Gross      decimal.Decimal
	Fee        decimal.Decimal
	Net        decimal.Decimal
	CapturedAt time.Time
	Settlement SettlementLookup
}

func (PaymentCaptured) Kind() EventKind { return KindPaymentCaptured }

// OrderApproved means the payer approved an order that still has to be captured.
type OrderApproved struct {
	EventMeta
	OrderID    string
	TenantHint string
}

func (OrderApproved) Kind() EventKind { return KindOrderApproved }

type PaymentLinkExpired struct {
	EventMeta
	ExternalID string
}

func (PaymentLinkExpired) Kind() EventKind { return KindPaymentLinkExpired }

type SubscriptionRenewed struct {
	EventMeta
	SubscriptionID string
}

func (SubscriptionRenewed) Kind() EventKind { return KindSubscriptionRenewed }

type SubscriptionPaymentFailed struct {
	EventMeta
	SubscriptionID string
}

func (SubscriptionPaymentFailed) Kind() EventKind { return KindSubscriptionPaymentFailed }

type SubscriptionCancelled struct {
	EventMeta
	SubscriptionID string
	CancelledAt    time.Time
}

func (SubscriptionCancelled) Kind() EventKind { return KindSubscriptionCancelled }

// UnhandledEvent is any event type the core does not act on.
type UnhandledEvent struct {
	EventMeta
}

func (UnhandledEvent) Kind() EventKind { return KindUnhandled }
