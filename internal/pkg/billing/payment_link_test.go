package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/CobroFox/app/models"
	"github.com/ManuelReschke/CobroFox/internal/pkg/security"
)

func TestCreatePaymentLink_PersistsPendingLink(t *testing.T) {
	store := seedStore()
	gw := &fakeGateway{checkout: &Checkout{ExternalID: "cs_new", URL: "https://checkout.stripe.com/c/cs_new"}}
	svc := newTestService(store, WithGatewayFactory(fakeFactory(gw)), WithReturnURLs("https://app/ok", "https://app/cancel"))

	url, err := svc.CreatePaymentLink(context.Background(), debtA)
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_new", url)

	require.Len(t, gw.requests, 1)
	req := gw.requests[0]
	assert.Equal(t, tenantA, req.TenantID)
	assert.Equal(t, debtA, req.DebtID)
	assert.Equal(t, "500.00", req.Amount.StringFixed(2))
	assert.Equal(t, "MXN", req.Currency)
	assert.Equal(t, "Adeudo #30", req.Description)
	assert.Equal(t, "ana@example.com", req.CustomerEmail)
	assert.Equal(t, "https://app/ok", req.SuccessURL)

	var created *models.PaymentLink
	for _, l := range store.linkRows() {
		if l.ExternalID == "cs_new" {
			l := l
			created = &l
		}
	}
	require.NotNil(t, created)
	assert.Equal(t, models.PaymentLinkStatusPending, created.Status)
	assert.Equal(t, credStripeA, created.CredentialID)
	assert.Equal(t, models.GatewayStripe, created.Gateway)
	assert.Equal(t, "500.00", created.Amount.StringFixed(2))
}

func TestIssuePaymentLink_GatewayOverride(t *testing.T) {
	store := seedStore()
	gw := &fakeGateway{checkout: &Checkout{ExternalID: "ORDER-NEW", URL: "https://www.sandbox.paypal.com/checkoutnow?token=ORDER-NEW"}}
	svc := newTestService(store, WithGatewayFactory(fakeFactory(gw)))

	link, err := svc.IssuePaymentLink(context.Background(), PaymentLinkRequest{DebtID: debtA, Gateway: "PayPal", TenantID: tenantA})
	require.NoError(t, err)
	assert.Equal(t, models.GatewayPayPal, link.Gateway)
	assert.Equal(t, credPayPalA, link.CredentialID)
}

func TestCreatePaymentLink_GatewayErrorLeavesNoRow(t *testing.T) {
	store := seedStore()
	before := len(store.linkRows())
	gw := &fakeGateway{checkoutErr: &GatewayError{Gateway: models.GatewayStripe, Op: "create checkout session", StatusCode: 502, Err: errors.New("bad gateway")}}
	svc := newTestService(store, WithGatewayFactory(fakeFactory(gw)))

	_, err := svc.CreatePaymentLink(context.Background(), debtA)
	require.Error(t, err)

	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.True(t, gwErr.Retryable())
	assert.Len(t, store.linkRows(), before)
}

func TestCreatePaymentLink_Errors(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(s *memoryStore)
		debtID  uint
		want    error
	}{
		{name: "missing debt", debtID: 999, want: ErrDebtNotFound},
		{
			name:    "missing client",
			debtID:  debtA,
			prepare: func(s *memoryStore) { delete(s.clients, clientA) },
			want:    ErrClientNotFound,
		},
		{
			name:    "missing credential",
			debtID:  debtA,
			prepare: func(s *memoryStore) { delete(s.credentials, credStripeA) },
			want:    ErrCredentialMissing,
		},
		{
			name:    "inactive credential",
			debtID:  debtA,
			prepare: func(s *memoryStore) { s.credentials[credStripeA].Active = false },
			want:    ErrCredentialMissing,
		},
		{
			name:    "paid debt",
			debtID:  debtA,
			prepare: func(s *memoryStore) { s.debts[debtA].Status = models.DebtStatusPaid },
			want:    ErrDebtNotPayable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seedStore()
			if tt.prepare != nil {
				tt.prepare(store)
			}
			before := len(store.linkRows())
			gw := &fakeGateway{checkout: &Checkout{ExternalID: "cs_new", URL: "https://x"}}
			svc := newTestService(store, WithGatewayFactory(fakeFactory(gw)))

			_, err := svc.CreatePaymentLink(context.Background(), tt.debtID)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, gw.requests)
			assert.Len(t, store.linkRows(), before)
		})
	}
}

func TestIssuePaymentLink_OtherTenantsDebtIsNotFound(t *testing.T) {
	store := seedStore()
	gw := &fakeGateway{checkout: &Checkout{ExternalID: "cs_new", URL: "https://x"}}
	svc := newTestService(store, WithGatewayFactory(fakeFactory(gw)))

	_, err := svc.IssuePaymentLink(context.Background(), PaymentLinkRequest{DebtID: debtA, TenantID: tenantB})
	assert.ErrorIs(t, err, ErrDebtNotFound)
	assert.Empty(t, gw.requests)
}

func TestIssuePaymentLink_OtherTenantsPaidDebtIsNotFound(t *testing.T) {
	store := seedStore()
	store.debts[debtA].Status = models.DebtStatusPaid
	gw := &fakeGateway{checkout: &Checkout{ExternalID: "cs_new", URL: "https://x"}}
	svc := newTestService(store, WithGatewayFactory(fakeFactory(gw)))

	_, err := svc.IssuePaymentLink(context.Background(), PaymentLinkRequest{DebtID: debtA, TenantID: tenantB})
	assert.ErrorIs(t, err, ErrDebtNotFound)

	_, err = svc.IssuePaymentLink(context.Background(), PaymentLinkRequest{DebtID: debtA, TenantID: tenantA})
	assert.ErrorIs(t, err, ErrDebtNotPayable)
	assert.Empty(t, gw.requests)
}

func TestResolveCredential_UnsealsSecrets(t *testing.T) {
	sealer, err := security.NewSealer("AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8=")
	require.NoError(t, err)
	sealed, err := sealer.Seal("sk_live_sealed")
	require.NoError(t, err)

	store := seedStore()
	store.credentials[credStripeA].APISecret = sealed
	svc := newTestService(store, WithSecretOpener(sealer))

	cred, err := svc.ResolveCredential(context.Background(), tenantA, " STRIPE ")
	require.NoError(t, err)
	assert.Equal(t, "sk_live_sealed", cred.APISecret)
	assert.Equal(t, "whsec_a", cred.WebhookSecret)
	// The stored row keeps the sealed value.
	assert.Equal(t, sealed, store.credentials[credStripeA].APISecret)

	_, err = svc.ResolveCredential(context.Background(), tenantA, "bitcoin")
	assert.ErrorIs(t, err, ErrUnsupportedGateway)
	_, err = svc.ResolveCredential(context.Background(), 0, models.GatewayStripe)
	assert.ErrorIs(t, err, ErrCredentialMissing)
}
