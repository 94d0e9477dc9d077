package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/CobroFox/app/models"
	"github.com/ManuelReschke/CobroFox/internal/pkg/metrics"
)

// PaymentLinkRequest selects the debt to collect. Gateway overrides the
// client's preferred gateway; TenantID, when set, must own the debt.
type PaymentLinkRequest struct {
	DebtID   uint
	Gateway  string
	TenantID uint
}

// CreatePaymentLink issues a hosted checkout for the debt's balance and
// returns the URL the payer should open.
func (s *Service) CreatePaymentLink(ctx context.Context, debtID uint) (string, error) {
	link, err := s.IssuePaymentLink(ctx, PaymentLinkRequest{DebtID: debtID})
	if err != nil {
		return "", err
	}
	return link.URL, nil
}

// IssuePaymentLink creates the remote checkout first and only persists the
// pending PaymentLink once the gateway accepted it.
func (s *Service) IssuePaymentLink(ctx context.Context, req PaymentLinkRequest) (*models.PaymentLink, error) {
	debt, err := s.repo.GetDebt(ctx, req.DebtID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDebtNotFound
		}
		return nil, err
	}
	client, err := s.repo.GetClient(ctx, debt.ClientID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}
	if req.TenantID != 0 && client.TenantID != req.TenantID {
		// Debts of other tenants are reported as missing.
		return nil, ErrDebtNotFound
	}
	if !debt.Settleable() || !debt.Balance.IsPositive() {
		return nil, ErrDebtNotPayable
	}

	gatewayName := req.Gateway
	if strings.TrimSpace(gatewayName) == "" {
		gatewayName = client.PreferredGateway
	}
	if strings.TrimSpace(gatewayName) == "" {
		gatewayName = models.GatewayStripe
	}

	cred, err := s.ResolveCredential(ctx, client.TenantID, gatewayName)
	if err != nil {
		return nil, err
	}
	gw, err := s.gateways(cred)
	if err != nil {
		return nil, err
	}

	description := debt.Description
	if description == "" {
		description = fmt.Sprintf("Adeudo #%d", debt.ID)
	}
	checkout, err := gw.CreateCheckout(ctx, CheckoutRequest{
		TenantID:      client.TenantID,
		DebtID:        debt.ID,
		Amount:        debt.Balance,
		Currency:      debt.Currency,
		Description:   description,
		CustomerEmail: client.Email,
		SuccessURL:    s.successURL,
		CancelURL:     s.cancelURL,
	})
	if err != nil {
		metrics.PaymentLinksIssued.WithLabelValues(cred.Gateway, "gateway_error").Inc()
		log.Errorf("[Billing] %s checkout for debt %d failed: %v", cred.Gateway, debt.ID, err)
		return nil, err
	}

	link := &models.PaymentLink{
		DebtID:       debt.ID,
		CredentialID: cred.ID,
		Gateway:      cred.Gateway,
		ExternalID:   checkout.ExternalID,
		URL:          checkout.URL,
		Amount:       debt.Balance,
		Status:       models.PaymentLinkStatusPending,
	}
	if err := s.repo.CreatePaymentLink(ctx, link); err != nil {
		return nil, fmt.Errorf("persist payment link for debt %d: %w", debt.ID, err)
	}

	metrics.PaymentLinksIssued.WithLabelValues(cred.Gateway, "ok").Inc()
	log.Infof("[Billing] Issued %s payment link %s for debt %d (tenant %d)", cred.Gateway, link.ExternalID, debt.ID, client.TenantID)
	return link, nil
}
