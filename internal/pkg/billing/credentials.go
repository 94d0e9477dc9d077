package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/CobroFox/app/models"
)

// ResolveCredential returns the single active credential of a tenant for a
// gateway with its secrets unsealed. Nothing is cached; every call reads the
// current row.
func (s *Service) ResolveCredential(ctx context.Context, tenantID uint, gateway string) (*models.GatewayCredential, error) {
	gw := models.NormalizeGateway(gateway)
	if gw == "" {
		return nil, ErrUnsupportedGateway
	}
	if tenantID == 0 {
		return nil, ErrCredentialMissing
	}

	cred, err := s.repo.FindActiveCredential(ctx, tenantID, gw)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Billing] No active %s credential for tenant %d", gw, tenantID)
			return nil, ErrCredentialMissing
		}
		return nil, err
	}

	out := *cred
	for _, field := range []*string{&out.APIKey, &out.APISecret, &out.WebhookSecret} {
		plain, err := s.secrets.Open(*field)
		if err != nil {
			return nil, fmt.Errorf("unseal %s credential for tenant %d: %w", gw, tenantID, err)
		}
		*field = plain
	}
	return &out, nil
}

// webhookConfigured reports whether the credential carries what webhook
// verification needs for its gateway.
func webhookConfigured(cred *models.GatewayCredential) bool {
	switch cred.Gateway {
	case models.GatewayStripe:
		return cred.WebhookSecret != ""
	case models.GatewayPayPal:
		return cred.WebhookID != "" && cred.APIKey != "" && cred.APISecret != ""
	default:
		return false
	}
}
