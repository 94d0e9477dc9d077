package billing

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/CobroFox/app/models"
)

var (
	// ErrCredentialMissing is a configuration error: the tenant has no active
	// credential (or no webhook secret) for the gateway. It is not retryable.
	ErrCredentialMissing  = errors.New("gateway credential missing")
	ErrDebtNotFound       = errors.New("debt not found")
	ErrClientNotFound     = errors.New("client not found")
	ErrDebtNotPayable     = errors.New("debt is not payable")
	ErrUnsupportedGateway = errors.New("unsupported gateway")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrMalformedEvent     = errors.New("malformed webhook event")
	ErrIntegrity          = errors.New("payment integrity violation")
)

// GatewayError wraps a failed call to a remote gateway.
type GatewayError struct {
	Gateway    string
	Op         string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s failed: status=%d: %v", e.Gateway, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Gateway, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Retryable reports whether the same request may succeed later: transport
// failures, throttling and 5xx responses.
func (e *GatewayError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IntegrityError is raised when a payment would settle a debt that is not in
// a settleable state. The surrounding transaction is rolled back.
type IntegrityError struct {
	DebtID  uint
	Status  models.DebtStatus
	Balance decimal.Decimal
	Reason  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("payment integrity violation: debt %d (status=%s balance=%s): %s",
		e.DebtID, e.Status, e.Balance.StringFixed(2), e.Reason)
}

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

// ErrAlreadyCaptured is returned by OrderCapturer when the order was captured before.
var ErrAlreadyCaptured = errors.New("order already captured")
