package billing

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/CobroFox/internal/pkg/realtime"
)

// SecretOpener unseals credential secrets read from the database.
type SecretOpener interface {
	Open(value string) (string, error)
}

type plainSecrets struct{}

func (plainSecrets) Open(value string) (string, error) { return value, nil }

// Service is the tenant-aware payments core: credential resolution, payment
// link issuing, webhook processing and reconciliation.
type Service struct {
	repo       Repository
	gateways   GatewayFactory
	secrets    SecretOpener
	publisher  realtime.Publisher
	usage      PendingUsage
	successURL string
	cancelURL  string
	now        func() time.Time
}

type Option func(*Service)

func WithGatewayFactory(f GatewayFactory) Option {
	return func(s *Service) { s.gateways = f }
}

func WithSecretOpener(o SecretOpener) Option {
	return func(s *Service) { s.secrets = o }
}

func WithPublisher(p realtime.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithReturnURLs sets where hosted checkouts send the payer afterwards.
func WithReturnURLs(success, cancel string) Option {
	return func(s *Service) {
		s.successURL = success
		s.cancelURL = cancel
	}
}

// PendingUsage drops usage increments not yet flushed to the resources table.
type PendingUsage func(ctx context.Context, subscriptionID uint) error

// WithPendingUsage is called on renewal before the period counters reset.
func WithPendingUsage(discard PendingUsage) Option {
	return func(s *Service) { s.usage = discard }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		gateways:  NewGatewayFactory(GatewayConfig{}),
		secrets:   plainSecrets{},
		publisher: realtime.NopPublisher{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, opts ...Option) *Service {
	return NewService(NewRepository(db), opts...)
}
