package billing

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ManuelReschke/CobroFox/app/models"
)

// memoryStore is an in-memory stand-in for the billing tables. Transactions
// are serialized and roll back by restoring a snapshot.
type memoryStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	nextID      uint
	credentials map[uint]*models.GatewayCredential
	clients     map[uint]*models.Client
	debts       map[uint]*models.Debt
	links       map[uint]*models.PaymentLink
	history     map[uint]*models.PaymentHistory
	subs        map[uint]*models.Subscription
	resources   map[uint]*models.Resources
	events      map[uint]*models.GatewayWebhookEvent

	// failHistoryInsert makes CreatePaymentHistory fail once set.
	failHistoryInsert error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		nextID:      1000,
		credentials: map[uint]*models.GatewayCredential{},
		clients:     map[uint]*models.Client{},
		debts:       map[uint]*models.Debt{},
		links:       map[uint]*models.PaymentLink{},
		history:     map[uint]*models.PaymentHistory{},
		subs:        map[uint]*models.Subscription{},
		resources:   map[uint]*models.Resources{},
		events:      map[uint]*models.GatewayWebhookEvent{},
	}
}

func (s *memoryStore) id() uint {
	s.nextID++
	return s.nextID
}

type memorySnapshot struct {
	nextID      uint
	credentials map[uint]*models.GatewayCredential
	clients     map[uint]*models.Client
	debts       map[uint]*models.Debt
	links       map[uint]*models.PaymentLink
	history     map[uint]*models.PaymentHistory
	subs        map[uint]*models.Subscription
	resources   map[uint]*models.Resources
	events      map[uint]*models.GatewayWebhookEvent
}

func cloneRows[T any](in map[uint]*T) map[uint]*T {
	out := make(map[uint]*T, len(in))
	for k, v := range in {
		c := *v
		out[k] = &c
	}
	return out
}

func (s *memoryStore) snapshot() memorySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memorySnapshot{
		nextID:      s.nextID,
		credentials: cloneRows(s.credentials),
		clients:     cloneRows(s.clients),
		debts:       cloneRows(s.debts),
		links:       cloneRows(s.links),
		history:     cloneRows(s.history),
		subs:        cloneRows(s.subs),
		resources:   cloneRows(s.resources),
		events:      cloneRows(s.events),
	}
}

func (s *memoryStore) restore(snap memorySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = snap.nextID
	s.credentials = snap.credentials
	s.clients = snap.clients
	s.debts = snap.debts
	s.links = snap.links
	s.history = snap.history
	s.subs = snap.subs
	s.resources = snap.resources
	s.events = snap.events
}

func (s *memoryStore) debt(id uint) models.Debt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.debts[id]
}

func (s *memoryStore) link(id uint) models.PaymentLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.links[id]
}

func (s *memoryStore) subscription(id uint) models.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.subs[id]
}

func (s *memoryStore) historyRows() []models.PaymentHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PaymentHistory, 0, len(s.history))
	for _, h := range s.history {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memoryStore) linkRows() []models.PaymentLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PaymentLink, 0, len(s.links))
	for _, l := range s.links {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memoryStore) eventRows() []models.GatewayWebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.GatewayWebhookEvent, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, *e)
	}
	return out
}

type memoryRepository struct {
	store *memoryStore
	inTx  bool
}

func newMemoryRepository(store *memoryStore) *memoryRepository {
	return &memoryRepository{store: store}
}

func (r *memoryRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	r.store.txMu.Lock()
	defer r.store.txMu.Unlock()

	snap := r.store.snapshot()
	if err := fn(&memoryRepository{store: r.store, inTx: true}); err != nil {
		r.store.restore(snap)
		return err
	}
	return nil
}

func (r *memoryRepository) FindActiveCredential(_ context.Context, tenantID uint, gateway string) (*models.GatewayCredential, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, c := range r.store.credentials {
		if c.TenantID == tenantID && c.Gateway == gateway && c.Active {
			out := *c
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryRepository) GetDebt(_ context.Context, id uint) (*models.Debt, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	d, ok := r.store.debts[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := *d
	return &out, nil
}

func (r *memoryRepository) GetDebtForUpdate(ctx context.Context, id uint) (*models.Debt, error) {
	return r.GetDebt(ctx, id)
}

func (r *memoryRepository) GetClient(_ context.Context, id uint) (*models.Client, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.clients[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := *c
	return &out, nil
}

func (r *memoryRepository) SettleDebt(_ context.Context, id uint) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	d, ok := r.store.debts[id]
	if !ok || !d.Settleable() {
		return false, nil
	}
	d.Balance = decimal.Zero
	d.Status = models.DebtStatusPaid
	return true, nil
}

func (r *memoryRepository) CreatePaymentLink(_ context.Context, link *models.PaymentLink) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	link.ID = r.store.id()
	c := *link
	r.store.links[link.ID] = &c
	return nil
}

func (r *memoryRepository) FindPendingPaymentLink(_ context.Context, tenantID uint, gateway, externalID string) (*models.PaymentLink, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var found *models.PaymentLink
	for _, l := range r.store.links {
		if l.ExternalID != externalID || l.Gateway != gateway || l.Status != models.PaymentLinkStatusPending {
			continue
		}
		cred, ok := r.store.credentials[l.CredentialID]
		if !ok || cred.TenantID != tenantID {
			continue
		}
		if found == nil || l.ID > found.ID {
			found = l
		}
	}
	if found == nil {
		return nil, gorm.ErrRecordNotFound
	}
	out := *found
	return &out, nil
}

func (r *memoryRepository) MarkPaymentLinkPaid(_ context.Context, id uint, paidAt time.Time, fee, net decimal.Decimal) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	l, ok := r.store.links[id]
	if !ok || l.Status != models.PaymentLinkStatusPending {
		return false, nil
	}
	l.Status = models.PaymentLinkStatusPaid
	l.PaidAt = &paidAt
	l.Fee = fee
	l.NetAmount = net
	return true, nil
}

func (r *memoryRepository) ExpirePaymentLink(_ context.Context, id uint) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	l, ok := r.store.links[id]
	if !ok || l.Status != models.PaymentLinkStatusPending {
		return false, nil
	}
	l.Status = models.PaymentLinkStatusExpired
	return true, nil
}

func (r *memoryRepository) CreatePaymentHistory(_ context.Context, entry *models.PaymentHistory) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.failHistoryInsert != nil {
		return r.store.failHistoryInsert
	}
	for _, h := range r.store.history {
		if h.PaymentLinkID == entry.PaymentLinkID {
			return errors.New("duplicate entry for payment_link_id")
		}
	}
	entry.ID = r.store.id()
	c := *entry
	r.store.history[entry.ID] = &c
	return nil
}

func (r *memoryRepository) FindSubscriptionByExternalID(_ context.Context, tenantID uint, externalID string) (*models.Subscription, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var found *models.Subscription
	for _, s := range r.store.subs {
		if s.TenantID == tenantID && s.ExternalID == externalID && (found == nil || s.ID > found.ID) {
			found = s
		}
	}
	if found == nil {
		return nil, gorm.ErrRecordNotFound
	}
	out := *found
	return &out, nil
}

func (r *memoryRepository) SaveSubscription(_ context.Context, sub *models.Subscription) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if sub.ID == 0 {
		sub.ID = r.store.id()
	}
	c := *sub
	r.store.subs[sub.ID] = &c
	return nil
}

func (r *memoryRepository) CancelOtherLiveSubscriptions(_ context.Context, tenantID, keepID uint, at time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for _, s := range r.store.subs {
		if s.TenantID == tenantID && s.ID != keepID && s.IsLive() {
			s.Status = models.SubscriptionStatusCancelled
			cancelledAt := at
			s.CancelledAt = &cancelledAt
			n++
		}
	}
	return n, nil
}

func (r *memoryRepository) ResetResources(_ context.Context, subscriptionID uint) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	res, ok := r.store.resources[subscriptionID]
	if !ok {
		res = &models.Resources{ID: r.store.id(), SubscriptionID: subscriptionID}
		r.store.resources[subscriptionID] = res
	}
	res.Reset()
	return nil
}

func (r *memoryRepository) CreateWebhookEventIfNotExists(_ context.Context, event *models.GatewayWebhookEvent) (bool, *models.GatewayWebhookEvent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, e := range r.store.events {
		if e.TenantID == event.TenantID && e.Gateway == event.Gateway && e.EventID == event.EventID {
			out := *e
			return false, &out, nil
		}
	}
	event.ID = r.store.id()
	c := *event
	r.store.events[event.ID] = &c
	out := c
	return true, &out, nil
}

func (r *memoryRepository) MarkWebhookProcessed(_ context.Context, id uint, processingError string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	e, ok := r.store.events[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	now := time.Now()
	e.ProcessedAt = &now
	e.ProcessingError = processingError
	return nil
}

// fakeGateway records checkout requests and returns canned answers.
type fakeGateway struct {
	mu sync.Mutex

	name        string
	checkout    *Checkout
	checkoutErr error
	verified    bool
	event       Event
	parseErr    error
	captured    *PaymentCaptured
	captureErr  error

	requests []CheckoutRequest
	captures []string
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) CreateCheckout(_ context.Context, req CheckoutRequest) (*Checkout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.checkoutErr != nil {
		return nil, g.checkoutErr
	}
	return g.checkout, nil
}

func (g *fakeGateway) VerifyWebhook(context.Context, []byte, http.Header) bool { return g.verified }

func (g *fakeGateway) ParseEvent([]byte) (Event, error) {
	if g.parseErr != nil {
		return nil, g.parseErr
	}
	return g.event, nil
}

func (g *fakeGateway) CaptureOrder(_ context.Context, orderID string) (*PaymentCaptured, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captures = append(g.captures, orderID)
	if g.captureErr != nil {
		return nil, g.captureErr
	}
	out := *g.captured
	return &out, nil
}

func fakeFactory(gw *fakeGateway) GatewayFactory {
	return func(cred *models.GatewayCredential) (Gateway, error) {
		if gw.name == "" {
			gw.name = cred.Gateway
		}
		return gw, nil
	}
}

type publishedEvent struct {
	TenantID uint
	Event    string
	Payload  any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, tenantID uint, event string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{TenantID: tenantID, Event: event, Payload: payload})
	return p.err
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Event)
	}
	return out
}

// Fixture ids.
const (
	tenantA       uint = 1
	tenantB       uint = 2
	credStripeA   uint = 10
	credPayPalA   uint = 11
	credStripeB   uint = 12
	clientA       uint = 20
	clientB       uint = 21
	debtA         uint = 30
	debtB         uint = 31
	linkStripeA   uint = 40
	linkPayPalA   uint = 41
	linkStripeB   uint = 42
	subscriptionA uint = 50
)

var fixtureNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// seedStore creates two tenants, each with a client owing 500.00 and a
// pending Stripe link; tenant A also has a pending PayPal link.
func seedStore() *memoryStore {
	s := newMemoryStore()
	s.credentials[credStripeA] = &models.GatewayCredential{ID: credStripeA, TenantID: tenantA, Gateway: models.GatewayStripe, APISecret: "sk_test_a", WebhookSecret: "whsec_a", Active: true}
	s.credentials[credPayPalA] = &models.GatewayCredential{ID: credPayPalA, TenantID: tenantA, Gateway: models.GatewayPayPal, APIKey: "client", APISecret: "secret", WebhookID: "WH-1", Active: true}
	s.credentials[credStripeB] = &models.GatewayCredential{ID: credStripeB, TenantID: tenantB, Gateway: models.GatewayStripe, APISecret: "sk_test_b", WebhookSecret: "whsec_b", Active: true}

	s.clients[clientA] = &models.Client{ID: clientA, TenantID: tenantA, Name: "Ana", Email: "ana@example.com", PreferredGateway: models.GatewayStripe}
	s.clients[clientB] = &models.Client{ID: clientB, TenantID: tenantB, Name: "Beto", PreferredGateway: models.GatewayStripe}

	amount := decimal.RequireFromString("500.00")
	s.debts[debtA] = &models.Debt{ID: debtA, ClientID: clientA, Amount: amount, Balance: amount, Currency: "MXN", Status: models.DebtStatusPending, DueDate: fixtureNow.AddDate(0, 0, 5)}
	s.debts[debtB] = &models.Debt{ID: debtB, ClientID: clientB, Amount: amount, Balance: amount, Currency: "MXN", Status: models.DebtStatusPending, DueDate: fixtureNow.AddDate(0, 0, 5)}

	s.links[linkStripeA] = &models.PaymentLink{ID: linkStripeA, DebtID: debtA, CredentialID: credStripeA, Gateway: models.GatewayStripe, ExternalID: "cs_test_a", Amount: amount, Status: models.PaymentLinkStatusPending}
	s.links[linkPayPalA] = &models.PaymentLink{ID: linkPayPalA, DebtID: debtA, CredentialID: credPayPalA, Gateway: models.GatewayPayPal, ExternalID: "ORDER-A", Amount: amount, Status: models.PaymentLinkStatusPending}
	s.links[linkStripeB] = &models.PaymentLink{ID: linkStripeB, DebtID: debtB, CredentialID: credStripeB, Gateway: models.GatewayStripe, ExternalID: "cs_test_b", Amount: amount, Status: models.PaymentLinkStatusPending}

	s.subs[subscriptionA] = &models.Subscription{
		ID:          subscriptionA,
		TenantID:    tenantA,
		PlanID:      1,
		Status:      models.SubscriptionStatusActive,
		StartDate:   fixtureNow.AddDate(0, -1, 0),
		RenewalDate: fixtureNow,
		ExternalID:  "sub_a",
		Gateway:     models.GatewayStripe,
	}
	s.resources[subscriptionA] = &models.Resources{ID: 60, SubscriptionID: subscriptionA, WhatsAppUsed: 12, EmailUsed: 3, APIUsed: 7}
	return s
}

func newTestService(store *memoryStore, opts ...Option) *Service {
	base := []Option{WithClock(func() time.Time { return fixtureNow })}
	return NewService(newMemoryRepository(store), append(base, opts...)...)
}
