package maintenance

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ManuelReschke/CobroFox/app/models"
)

type memoryRepository struct {
	mu        sync.Mutex
	debts     []*models.Debt
	subs      map[uint]*models.Subscription
	resources map[uint]*models.Resources
	queryErr  error
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		subs:      make(map[uint]*models.Subscription),
		resources: make(map[uint]*models.Resources),
	}
}

func (m *memoryRepository) addSubscription(s *models.Subscription) {
	m.subs[s.ID] = s
	m.resources[s.ID] = &models.Resources{ID: s.ID, SubscriptionID: s.ID}
}

func (m *memoryRepository) MarkOverdueDebts(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, d := range m.debts {
		if d.IsOverdue(now) {
			d.Status = models.DebtStatusOverdue
			n++
		}
	}
	return n, nil
}

func (m *memoryRepository) ExpirePastDueSubscriptions(_ context.Context, renewedBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.subs {
		if s.Status == models.SubscriptionStatusPastDue && s.RenewalDate.Before(renewedBefore) {
			s.Status = models.SubscriptionStatusExpired
			n++
		}
	}
	return n, nil
}

func (m *memoryRepository) SubscriptionsRenewingBetween(_ context.Context, status models.SubscriptionStatus, from, to time.Time) ([]models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	var out []models.Subscription
	for _, s := range m.subs {
		if s.Status == status && !s.RenewalDate.Before(from) && s.RenewalDate.Before(to) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepository) DeleteCancelledSubscriptions(_ context.Context, cancelledBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.subs {
		if s.Status == models.SubscriptionStatusCancelled && s.CancelledAt != nil && s.CancelledAt.Before(cancelledBefore) {
			delete(m.subs, id)
			n++
		}
	}
	return n, nil
}

func (m *memoryRepository) DeleteOrphanedResources(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.resources {
		if _, ok := m.subs[r.SubscriptionID]; !ok {
			delete(m.resources, id)
			n++
		}
	}
	return n, nil
}

type sentReminder struct {
	kind           ReminderKind
	subscriptionID uint
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentReminder
	fail map[uint]bool
}

func (n *recordingNotifier) NotifySubscription(_ context.Context, kind ReminderKind, sub *models.Subscription) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail[sub.ID] {
		return errors.New("smtp: connection refused")
	}
	n.sent = append(n.sent, sentReminder{kind: kind, subscriptionID: sub.ID})
	return nil
}
