package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/CobroFox/app/models"
)

const (
	EventPaymentReceived     = "payment:received"
	EventDebtUpdated         = "debt:updated"
	EventSubscriptionUpdated = "subscription:updated"
)

// Publisher emits events to the real-time channel of a tenant.
type Publisher interface {
	Publish(ctx context.Context, tenantID uint, event string, payload any) error
}

// Envelope is the JSON document written to the tenant channel.
type Envelope struct {
	Event     string    `json:"event"`
	Payload   any       `json:"payload"`
	EmittedAt time.Time `json:"emitted_at"`
}

// RedisPublisher publishes envelopes with Redis PUBLISH on tenant:<id>.
type RedisPublisher struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client, now: time.Now}
}

func (p *RedisPublisher) Publish(ctx context.Context, tenantID uint, event string, payload any) error {
	if p.client == nil {
		return fmt.Errorf("realtime: redis client not configured")
	}
	data, err := json.Marshal(Envelope{Event: event, Payload: payload, EmittedAt: p.now().UTC()})
	if err != nil {
		return fmt.Errorf("realtime: marshal %s: %w", event, err)
	}
	return p.client.Publish(ctx, models.TenantChannel(tenantID), data).Err()
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, uint, string, any) error { return nil }

// PublishBestEffort publishes and only logs failures. Callers use it after a
// transaction committed, where an emission error must not surface.
func PublishBestEffort(ctx context.Context, p Publisher, tenantID uint, event string, payload any) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, tenantID, event, payload); err != nil {
		log.Warnf("[Realtime] publish %s to tenant %d failed: %v", event, tenantID, err)
	}
}
