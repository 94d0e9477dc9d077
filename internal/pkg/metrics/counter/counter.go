package counter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/CobroFox/app/models"
	"github.com/ManuelReschke/CobroFox/internal/pkg/cache"
	"github.com/ManuelReschke/CobroFox/internal/pkg/database"
)

const usageKeyPrefix = "usage:counters:"

// Kinds lists the counters that are flushed into the resources table.
var Kinds = []models.ResourceKind{
	models.ResourceWhatsApp,
	models.ResourceEmail,
	models.ResourceAPI,
	models.ResourceClients,
}

func usageKey(kind models.ResourceKind) string {
	return usageKeyPrefix + string(kind)
}

// AddUsage increments the pending usage counter of a subscription in Redis
func AddUsage(ctx context.Context, subscriptionID uint, kind models.ResourceKind, n int64) error {
	if kind.Column() == "" {
		return fmt.Errorf("unknown resource kind %q", kind)
	}
	field := strconv.FormatUint(uint64(subscriptionID), 10)
	return cache.GetClient().HIncrBy(ctx, usageKey(kind), field, n).Err()
}

// SubscriptionLookup resolves the subscription usage is billed against.
type SubscriptionLookup interface {
	LiveSubscription(ctx context.Context, tenantID uint) (*models.Subscription, error)
}

const liveSubscriptionTTL = time.Minute

func liveSubscriptionKey(tenantID uint) string {
	return fmt.Sprintf("usage:live_subscription:%d", tenantID)
}

// AddTenantUsage increments usage on the tenant's live subscription. The
// subscription id is cached briefly so hot paths skip the database.
func AddTenantUsage(ctx context.Context, lookup SubscriptionLookup, tenantID uint, kind models.ResourceKind, n int64) error {
	key := liveSubscriptionKey(tenantID)
	if raw, err := cache.Get(key); err == nil {
		if id, perr := strconv.ParseUint(raw, 10, 64); perr == nil && id > 0 {
			return AddUsage(ctx, uint(id), kind, n)
		}
	}

	sub, err := lookup.LiveSubscription(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("resolve live subscription of tenant %d: %w", tenantID, err)
	}
	_ = cache.Set(key, strconv.FormatUint(uint64(sub.ID), 10), liveSubscriptionTTL)
	return AddUsage(ctx, sub.ID, kind, n)
}

// DiscardPending drops the not yet flushed usage of a subscription. Renewal
// calls it before zeroing the period counters so the previous period's tail
// is not charged to the new one.
func DiscardPending(ctx context.Context, subscriptionID uint) error {
	field := strconv.FormatUint(uint64(subscriptionID), 10)
	pipe := cache.GetClient().TxPipeline()
	for _, kind := range Kinds {
		pipe.HDel(ctx, usageKey(kind), field)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// FlushAll drains every usage hash into the resources table
func FlushAll(ctx context.Context) error {
	for _, kind := range Kinds {
		if err := flushHashToTable(ctx, usageKey(kind), "resources", kind.Column()); err != nil {
			return fmt.Errorf("flush %s usage: %w", kind, err)
		}
	}
	return nil
}

// flushHashToTable drains a Redis hash atomically and applies batched increments to table.
// Uses RENAME to a temporary key for atomic drain without losing in-flight increments.
func flushHashToTable(ctx context.Context, redisKey, table, column string) error {
	rdb := cache.GetClient()

	// Atomically move the hash to a temp key for draining
	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := rdb.Rename(ctx, redisKey, tmpKey).Err(); err != nil {
		// If key does not exist, nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		return err
	}

	// Ensure cleanup of tmpKey even if later steps fail
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}

	sql, args := buildUpsertSQL(table, column, data)
	if sql == "" {
		return nil
	}
	return database.GetDB().WithContext(ctx).Exec(sql, args...).Error
}

// buildUpsertSQL composes
// INSERT INTO <table> (subscription_id, <column>, created_at, updated_at) VALUES (?, ?, ...), ...
// ON DUPLICATE KEY UPDATE <column> = <column> + VALUES(<column>)
// from a subscription id -> increment hash, so a subscription without a row yet
// gets one. Unparseable and zero entries are skipped.
func buildUpsertSQL(table, column string, data map[string]string) (string, []interface{}) {
	type pair struct {
		id  uint64
		inc int64
	}
	pairs := make([]pair, 0, len(data))
	for k, v := range data {
		id, perr := strconv.ParseUint(k, 10, 64)
		if perr != nil || id == 0 {
			continue
		}
		inc, ierr := strconv.ParseInt(v, 10, 64)
		if ierr != nil || inc == 0 {
			continue
		}
		pairs = append(pairs, pair{id: id, inc: inc})
	}
	if len(pairs) == 0 {
		return "", nil
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })

	var builder strings.Builder
	args := make([]interface{}, 0, len(pairs)*2)
	builder.WriteString("INSERT INTO ")
	builder.WriteString(table)
	builder.WriteString(" (subscription_id, ")
	builder.WriteString(column)
	builder.WriteString(", created_at, updated_at) VALUES ")
	for i, p := range pairs {
		if i > 0 {
			builder.WriteString(", ")
		}
		builder.WriteString("(?, ?, UTC_TIMESTAMP(3), UTC_TIMESTAMP(3))")
		args = append(args, p.id, p.inc)
	}
	builder.WriteString(" ON DUPLICATE KEY UPDATE ")
	builder.WriteString(column)
	builder.WriteString(" = ")
	builder.WriteString(column)
	builder.WriteString(" + VALUES(")
	builder.WriteString(column)
	builder.WriteString("), updated_at = VALUES(updated_at)")
	return builder.String(), args
}
