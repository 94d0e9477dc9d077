package counter

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ManuelReschke/CobroFox/app/models"
)

func TestBuildUpsertSQL(t *testing.T) {
	sql, args := buildUpsertSQL("resources", "whatsapp_used", map[string]string{
		"12":  "3",
		"4":   "1",
		"9":   "0",
		"0":   "2",
		"abc": "5",
		"7":   "x",
	})

	assert.Equal(t, "INSERT INTO resources (subscription_id, whatsapp_used, created_at, updated_at) VALUES "+
		"(?, ?, UTC_TIMESTAMP(3), UTC_TIMESTAMP(3)), (?, ?, UTC_TIMESTAMP(3), UTC_TIMESTAMP(3)) "+
		"ON DUPLICATE KEY UPDATE whatsapp_used = whatsapp_used + VALUES(whatsapp_used), updated_at = VALUES(updated_at)", sql)
	assert.Equal(t, []interface{}{uint64(4), int64(1), uint64(12), int64(3)}, args)
}

// A first-period subscription has no resources row yet; the flush must
// create it instead of updating nothing.
func TestBuildUpsertSQL_CreatesMissingRows(t *testing.T) {
	sql, args := buildUpsertSQL("resources", "api_used", map[string]string{"42": "5"})
	assert.True(t, strings.HasPrefix(sql, "INSERT INTO resources (subscription_id, api_used"))
	assert.NotContains(t, sql, "UPDATE resources")
	assert.Contains(t, sql, "api_used = api_used + VALUES(api_used)")
	assert.Equal(t, []interface{}{uint64(42), int64(5)}, args)
}

func TestBuildUpsertSQL_NothingToFlush(t *testing.T) {
	sql, args := buildUpsertSQL("resources", "api_used", map[string]string{"1": "0"})
	assert.Empty(t, sql)
	assert.Nil(t, args)
}

func TestAddUsage_UnknownKind(t *testing.T) {
	err := AddUsage(context.Background(), 1, models.ResourceKind("sms"), 1)
	assert.Error(t, err)
}

func TestKindsHaveColumns(t *testing.T) {
	for _, k := range Kinds {
		assert.NotEmpty(t, k.Column(), k)
	}
}
