package models

import "fmt"

// TenantChannel returns the pub/sub channel name for a tenant.
func TenantChannel(tenantID uint) string {
	return fmt.Sprintf("tenant:%d", tenantID)
}
