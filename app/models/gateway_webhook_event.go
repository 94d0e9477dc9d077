package models

import "time"

// GatewayWebhookEvent stores verified gateway deliveries with deduplication
// metadata so a redelivered event that already succeeded is skipped. Rows are
// unique per tenant route: tenants sharing one gateway account each receive
// the same event id.
type GatewayWebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	TenantID        uint       `gorm:"not null;index:ux_gateway_webhook_events_tenant_event,unique,priority:1" json:"tenant_id"`
	Gateway         string     `gorm:"type:varchar(20);not null;index:ux_gateway_webhook_events_tenant_event,unique,priority:2" json:"gateway"`
	EventID         string     `gorm:"type:varchar(191);not null;index:ux_gateway_webhook_events_tenant_event,unique,priority:3" json:"event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadSHA256   string     `gorm:"type:char(64);not null" json:"payload_sha256"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Succeeded reports whether a previous delivery was fully processed.
func (e *GatewayWebhookEvent) Succeeded() bool {
	return e.ProcessedAt != nil && e.ProcessingError == ""
}
