package models

// All returns every persisted model in dependency order.
func All() []interface{} {
	return []interface{}{
		&Plan{},
		&Tenant{},
		&GatewayCredential{},
		&Client{},
		&Debt{},
		&PaymentLink{},
		&PaymentHistory{},
		&Subscription{},
		&Resources{},
		&GatewayWebhookEvent{},
	}
}
