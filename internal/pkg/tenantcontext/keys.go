package tenantcontext

// Shared Locals keys used across controllers and middlewares
const (
	KeyTenantContext = "TENANT_CONTEXT"
	KeyTenantID      = "tenant_id"
	KeyAuthenticated = "authenticated"
)
