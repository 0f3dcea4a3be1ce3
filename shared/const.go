package shared

const (
	UserID   = "user_id"
	UserRole = "user_role"
	ClientIP = "client_ip"

	ScopeIP         = "ip"
	ScopeUser       = "user"
	ScopeEndpoint   = "endpoint"
	ScopeBlacklist  = "blacklist"
	ScopePersistent = "persistent"

	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)
