package dto

import "time"

// Decision is the engine verdict handed to the middleware.
type Decision struct {
	Admitted bool   `json:"admitted"`
	Reason   string `json:"reason,omitempty"`
	Scope    string `json:"scope,omitempty"`
}

// RateLimitStatus reports remaining quota for one endpoint key.
type RateLimitStatus struct {
	TotalAllowed  int       `json:"total_allowed"`
	Remaining     int       `json:"remaining"`
	ResetAt       time.Time `json:"reset_at"`
	WindowSeconds int       `json:"window_seconds"`
}

type CreateOverrideRequest struct {
	UserID        string     `json:"user_id" validate:"required,max=64"`
	Path          string     `json:"path" validate:"required,endpoint_pattern"`
	MaxRequests   int        `json:"max_requests" validate:"required,gt=0"`
	WindowSeconds int        `json:"window_seconds" validate:"required,gt=0"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Reason        *string    `json:"reason,omitempty" validate:"omitempty,max=500"`
}

func (r CreateOverrideRequest) Validate() error {
	return GetValidator().Struct(r)
}

type OverrideResponse struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Path          string     `json:"path"`
	MaxRequests   int        `json:"max_requests"`
	WindowSeconds int        `json:"window_seconds"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CreatedBy     *string    `json:"created_by,omitempty"`
	Reason        *string    `json:"reason,omitempty"`
}

type CreateConfigRequest struct {
	Endpoint      string   `json:"endpoint" validate:"required,endpoint_pattern"`
	MaxRequests   int      `json:"max_requests" validate:"required,gt=0"`
	WindowSeconds int      `json:"window_seconds" validate:"required,gt=0"`
	Active        *bool    `json:"active,omitempty"`
	BypassRoles   []string `json:"bypass_roles,omitempty" validate:"omitempty,dive,max=50"`
	Description   string   `json:"description,omitempty" validate:"omitempty,max=500"`
}

func (r CreateConfigRequest) Validate() error {
	return GetValidator().Struct(r)
}

type UpdateConfigRequest struct {
	MaxRequests   *int     `json:"max_requests,omitempty" validate:"omitempty,gt=0"`
	WindowSeconds *int     `json:"window_seconds,omitempty" validate:"omitempty,gt=0"`
	Active        *bool    `json:"active,omitempty"`
	BypassRoles   []string `json:"bypass_roles,omitempty" validate:"omitempty,dive,max=50"`
	Description   *string  `json:"description,omitempty" validate:"omitempty,max=500"`
}

func (r UpdateConfigRequest) Validate() error {
	return GetValidator().Struct(r)
}

type ConfigResponse struct {
	ID            string    `json:"id"`
	Endpoint      string    `json:"endpoint"`
	MaxRequests   int       `json:"max_requests"`
	WindowSeconds int       `json:"window_seconds"`
	Active        bool      `json:"active"`
	BypassRoles   []string  `json:"bypass_roles"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ViolationFilter narrows admin violation queries.
type ViolationFilter struct {
	Scope  string
	UserID string
	Since  time.Time
	Limit  int
}

type ViolationResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Key       string    `json:"key"`
	Scope     string    `json:"scope"`
	Limit     int       `json:"limit"`
	Attempts  int       `json:"attempts"`
	UserID    *string   `json:"user_id,omitempty"`
	ClientIP  *string   `json:"client_ip,omitempty"`
	Endpoint  *string   `json:"endpoint,omitempty"`
}

type ViolationAnalytics struct {
	TotalViolations int64            `json:"total_violations"`
	UniqueIPs       int64            `json:"unique_ips"`
	UniqueUsers     int64            `json:"unique_users"`
	UniqueEndpoints int64            `json:"unique_endpoints"`
	ByScope         map[string]int64 `json:"by_scope"`
	TopIPs          []TopOffender    `json:"top_ips"`
	ByDay           []DailyCount     `json:"by_day"`
}

type TopOffender struct {
	ClientIP   string `json:"client_ip"`
	Violations int64  `json:"violations"`
}

type DailyCount struct {
	Day        time.Time `json:"day"`
	Violations int64     `json:"violations"`
}

type BlacklistIPRequest struct {
	IP        string     `json:"ip" validate:"required,ip"`
	Reason    string     `json:"reason" validate:"required,max=500"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (r BlacklistIPRequest) Validate() error {
	return GetValidator().Struct(r)
}
