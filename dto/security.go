package dto

import "time"

type SuspiciousActivityResponse struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	UserID       string    `json:"user_id"`
	ClientIP     string    `json:"client_ip"`
	UserAgent    string    `json:"user_agent"`
	Path         string    `json:"path"`
	Method       string    `json:"method"`
	StatusCode   int       `json:"status_code"`
	ActivityType string    `json:"activity_type"`
	Severity     string    `json:"severity"`
	Details      *string   `json:"details,omitempty"`
	IsResolved   bool      `json:"is_resolved"`
	ResolutionID *string   `json:"resolution_id,omitempty"`
}

// SuspiciousActivityFilter narrows admin activity queries.
type SuspiciousActivityFilter struct {
	UserID   string
	Severity string
	Resolved *bool
	Limit    int
}

type ResolveActivityRequest struct {
	ResolutionID string `json:"resolution_id" validate:"required,max=64"`
}

func (r ResolveActivityRequest) Validate() error {
	return GetValidator().Struct(r)
}

type SecurityProfileResponse struct {
	UserID                   string                `json:"user_id"`
	SuspiciousActivityCount  int                   `json:"suspicious_activity_count"`
	LastSuspiciousActivityAt *time.Time            `json:"last_suspicious_activity_at,omitempty"`
	IsRestricted             bool                  `json:"is_restricted"`
	Fingerprints             []FingerprintResponse `json:"fingerprints"`
}

type FingerprintResponse struct {
	IP           string    `json:"ip"`
	UserAgent    string    `json:"user_agent"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	RequestCount int       `json:"request_count"`
}
