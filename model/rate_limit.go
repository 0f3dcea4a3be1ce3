package model

import "time"

// RateWindowEvent is one admitted request. Rows are write-once and expire via
// the retention sweep (~1 day); the hot path counts Redis rollup buckets, not
// these rows.
type RateWindowEvent struct {
	ID          string    `json:"id" gorm:"primaryKey;type:text;not null"`
	Key         string    `json:"key" gorm:"not null;index:idx_window_events_key_ts;size:512"`
	Scope       string    `json:"scope" gorm:"not null;size:20"`
	Timestamp   time.Time `json:"timestamp" gorm:"not null;index:idx_window_events_key_ts"`
	WindowStart time.Time `json:"window_start" gorm:"not null"`
	WindowEnd   time.Time `json:"window_end" gorm:"not null"`
	ClientIP    string    `json:"client_ip,omitempty" gorm:"size:64"`
	UserID      string    `json:"user_id,omitempty" gorm:"index;size:64"`
	Endpoint    string    `json:"endpoint,omitempty" gorm:"size:255"`
}

// RateLimitViolation is recorded once per denial event, retained ~1 month for
// analytics.
type RateLimitViolation struct {
	ID        string    `json:"id" gorm:"primaryKey;type:text;not null"`
	Key       string    `json:"key" gorm:"not null;index;size:512"`
	Scope     string    `json:"scope" gorm:"not null;index;size:20"`
	Limit     int       `json:"limit" gorm:"not null"`
	Attempts  int       `json:"attempts" gorm:"not null"`
	UserID    *string   `json:"user_id,omitempty" gorm:"index;size:64"`
	ClientIP  *string   `json:"client_ip,omitempty" gorm:"index;size:64"`
	Endpoint  *string   `json:"endpoint,omitempty" gorm:"size:255"`
	Timestamp time.Time `json:"timestamp" gorm:"not null;index"`
}

// RateLimitConfig is the per-endpoint policy. Endpoint is exact or a
// suffix-wildcard pattern ending in '*'; unique among configs, soft-disabled
// via Active instead of deletion.
type RateLimitConfig struct {
	ID            string    `json:"id" gorm:"primaryKey;type:text;not null"`
	Endpoint      string    `json:"endpoint" gorm:"uniqueIndex;not null;size:255"`
	MaxRequests   int       `json:"max_requests" gorm:"not null"`
	WindowSeconds int       `json:"window_seconds" gorm:"not null"`
	Active        bool      `json:"active" gorm:"default:true;not null;index"`
	BypassRoles   string    `json:"bypass_roles" gorm:"type:text"` // comma-separated
	Description   string    `json:"description" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"not null"`
}

// RateLimitOverride is a per-user custom limit. At most one row per
// (user_id, path); path "*" is the wildcard entry, exact path wins on lookup.
type RateLimitOverride struct {
	ID            string     `json:"id" gorm:"primaryKey;type:text;not null"`
	UserID        string     `json:"user_id" gorm:"not null;uniqueIndex:idx_override_user_path;size:64"`
	Path          string     `json:"path" gorm:"not null;uniqueIndex:idx_override_user_path;size:255"`
	MaxRequests   int        `json:"max_requests" gorm:"not null"`
	WindowSeconds int        `json:"window_seconds" gorm:"not null"`
	CreatedAt     time.Time  `json:"created_at" gorm:"not null"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty" gorm:"index"`
	CreatedBy     *string    `json:"created_by,omitempty" gorm:"size:64"`
	Reason        *string    `json:"reason,omitempty" gorm:"type:text"`
}

// UserPersistentBlock is the per-identity cooldown written when a tier denies.
// IsLimited is only meaningful while LimitedUntil is in the future; reads
// clear stale blocks lazily.
type UserPersistentBlock struct {
	ID           string     `json:"id" gorm:"primaryKey;type:text;not null"`
	UserID       string     `json:"user_id" gorm:"uniqueIndex;not null;size:128"`
	IsLimited    bool       `json:"is_limited" gorm:"default:false;not null;index"`
	Reason       *string    `json:"reason,omitempty" gorm:"type:text"`
	LimitedUntil *time.Time `json:"limited_until,omitempty" gorm:"index"`
	CreatedAt    time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time  `json:"updated_at" gorm:"not null"`
}
