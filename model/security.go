package model

import "time"

// IPBlacklistEntry blocks an address outright. Expired entries are removed on
// read rather than by a background sweep.
type IPBlacklistEntry struct {
	ID        string     `json:"id" gorm:"primaryKey;type:text;not null"`
	IP        string     `json:"ip" gorm:"uniqueIndex;not null;size:64"`
	Reason    string     `json:"reason" gorm:"not null;type:text"`
	CreatedAt time.Time  `json:"created_at" gorm:"not null"`
	CreatedBy *string    `json:"created_by,omitempty" gorm:"size:64"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" gorm:"index"`
}

// UserSecurityProfile aggregates a user's anomaly state. Fingerprints live in
// their own table so concurrent requests can upsert without rewriting the
// whole profile.
type UserSecurityProfile struct {
	ID                       string     `json:"id" gorm:"primaryKey;type:text;not null"`
	UserID                   string     `json:"user_id" gorm:"uniqueIndex;not null;size:64"`
	SuspiciousActivityCount  int        `json:"suspicious_activity_count" gorm:"default:0;not null"`
	LastSuspiciousActivityAt *time.Time `json:"last_suspicious_activity_at,omitempty"`
	IsRestricted             bool       `json:"is_restricted" gorm:"default:false;not null"`
	CreatedAt                time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt                time.Time  `json:"updated_at" gorm:"not null"`
}

// ClientFingerprint is one (ip, user agent) pair seen for a user. The unique
// index is what makes the append-or-bump upsert race-free.
type ClientFingerprint struct {
	ID           string    `json:"id" gorm:"primaryKey;type:text;not null"`
	UserID       string    `json:"user_id" gorm:"not null;uniqueIndex:idx_fingerprint_identity;size:64"`
	IP           string    `json:"ip" gorm:"not null;uniqueIndex:idx_fingerprint_identity;size:64"`
	UserAgent    string    `json:"user_agent" gorm:"not null;uniqueIndex:idx_fingerprint_identity;size:512"`
	FirstSeen    time.Time `json:"first_seen" gorm:"not null"`
	LastSeen     time.Time `json:"last_seen" gorm:"not null;index"`
	RequestCount int       `json:"request_count" gorm:"default:1;not null"`
}

// SuspiciousActivityLog is an immutable append record for flagged requests.
type SuspiciousActivityLog struct {
	ID           string    `json:"id" gorm:"primaryKey;type:text;not null"`
	Timestamp    time.Time `json:"timestamp" gorm:"not null;index"`
	UserID       string    `json:"user_id" gorm:"not null;index;size:128"`
	ClientIP     string    `json:"client_ip" gorm:"not null;size:64"`
	UserAgent    string    `json:"user_agent" gorm:"not null;size:512"`
	Path         string    `json:"path" gorm:"not null;size:255"`
	Method       string    `json:"method" gorm:"not null;size:10"`
	StatusCode   int       `json:"status_code" gorm:"not null"`
	ActivityType string    `json:"activity_type" gorm:"not null;size:50"`
	Severity     string    `json:"severity" gorm:"not null;index;size:10"`
	Details      *string   `json:"details,omitempty" gorm:"type:text"`
	IsResolved   bool      `json:"is_resolved" gorm:"default:false;not null;index"`
	ResolutionID *string   `json:"resolution_id,omitempty" gorm:"size:64"`
}
