package handlers

import (
	"context"
	"time"

	"github.com/gatewarden/warden_api/dto"
	"github.com/gatewarden/warden_api/model"
)

type RateLimitServiceInterface interface {
	GetUserLimitStatus(ctx context.Context, userID, path string) dto.RateLimitStatus
}

type BlockServiceInterface interface {
	ListBlockedUsers(ctx context.Context) ([]model.UserPersistentBlock, error)
	ClearUserBlock(ctx context.Context, userID string) error

	ListBlacklist(ctx context.Context) ([]model.IPBlacklistEntry, error)
	BlacklistIP(ctx context.Context, ip, reason string, createdBy *string, expiresAt *time.Time) (*model.IPBlacklistEntry, error)
	RemoveBlacklistedIP(ctx context.Context, ip string) error

	ListOverrides(ctx context.Context, userID string) ([]model.RateLimitOverride, error)
	CreateOrUpdateOverride(ctx context.Context, req dto.CreateOverrideRequest, createdBy *string) (*model.RateLimitOverride, error)
	DeleteOverride(ctx context.Context, overrideID string) error
}

type LimitConfigServiceInterface interface {
	ListConfigs(ctx context.Context) ([]model.RateLimitConfig, error)
	CreateConfig(ctx context.Context, req dto.CreateConfigRequest) (*model.RateLimitConfig, error)
	UpdateConfig(ctx context.Context, configID string, req dto.UpdateConfigRequest) (*model.RateLimitConfig, error)
	DeleteConfig(ctx context.Context, configID string) error
}

type ViolationQueryInterface interface {
	ListViolations(ctx context.Context, filter dto.ViolationFilter) ([]model.RateLimitViolation, error)
	ViolationAnalytics(ctx context.Context, since time.Time) (*dto.ViolationAnalytics, error)
}

type SecurityServiceInterface interface {
	ListSuspicious(ctx context.Context, filter dto.SuspiciousActivityFilter) ([]model.SuspiciousActivityLog, error)
	ResolveActivity(ctx context.Context, activityID, resolutionID string) error
	GetProfile(ctx context.Context, userID string) (*model.UserSecurityProfile, []model.ClientFingerprint, error)
	ResetProfile(ctx context.Context, userID string) error
}
