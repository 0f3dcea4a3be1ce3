package services

import (
	"context"
	"errors"
	"time"

	"github.com/gatewarden/warden_api/dto"
	"github.com/gatewarden/warden_api/model"
	"github.com/gatewarden/warden_api/shared"

	appContext "github.com/alphabatem/common/context"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// BlockService is the persistent-block store: long-lived user cooldowns, the
// IP blacklist, and per-user overrides. Blocks and blacklist entries heal
// lazily - an expired record found on read is cleared as a side effect rather
// than by a background sweep.
type BlockService struct {
	appContext.DefaultService

	redisSvc *RedisService
	sqlSvc   *PostgresService

	blacklistCacheTTL time.Duration
}

const BLOCK_SVC = "block_svc"

const blacklistKeyPrefix = "warden:rl:blacklist:ip:"

func (svc BlockService) Id() string {
	return BLOCK_SVC
}

func (svc *BlockService) Configure(ctx *appContext.Context) error {
	svc.blacklistCacheTTL = envDurationSeconds("RATE_LIMIT_IP_BLACKLIST_TTL", 24*time.Hour)
	return svc.DefaultService.Configure(ctx)
}

func (svc *BlockService) Start() error {
	svc.redisSvc = svc.Service(REDIS_SVC).(*RedisService)
	svc.sqlSvc = svc.Service(POSTGRES_SVC).(*PostgresService)
	return nil
}

// ==================== PERSISTENT USER BLOCKS ====================

// IsUserBlocked reports whether a stored block is still active. A block whose
// limited_until has passed is cleared here and treated as absent.
func (svc *BlockService) IsUserBlocked(ctx context.Context, userID string) (bool, string) {
	var block model.UserPersistentBlock
	err := svc.sqlSvc.Db().WithContext(ctx).Where("user_id = ?", userID).First(&block).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.WithError(err).WithField("user_id", userID).Error("Persistent block lookup failed")
		}
		return false, ""
	}

	if !block.IsLimited {
		return false, ""
	}

	if block.LimitedUntil != nil && block.LimitedUntil.After(time.Now()) {
		reason := "Rate limited"
		if block.Reason != nil {
			reason = *block.Reason
		}
		return true, reason
	}

	// Stale flag: the block expired since it was written.
	if err := svc.sqlSvc.Db().WithContext(ctx).
		Model(&model.UserPersistentBlock{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{"is_limited": false, "updated_at": time.Now()}).Error; err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Failed to clear expired block")
	}

	return false, ""
}

func (svc *BlockService) SetUserBlocked(ctx context.Context, userID, reason string, duration time.Duration) error {
	now := time.Now()
	limitedUntil := now.Add(duration)

	var block model.UserPersistentBlock
	err := svc.sqlSvc.Db().WithContext(ctx).Where("user_id = ?", userID).First(&block).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		id, _ := uuid.NewV7()
		block = model.UserPersistentBlock{
			ID:           id.String(),
			UserID:       userID,
			IsLimited:    true,
			Reason:       &reason,
			LimitedUntil: &limitedUntil,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return svc.sqlSvc.Db().WithContext(ctx).Create(&block).Error
	}
	if err != nil {
		return err
	}

	return svc.sqlSvc.Db().WithContext(ctx).
		Model(&model.UserPersistentBlock{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"is_limited":    true,
			"reason":        reason,
			"limited_until": limitedUntil,
			"updated_at":    now,
		}).Error
}

func (svc *BlockService) ClearUserBlock(ctx context.Context, userID string) error {
	result := svc.sqlSvc.Db().WithContext(ctx).
		Model(&model.UserPersistentBlock{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"is_limited":    false,
			"reason":        nil,
			"limited_until": nil,
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.NewNotFoundError("No block found for user")
	}
	return nil
}

func (svc *BlockService) ListBlockedUsers(ctx context.Context) ([]model.UserPersistentBlock, error) {
	var blocks []model.UserPersistentBlock
	err := svc.sqlSvc.Db().WithContext(ctx).
		Where("is_limited = ? AND limited_until > ?", true, time.Now()).
		Order("limited_until DESC").
		Find(&blocks).Error
	return blocks, err
}

// ==================== IP BLACKLIST ====================

// IsIPBlacklisted checks the Redis cache first, then the database. Expired
// database entries are deleted on read.
func (svc *BlockService) IsIPBlacklisted(ctx context.Context, ip string) (bool, string) {
	cached, err := svc.redisSvc.Get(ctx, blacklistKeyPrefix+ip)
	if err != nil {
		log.WithError(err).WithField("ip", ip).Error("Blacklist cache lookup failed")
	} else if cached != "" {
		return true, cached
	}

	var entry model.IPBlacklistEntry
	err = svc.sqlSvc.Db().WithContext(ctx).Where("ip = ?", ip).First(&entry).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.WithError(err).WithField("ip", ip).Error("Blacklist lookup failed")
		}
		return false, ""
	}

	if entry.ExpiresAt != nil && !entry.ExpiresAt.After(time.Now()) {
		if err := svc.sqlSvc.Db().WithContext(ctx).Delete(&entry).Error; err != nil {
			log.WithError(err).WithField("ip", ip).Error("Failed to delete expired blacklist entry")
		}
		return false, ""
	}

	svc.cacheBlacklistHit(ctx, ip, entry.Reason, entry.ExpiresAt)
	return true, entry.Reason
}

func (svc *BlockService) cacheBlacklistHit(ctx context.Context, ip, reason string, expiresAt *time.Time) {
	ttl := svc.blacklistCacheTTL
	if expiresAt != nil {
		if remaining := time.Until(*expiresAt); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl <= 0 {
		return
	}
	if err := svc.redisSvc.Set(ctx, blacklistKeyPrefix+ip, reason, ttl); err != nil {
		log.WithError(err).WithField("ip", ip).Error("Failed to cache blacklist entry")
	}
}

func (svc *BlockService) BlacklistIP(ctx context.Context, ip, reason string, createdBy *string, expiresAt *time.Time) (*model.IPBlacklistEntry, error) {
	now := time.Now()

	var entry model.IPBlacklistEntry
	err := svc.sqlSvc.Db().WithContext(ctx).Where("ip = ?", ip).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		id, _ := uuid.NewV7()
		entry = model.IPBlacklistEntry{
			ID:        id.String(),
			IP:        ip,
			Reason:    reason,
			CreatedAt: now,
			CreatedBy: createdBy,
			ExpiresAt: expiresAt,
		}
		if err := svc.sqlSvc.Db().WithContext(ctx).Create(&entry).Error; err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else {
		entry.Reason = reason
		entry.CreatedBy = createdBy
		entry.ExpiresAt = expiresAt
		if err := svc.sqlSvc.Db().WithContext(ctx).Save(&entry).Error; err != nil {
			return nil, err
		}
	}

	svc.cacheBlacklistHit(ctx, ip, reason, expiresAt)
	return &entry, nil
}

func (svc *BlockService) RemoveBlacklistedIP(ctx context.Context, ip string) error {
	result := svc.sqlSvc.Db().WithContext(ctx).Where("ip = ?", ip).Delete(&model.IPBlacklistEntry{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.NewNotFoundError("IP not blacklisted")
	}

	if err := svc.redisSvc.Delete(ctx, blacklistKeyPrefix+ip); err != nil {
		log.WithError(err).WithField("ip", ip).Error("Failed to drop cached blacklist entry")
	}
	return nil
}

func (svc *BlockService) ListBlacklist(ctx context.Context) ([]model.IPBlacklistEntry, error) {
	var entries []model.IPBlacklistEntry
	err := svc.sqlSvc.Db().WithContext(ctx).Order("created_at DESC").Find(&entries).Error
	return entries, err
}

// ==================== OVERRIDES ====================

// GetOverride resolves the effective override for (userID, path): exact path
// first, wildcard second. An expired override is deleted on read and does not
// apply.
func (svc *BlockService) GetOverride(ctx context.Context, userID, path string) *model.RateLimitOverride {
	for _, candidate := range []string{path, "*"} {
		var override model.RateLimitOverride
		err := svc.sqlSvc.Db().WithContext(ctx).
			Where("user_id = ? AND path = ?", userID, candidate).
			First(&override).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				log.WithError(err).WithField("user_id", userID).Error("Override lookup failed")
				return nil
			}
			continue
		}

		if override.ExpiresAt != nil && !override.ExpiresAt.After(time.Now()) {
			if err := svc.sqlSvc.Db().WithContext(ctx).Delete(&override).Error; err != nil {
				log.WithError(err).WithField("user_id", userID).Error("Failed to delete expired override")
			}
			continue
		}

		return &override
	}

	return nil
}

// CreateOrUpdateOverride upserts the single override allowed per
// (user_id, path).
func (svc *BlockService) CreateOrUpdateOverride(ctx context.Context, req dto.CreateOverrideRequest, createdBy *string) (*model.RateLimitOverride, error) {
	now := time.Now()

	var override model.RateLimitOverride
	err := svc.sqlSvc.Db().WithContext(ctx).
		Where("user_id = ? AND path = ?", req.UserID, req.Path).
		First(&override).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		id, _ := uuid.NewV7()
		override = model.RateLimitOverride{
			ID:            id.String(),
			UserID:        req.UserID,
			Path:          req.Path,
			MaxRequests:   req.MaxRequests,
			WindowSeconds: req.WindowSeconds,
			CreatedAt:     now,
			ExpiresAt:     req.ExpiresAt,
			CreatedBy:     createdBy,
			Reason:        req.Reason,
		}
		if err := svc.sqlSvc.Db().WithContext(ctx).Create(&override).Error; err != nil {
			return nil, err
		}
		return &override, nil
	}
	if err != nil {
		return nil, err
	}

	override.MaxRequests = req.MaxRequests
	override.WindowSeconds = req.WindowSeconds
	override.ExpiresAt = req.ExpiresAt
	override.CreatedBy = createdBy
	override.Reason = req.Reason
	if err := svc.sqlSvc.Db().WithContext(ctx).Save(&override).Error; err != nil {
		return nil, err
	}
	return &override, nil
}

func (svc *BlockService) ListOverrides(ctx context.Context, userID string) ([]model.RateLimitOverride, error) {
	var overrides []model.RateLimitOverride
	query := svc.sqlSvc.Db().WithContext(ctx).Order("created_at DESC")
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	err := query.Find(&overrides).Error
	return overrides, err
}

func (svc *BlockService) DeleteOverride(ctx context.Context, overrideID string) error {
	if _, err := uuid.Parse(overrideID); err != nil {
		return shared.NewNotFoundError("Override not found")
	}

	result := svc.sqlSvc.Db().WithContext(ctx).
		Where("id = ?", overrideID).
		Delete(&model.RateLimitOverride{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.NewNotFoundError("Override not found")
	}
	return nil
}
