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

// LimitConfigService resolves which endpoint rate limit applies to a request
// path. Resolution order per path: cache, then the active config rows with
// the most specific matching pattern winning.
type LimitConfigService struct {
	appContext.DefaultService

	sqlSvc   *PostgresService
	cacheSvc *DecisionCacheService
}

const LIMIT_CONFIG_SVC = "limit_config_svc"

func (svc LimitConfigService) Id() string {
	return LIMIT_CONFIG_SVC
}

func (svc *LimitConfigService) Configure(ctx *appContext.Context) error {
	return svc.DefaultService.Configure(ctx)
}

func (svc *LimitConfigService) Start() error {
	svc.sqlSvc = svc.Service(POSTGRES_SVC).(*PostgresService)
	svc.cacheSvc = svc.Service(DECISION_CACHE_SVC).(*DecisionCacheService)

	go svc.warmCache()
	return nil
}

// warmCache primes the config cache for the stored patterns so the first
// requests after a restart skip the database.
func (svc *LimitConfigService) warmCache() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	configs, err := svc.activeConfigs(ctx)
	if err != nil {
		log.WithError(err).Warn("Config cache warm-up failed")
		return
	}

	for i := range configs {
		if !parsePattern(configs[i].Endpoint).isWildcard {
			svc.cacheSvc.SetConfig(ctx, configs[i].Endpoint, &configs[i])
		}
	}

	log.WithField("count", len(configs)).Info("Rate limit configs loaded")
}

// GetActiveConfig returns the config governing path, or nil when no active
// pattern matches. Database errors also return nil so the engine falls back
// to its defaults.
func (svc *LimitConfigService) GetActiveConfig(ctx context.Context, path string) *model.RateLimitConfig {
	if cfg, ok := svc.cacheSvc.GetConfig(ctx, path); ok {
		return cfg
	}

	configs, err := svc.activeConfigs(ctx)
	if err != nil {
		log.WithError(err).WithField("path", path).Error("Config lookup failed")
		return nil
	}

	cfg := mostSpecificConfig(configs, path)
	if cfg != nil {
		svc.cacheSvc.SetConfig(ctx, path, cfg)
	}
	return cfg
}

func (svc *LimitConfigService) activeConfigs(ctx context.Context) ([]model.RateLimitConfig, error) {
	var configs []model.RateLimitConfig
	err := svc.sqlSvc.Db().WithContext(ctx).
		Where("active = ?", true).
		Find(&configs).Error
	return configs, err
}

// ==================== ADMIN CRUD ====================

func (svc *LimitConfigService) CreateConfig(ctx context.Context, req dto.CreateConfigRequest) (*model.RateLimitConfig, error) {
	var existing model.RateLimitConfig
	err := svc.sqlSvc.Db().WithContext(ctx).Where("endpoint = ?", req.Endpoint).First(&existing).Error
	if err == nil {
		return nil, shared.NewConflictError(nil, "Config already exists for endpoint")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now()
	id, _ := uuid.NewV7()
	cfg := model.RateLimitConfig{
		ID:            id.String(),
		Endpoint:      req.Endpoint,
		MaxRequests:   req.MaxRequests,
		WindowSeconds: req.WindowSeconds,
		Active:        true,
		BypassRoles:   shared.JoinCSV(req.BypassRoles),
		Description:   req.Description,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.Active != nil {
		cfg.Active = *req.Active
	}

	if err := svc.sqlSvc.Db().WithContext(ctx).Create(&cfg).Error; err != nil {
		return nil, err
	}

	svc.cacheSvc.InvalidateConfigs(ctx)
	return &cfg, nil
}

func (svc *LimitConfigService) UpdateConfig(ctx context.Context, configID string, req dto.UpdateConfigRequest) (*model.RateLimitConfig, error) {
	cfg, err := svc.getConfig(ctx, configID)
	if err != nil {
		return nil, err
	}

	if req.MaxRequests != nil {
		cfg.MaxRequests = *req.MaxRequests
	}
	if req.WindowSeconds != nil {
		cfg.WindowSeconds = *req.WindowSeconds
	}
	if req.Active != nil {
		cfg.Active = *req.Active
	}
	if req.BypassRoles != nil {
		cfg.BypassRoles = shared.JoinCSV(req.BypassRoles)
	}
	if req.Description != nil {
		cfg.Description = *req.Description
	}
	cfg.UpdatedAt = time.Now()

	if err := svc.sqlSvc.Db().WithContext(ctx).Save(cfg).Error; err != nil {
		return nil, err
	}

	svc.cacheSvc.InvalidateConfigs(ctx)
	return cfg, nil
}

func (svc *LimitConfigService) DeleteConfig(ctx context.Context, configID string) error {
	cfg, err := svc.getConfig(ctx, configID)
	if err != nil {
		return err
	}

	if err := svc.sqlSvc.Db().WithContext(ctx).Delete(cfg).Error; err != nil {
		return err
	}

	svc.cacheSvc.InvalidateConfigs(ctx)
	return nil
}

func (svc *LimitConfigService) ListConfigs(ctx context.Context) ([]model.RateLimitConfig, error) {
	var configs []model.RateLimitConfig
	err := svc.sqlSvc.Db().WithContext(ctx).Order("endpoint ASC").Find(&configs).Error
	return configs, err
}

func (svc *LimitConfigService) getConfig(ctx context.Context, configID string) (*model.RateLimitConfig, error) {
	if _, err := uuid.Parse(configID); err != nil {
		return nil, shared.NewNotFoundError("Config not found")
	}

	var cfg model.RateLimitConfig
	err := svc.sqlSvc.Db().WithContext(ctx).Where("id = ?", configID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.NewNotFoundError("Config not found")
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
