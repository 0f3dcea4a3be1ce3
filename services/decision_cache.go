package services

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gatewarden/warden_api/model"
	"github.com/gatewarden/warden_api/shared"

	appContext "github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"
)

// DecisionCacheService memoizes admission verdicts in Redis so repeat checks
// within the cache window never hit the counter store. Allows live for a short
// TTL; denies live for the remainder of the offending window. Every failure
// here degrades to a miss, never to a block.
type DecisionCacheService struct {
	appContext.DefaultService

	redisSvc *RedisService

	decisionTTL time.Duration
	configTTL   time.Duration
}

const DECISION_CACHE_SVC = "decision_cache_svc"

const (
	decisionKeyPrefix = "warden:rl:check:"
	configKeyPrefix   = "warden:rl:config:"

	prefixAllowed    = "A"
	prefixDisallowed = "D"
)

type CacheResult int

const (
	CacheMiss CacheResult = iota
	CacheAllow
	CacheDeny
)

func (svc DecisionCacheService) Id() string {
	return DECISION_CACHE_SVC
}

func (svc *DecisionCacheService) Configure(ctx *appContext.Context) error {
	svc.decisionTTL = envDurationSeconds("RATE_LIMIT_DECISION_TTL", 20*time.Second)
	svc.configTTL = envDurationSeconds("RATE_LIMIT_CONFIG_TTL", 5*time.Minute)
	return svc.DefaultService.Configure(ctx)
}

func (svc *DecisionCacheService) Start() error {
	svc.redisSvc = svc.Service(REDIS_SVC).(*RedisService)
	return nil
}

// Lookup returns the memoized verdict for a key, or CacheMiss when nothing
// usable is cached.
func (svc *DecisionCacheService) Lookup(ctx context.Context, key string) CacheResult {
	value, err := svc.redisSvc.Get(ctx, decisionKeyPrefix+key)
	if err != nil {
		log.WithError(err).WithField("key", key).Error("Decision cache lookup failed")
		recordCacheLookup("error")
		return CacheMiss
	}
	if value == "" {
		recordCacheLookup("miss")
		return CacheMiss
	}

	if value == prefixAllowed {
		recordCacheLookup("allow")
		return CacheAllow
	}

	if strings.HasPrefix(value, prefixDisallowed+":") {
		until, err := strconv.ParseFloat(value[len(prefixDisallowed)+1:], 64)
		if err == nil && until > float64(time.Now().Unix()) {
			recordCacheLookup("deny")
			return CacheDeny
		}
	}

	recordCacheLookup("miss")
	return CacheMiss
}

func (svc *DecisionCacheService) CacheAllow(ctx context.Context, key string) {
	if err := svc.redisSvc.Set(ctx, decisionKeyPrefix+key, prefixAllowed, svc.decisionTTL); err != nil {
		log.WithError(err).WithField("key", key).Error("Failed to cache allow decision")
	}
}

// CacheDeny pins the deny for the remaining window duration so an already
// rate-limited client does not re-trigger counter queries until its window
// resets.
func (svc *DecisionCacheService) CacheDeny(ctx context.Context, key string, windowSeconds int) {
	until := time.Now().Unix() + int64(windowSeconds)
	value := prefixDisallowed + ":" + strconv.FormatInt(until, 10)
	ttl := time.Duration(windowSeconds) * time.Second

	if err := svc.redisSvc.Set(ctx, decisionKeyPrefix+key, value, ttl); err != nil {
		log.WithError(err).WithField("key", key).Error("Failed to cache deny decision")
	}
}

func (svc *DecisionCacheService) Invalidate(ctx context.Context, key string) {
	if err := svc.redisSvc.Delete(ctx, decisionKeyPrefix+key); err != nil {
		log.WithError(err).WithField("key", key).Error("Failed to invalidate cached decision")
	}
}

// GetConfig returns the cached endpoint config, if any.
func (svc *DecisionCacheService) GetConfig(ctx context.Context, endpoint string) (*model.RateLimitConfig, bool) {
	value, err := svc.redisSvc.Get(ctx, configKeyPrefix+endpoint)
	if err != nil || value == "" {
		if err != nil {
			log.WithError(err).WithField("endpoint", endpoint).Error("Config cache lookup failed")
		}
		return nil, false
	}

	var cfg model.RateLimitConfig
	if err := shared.UnmarshalJSON([]byte(value), &cfg); err != nil {
		log.WithError(err).WithField("endpoint", endpoint).Warn("Invalid JSON in config cache")
		return nil, false
	}

	return &cfg, true
}

func (svc *DecisionCacheService) SetConfig(ctx context.Context, endpoint string, cfg *model.RateLimitConfig) {
	data, err := shared.MarshalJSON(cfg)
	if err != nil {
		log.WithError(err).WithField("endpoint", endpoint).Error("Failed to serialize config for cache")
		return
	}

	if err := svc.redisSvc.Set(ctx, configKeyPrefix+endpoint, data, svc.configTTL); err != nil {
		log.WithError(err).WithField("endpoint", endpoint).Error("Failed to cache config")
	}
}

// InvalidateConfigs drops all cached endpoint configs after an admin change.
func (svc *DecisionCacheService) InvalidateConfigs(ctx context.Context) {
	keys, err := svc.redisSvc.Keys(ctx, configKeyPrefix+"*")
	if err != nil {
		log.WithError(err).Error("Failed to list cached configs")
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := svc.redisSvc.Delete(ctx, keys...); err != nil {
		log.WithError(err).Error("Failed to invalidate cached configs")
	}
}

func envDurationSeconds(name string, fallback time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}
