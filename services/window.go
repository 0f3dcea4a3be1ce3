package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gatewarden/warden_api/model"

	appContext "github.com/alphabatem/common/context"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// WindowService is the sliding-window counter store. The hot path works on
// per-minute rollup buckets in Redis (one INCR per admitted request, one MGET
// per count); the raw event rows go to Postgres asynchronously and only feed
// analytics queries, never admission decisions.
type WindowService struct {
	appContext.DefaultService

	redisSvc *RedisService
	sqlSvc   *PostgresService
}

const WINDOW_SVC = "window_svc"

const windowBucketPrefix = "warden:rl:bucket:"

// Buckets only need to outlive the longest configured window; anything past
// this is dead weight in Redis.
const windowBucketTTL = 2 * time.Hour

type EventMeta struct {
	ClientIP string
	UserID   string
	Endpoint string
}

func (svc WindowService) Id() string {
	return WINDOW_SVC
}

func (svc *WindowService) Configure(ctx *appContext.Context) error {
	return svc.DefaultService.Configure(ctx)
}

func (svc *WindowService) Start() error {
	svc.redisSvc = svc.Service(REDIS_SVC).(*RedisService)
	svc.sqlSvc = svc.Service(POSTGRES_SVC).(*PostgresService)
	return nil
}

// Count sums the rollup buckets covering [since, now] for the key.
func (svc *WindowService) Count(ctx context.Context, key string, since time.Time) (int64, error) {
	keys := bucketKeysForWindow(key, since, time.Now())
	if len(keys) == 0 {
		return 0, nil
	}

	values, err := svc.redisSvc.MGet(ctx, keys...)
	if err != nil {
		return 0, fmt.Errorf("window count for %s: %w", key, err)
	}

	var total int64
	for _, v := range values {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				total += n
			}
		}
	}

	return total, nil
}

// Record bumps the current-minute bucket and persists the raw event off the
// hot path. A bucket failure is an error (the caller fails open); a raw-row
// failure is only logged.
func (svc *WindowService) Record(ctx context.Context, key, scope string, windowSeconds int, meta EventMeta) error {
	now := time.Now()

	if _, err := svc.redisSvc.IncrementWithTTL(ctx, bucketKey(key, now), windowBucketTTL); err != nil {
		return fmt.Errorf("window record for %s: %w", key, err)
	}

	go svc.persistEvent(key, scope, windowSeconds, meta, now)

	return nil
}

func (svc *WindowService) persistEvent(key, scope string, windowSeconds int, meta EventMeta, now time.Time) {
	id, _ := uuid.NewV7()
	event := &model.RateWindowEvent{
		ID:          id.String(),
		Key:         key,
		Scope:       scope,
		Timestamp:   now,
		WindowStart: now,
		WindowEnd:   now.Add(time.Duration(windowSeconds) * time.Second),
		ClientIP:    meta.ClientIP,
		UserID:      meta.UserID,
		Endpoint:    meta.Endpoint,
	}

	if err := svc.sqlSvc.Db().Create(event).Error; err != nil {
		log.WithError(err).WithField("key", key).Error("Failed to persist window event")
	}
}

// RecordViolation appends a violation row for analytics. Called once per
// denial event; cached denies never reach this.
func (svc *WindowService) RecordViolation(ctx context.Context, v *model.RateLimitViolation) {
	if v.ID == "" {
		id, _ := uuid.NewV7()
		v.ID = id.String()
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now()
	}

	if err := svc.sqlSvc.Db().WithContext(ctx).Create(v).Error; err != nil {
		log.WithError(err).WithField("key", v.Key).Error("Failed to record rate limit violation")
	}
}

// DistinctUserIPs reports how many different client addresses produced
// admitted requests for the user inside the trailing window.
func (svc *WindowService) DistinctUserIPs(ctx context.Context, userID string, since time.Time) (int64, error) {
	var count int64
	err := svc.sqlSvc.Db().WithContext(ctx).
		Model(&model.RateWindowEvent{}).
		Where("user_id = ? AND timestamp > ? AND client_ip <> ''", userID, since).
		Distinct("client_ip").
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func bucketKey(key string, t time.Time) string {
	minute := t.Truncate(time.Minute).Unix()
	return windowBucketPrefix + key + ":" + strconv.FormatInt(minute, 10)
}

// bucketKeysForWindow returns the rollup keys whose minute overlaps
// [since, now], oldest first.
func bucketKeysForWindow(key string, since, now time.Time) []string {
	if now.Before(since) {
		return nil
	}

	start := since.Truncate(time.Minute)
	end := now.Truncate(time.Minute)

	keys := make([]string, 0, int(end.Sub(start)/time.Minute)+1)
	for t := start; !t.After(end); t = t.Add(time.Minute) {
		keys = append(keys, bucketKey(key, t))
	}
	return keys
}
