package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/gatewarden/warden_api/dto"
	"github.com/gatewarden/warden_api/model"
	"github.com/gatewarden/warden_api/shared"

	appContext "github.com/alphabatem/common/context"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SecurityService watches admitted traffic for anomalies: new client
// fingerprints, IP churn, and sensitive-endpoint access. Evaluation runs off
// the request path; a slow or failing database never delays a response.
type SecurityService struct {
	appContext.DefaultService

	sqlSvc    *PostgresService
	windowSvc *WindowService

	maxUniqueIPsPerDay int

	// Shards serialize the select-then-write fingerprint upsert per identity.
	fingerprintLocks [64]sync.Mutex
}

const SECURITY_SVC = "security_svc"

// RequestInfo is the slice of a completed request the detector looks at.
type RequestInfo struct {
	ClientIP   string
	UserID     string
	UserAgent  string
	Path       string
	Method     string
	StatusCode int
}

const (
	activityNewDevice    = "new_device"
	activityIPChurn      = "ip_churn"
	activityFailedAccess = "failed_access"
)

var sensitivePatterns = []string{
	"/api/v1/login*",
	"/api/v1/users*",
	"/api/v1/admin*",
}

var highSeverityKeywords = []string{"password", "auth", "login", "token", "multiple", "admin"}
var lowSeverityKeywords = []string{"new device", "different location", "unusual time"}

func (svc *SecurityService) Id() string {
	return SECURITY_SVC
}

func (svc *SecurityService) Configure(ctx *appContext.Context) error {
	svc.maxUniqueIPsPerDay = envInt("SECURITY_MAX_UNIQUE_IPS_PER_DAY", 5)
	return svc.DefaultService.Configure(ctx)
}

func (svc *SecurityService) Start() error {
	svc.sqlSvc = svc.Service(POSTGRES_SVC).(*PostgresService)
	svc.windowSvc = svc.Service(WINDOW_SVC).(*WindowService)
	return nil
}

// EvaluateAsync queues anomaly detection for a finished request.
func (svc *SecurityService) EvaluateAsync(info RequestInfo) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc.Evaluate(ctx, info)
	}()
}

// Evaluate runs the three detection triggers. Fingerprint and IP-churn
// checks need a real user id; the failed-access check also covers anonymous
// traffic under a synthetic "<ip>#<user agent>" identity.
func (svc *SecurityService) Evaluate(ctx context.Context, info RequestInfo) {
	if info.UserID != "" {
		isNew, err := svc.touchFingerprint(ctx, info)
		if err != nil {
			log.WithError(err).WithField("user_id", info.UserID).Error("Fingerprint upsert failed")
		} else if isNew {
			svc.checkIPChurn(ctx, info)
		}
	}

	pattern, sensitive := matchesAnyPattern(sensitivePatterns, info.Path)
	if sensitive {
		if info.UserID != "" {
			svc.flag(ctx, info, info.UserID, activityNewDevice,
				"New device accessed sensitive endpoint: "+pattern)
		}

		if info.StatusCode >= 400 {
			identity := info.UserID
			if identity == "" {
				identity = info.ClientIP + "#" + info.UserAgent
			}
			svc.flag(ctx, info, identity, activityFailedAccess,
				"Failed access attempt to sensitive endpoint")
		}
	}
}

func (svc *SecurityService) checkIPChurn(ctx context.Context, info RequestInfo) {
	since := time.Now().Add(-24 * time.Hour)
	distinct, err := svc.windowSvc.DistinctUserIPs(ctx, info.UserID, since)
	if err != nil {
		log.WithError(err).WithField("user_id", info.UserID).Error("Distinct IP count failed")
		return
	}

	if distinct > int64(svc.maxUniqueIPsPerDay) {
		svc.flag(ctx, info, info.UserID, activityIPChurn,
			"Too many different IPs used in a short time")
	}
}

// touchFingerprint records the (user, ip, user agent) triple, bumping the
// request counter when it already exists. Returns whether the triple is new.
// The shard lock plus the unique index keep concurrent first-sights down to a
// single row.
func (svc *SecurityService) touchFingerprint(ctx context.Context, info RequestInfo) (bool, error) {
	lock := &svc.fingerprintLocks[fingerprintShard(info.UserID, info.ClientIP, info.UserAgent)]
	lock.Lock()
	defer lock.Unlock()

	db := svc.sqlSvc.Db().WithContext(ctx)
	now := time.Now()

	var fp model.ClientFingerprint
	err := db.Where("user_id = ? AND ip = ? AND user_agent = ?",
		info.UserID, info.ClientIP, info.UserAgent).First(&fp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		id, _ := uuid.NewV7()
		fp = model.ClientFingerprint{
			ID:           id.String(),
			UserID:       info.UserID,
			IP:           info.ClientIP,
			UserAgent:    info.UserAgent,
			FirstSeen:    now,
			LastSeen:     now,
			RequestCount: 1,
		}
		if err := db.Create(&fp).Error; err != nil {
			// Lost the race to another instance; count the request instead.
			return false, svc.bumpFingerprint(ctx, info, now)
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	return false, svc.bumpFingerprint(ctx, info, now)
}

func (svc *SecurityService) bumpFingerprint(ctx context.Context, info RequestInfo, now time.Time) error {
	return svc.sqlSvc.Db().WithContext(ctx).
		Model(&model.ClientFingerprint{}).
		Where("user_id = ? AND ip = ? AND user_agent = ?",
			info.UserID, info.ClientIP, info.UserAgent).
		Updates(map[string]interface{}{
			"request_count": gorm.Expr("request_count + 1"),
			"last_seen":     now,
		}).Error
}

func fingerprintShard(userID, ip, userAgent string) uint32 {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%s|%s", userID, ip, userAgent)
	return h.Sum32() % 64
}

// flag writes the activity log row and bumps the owning profile.
func (svc *SecurityService) flag(ctx context.Context, info RequestInfo, identity, activityType, details string) {
	severity := classifySeverity(details)
	recordSuspiciousMetric(activityType, severity)

	id, _ := uuid.NewV7()
	entry := &model.SuspiciousActivityLog{
		ID:           id.String(),
		Timestamp:    time.Now(),
		UserID:       identity,
		ClientIP:     info.ClientIP,
		UserAgent:    info.UserAgent,
		Path:         info.Path,
		Method:       info.Method,
		StatusCode:   info.StatusCode,
		ActivityType: activityType,
		Severity:     severity,
		Details:      &details,
	}

	if err := svc.sqlSvc.Db().WithContext(ctx).Create(entry).Error; err != nil {
		log.WithError(err).WithField("user_id", identity).Error("Failed to record suspicious activity")
		return
	}

	if err := svc.bumpProfile(ctx, identity); err != nil {
		log.WithError(err).WithField("user_id", identity).Error("Failed to update security profile")
	}
}

func (svc *SecurityService) bumpProfile(ctx context.Context, userID string) error {
	db := svc.sqlSvc.Db().WithContext(ctx)
	now := time.Now()

	var profile model.UserSecurityProfile
	err := db.Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		id, _ := uuid.NewV7()
		profile = model.UserSecurityProfile{
			ID:                       id.String(),
			UserID:                   userID,
			SuspiciousActivityCount:  1,
			LastSuspiciousActivityAt: &now,
			CreatedAt:                now,
			UpdatedAt:                now,
		}
		return db.Create(&profile).Error
	}
	if err != nil {
		return err
	}

	return db.Model(&model.UserSecurityProfile{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"suspicious_activity_count":   gorm.Expr("suspicious_activity_count + 1"),
			"last_suspicious_activity_at": now,
			"updated_at":                  now,
		}).Error
}

// classifySeverity maps a detail message to a severity bucket by keyword.
// High-risk terms win over the low-risk phrases.
func classifySeverity(details string) string {
	lower := strings.ToLower(details)

	for _, kw := range highSeverityKeywords {
		if strings.Contains(lower, kw) {
			return shared.SeverityHigh
		}
	}
	for _, kw := range lowSeverityKeywords {
		if strings.Contains(lower, kw) {
			return shared.SeverityLow
		}
	}
	return shared.SeverityMedium
}

// ==================== QUERIES / ADMIN ====================

func (svc *SecurityService) ListSuspicious(ctx context.Context, filter dto.SuspiciousActivityFilter) ([]model.SuspiciousActivityLog, error) {
	query := svc.sqlSvc.Db().WithContext(ctx).Order("timestamp DESC")
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if filter.Resolved != nil {
		query = query.Where("is_resolved = ?", *filter.Resolved)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var entries []model.SuspiciousActivityLog
	err := query.Limit(limit).Find(&entries).Error
	return entries, err
}

func (svc *SecurityService) ResolveActivity(ctx context.Context, activityID, resolutionID string) error {
	if _, err := uuid.Parse(activityID); err != nil {
		return shared.NewNotFoundError("Activity not found")
	}

	result := svc.sqlSvc.Db().WithContext(ctx).
		Model(&model.SuspiciousActivityLog{}).
		Where("id = ?", activityID).
		Updates(map[string]interface{}{
			"is_resolved":   true,
			"resolution_id": resolutionID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.NewNotFoundError("Activity not found")
	}
	return nil
}

func (svc *SecurityService) GetProfile(ctx context.Context, userID string) (*model.UserSecurityProfile, []model.ClientFingerprint, error) {
	var profile model.UserSecurityProfile
	err := svc.sqlSvc.Db().WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, shared.NewNotFoundError("No security profile for user")
	}
	if err != nil {
		return nil, nil, err
	}

	var fingerprints []model.ClientFingerprint
	err = svc.sqlSvc.Db().WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_seen DESC").
		Find(&fingerprints).Error
	if err != nil {
		return nil, nil, err
	}

	return &profile, fingerprints, nil
}

func (svc *SecurityService) ResetProfile(ctx context.Context, userID string) error {
	result := svc.sqlSvc.Db().WithContext(ctx).
		Model(&model.UserSecurityProfile{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"suspicious_activity_count": 0,
			"is_restricted":             false,
			"updated_at":                time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.NewNotFoundError("No security profile for user")
	}
	return nil
}
