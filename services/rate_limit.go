package services

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gatewarden/warden_api/dto"
	"github.com/gatewarden/warden_api/model"
	"github.com/gatewarden/warden_api/shared"

	appContext "github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

// Narrow store views used by the engine. The concrete services satisfy these;
// tests substitute in-memory fakes.
type windowCounter interface {
	Count(ctx context.Context, key string, since time.Time) (int64, error)
	Record(ctx context.Context, key, scope string, windowSeconds int, meta EventMeta) error
	RecordViolation(ctx context.Context, v *model.RateLimitViolation)
}

type decisionMemo interface {
	Lookup(ctx context.Context, key string) CacheResult
	CacheAllow(ctx context.Context, key string)
	CacheDeny(ctx context.Context, key string, windowSeconds int)
}

type blockStore interface {
	IsIPBlacklisted(ctx context.Context, ip string) (bool, string)
	IsUserBlocked(ctx context.Context, userID string) (bool, string)
	SetUserBlocked(ctx context.Context, userID, reason string, duration time.Duration) error
	GetOverride(ctx context.Context, userID, path string) *model.RateLimitOverride
}

type configLookup interface {
	GetActiveConfig(ctx context.Context, path string) *model.RateLimitConfig
}

// RateLimitService runs the tiered admission state machine:
// blacklist, persistent block, IP window, user window, endpoint window.
// The first tier that denies wins. Infrastructure failures never deny;
// a request is only rejected on a positive verdict from a healthy store.
type RateLimitService struct {
	appContext.DefaultService

	windows   windowCounter
	decisions decisionMemo
	blocks    blockStore
	configs   configLookup

	jwtSvc      *JWTService
	securitySvc *SecurityService

	ipMaxRequests   int
	ipWindowSeconds int

	userMaxRequests   int
	userWindowSeconds int
}

const RATE_LIMIT_SVC = "rate_limit_svc"

const (
	ipBlockDuration   = 15 * time.Minute
	userBlockDuration = 10 * time.Minute

	defaultRetryAfter    = 60
	blacklistRetryAfter  = 86400
	persistentRetryAfter = 600
)

var excludedPaths = map[string]struct{}{
	"/ping":    {},
	"/health":  {},
	"/metrics": {},
}

func (svc RateLimitService) Id() string {
	return RATE_LIMIT_SVC
}

func (svc *RateLimitService) Configure(ctx *appContext.Context) error {
	svc.ipMaxRequests = envInt("RATE_LIMIT_IP_MAX_REQUESTS", 100)
	svc.ipWindowSeconds = envInt("RATE_LIMIT_IP_WINDOW_SECONDS", 60)
	svc.userMaxRequests = envInt("RATE_LIMIT_USER_MAX_REQUESTS", 50)
	svc.userWindowSeconds = envInt("RATE_LIMIT_USER_WINDOW_SECONDS", 60)
	return svc.DefaultService.Configure(ctx)
}

func (svc *RateLimitService) Start() error {
	svc.windows = svc.Service(WINDOW_SVC).(*WindowService)
	svc.decisions = svc.Service(DECISION_CACHE_SVC).(*DecisionCacheService)
	svc.blocks = svc.Service(BLOCK_SVC).(*BlockService)
	svc.configs = svc.Service(LIMIT_CONFIG_SVC).(*LimitConfigService)
	svc.jwtSvc = svc.Service(JWT_SVC).(*JWTService)
	svc.securitySvc = svc.Service(SECURITY_SVC).(*SecurityService)
	return nil
}

// CheckAdmission runs the tier chain for one request. userID is empty for
// anonymous traffic, which skips the user tier and keys the endpoint tier by
// address instead.
func (svc *RateLimitService) CheckAdmission(ctx context.Context, ip, userID, role, path string) dto.Decision {
	if blocked, reason := svc.blocks.IsIPBlacklisted(ctx, ip); blocked {
		return svc.deny(shared.ScopeBlacklist, reason)
	}

	identity := userID
	if identity == "" {
		identity = "ip:" + ip
	}

	if blocked, reason := svc.blocks.IsUserBlocked(ctx, "ip:"+ip); blocked {
		return svc.deny(shared.ScopePersistent, reason)
	}
	if userID != "" {
		if blocked, reason := svc.blocks.IsUserBlocked(ctx, userID); blocked {
			return svc.deny(shared.ScopePersistent, reason)
		}
	}

	meta := EventMeta{ClientIP: ip, UserID: userID, Endpoint: path}

	if !svc.checkAndUpdate(ctx, "ip:"+ip, shared.ScopeIP, svc.ipMaxRequests, svc.ipWindowSeconds, meta) {
		svc.blockAsync("ip:"+ip, "IP-based rate limit exceeded", ipBlockDuration)
		return svc.deny(shared.ScopeIP, "Too many requests from this IP")
	}

	if userID != "" {
		// User budgets are per path, so a burst on one endpoint does not starve
		// the user's access to the rest of the API.
		if !svc.checkAndUpdate(ctx, "user:"+userID+":"+path, shared.ScopeUser, svc.userMaxRequests, svc.userWindowSeconds, meta) {
			svc.blockAsync(userID, "User rate limit exceeded for "+path, userBlockDuration)
			return svc.deny(shared.ScopeUser, "Too many requests for this user")
		}
	}

	if cfg := svc.configs.GetActiveConfig(ctx, path); cfg != nil {
		if role != "" && containsRole(shared.SplitCSV(cfg.BypassRoles), role) {
			recordDecision(shared.ScopeEndpoint, true)
			return dto.Decision{Admitted: true}
		}

		maxRequests, windowSeconds := cfg.MaxRequests, cfg.WindowSeconds
		if override := svc.blocks.GetOverride(ctx, identity, path); override != nil {
			maxRequests, windowSeconds = override.MaxRequests, override.WindowSeconds
		}

		// An endpoint denial never escalates into a persistent block; the
		// cached deny already pins the client for the window remainder.
		key := "endpoint:" + identity + ":" + cfg.Endpoint
		if !svc.checkAndUpdate(ctx, key, shared.ScopeEndpoint, maxRequests, windowSeconds, meta) {
			return svc.deny(shared.ScopeEndpoint, "Too many requests for this endpoint")
		}
	}

	recordDecision("allow", true)
	return dto.Decision{Admitted: true}
}

func (svc *RateLimitService) deny(scope, reason string) dto.Decision {
	recordDecision(scope, false)
	return dto.Decision{Admitted: false, Reason: reason, Scope: scope}
}

// checkAndUpdate applies one window tier: consult the decision cache, fall
// back to counting, record the request when admitted. A cached deny does not
// produce a second violation row. Any store failure admits.
func (svc *RateLimitService) checkAndUpdate(ctx context.Context, key, scope string, maxRequests, windowSeconds int, meta EventMeta) bool {
	switch svc.decisions.Lookup(ctx, key) {
	case CacheDeny:
		return false
	case CacheAllow:
		if err := svc.windows.Record(ctx, key, scope, windowSeconds, meta); err != nil {
			log.WithError(err).WithField("key", key).Error("Window record failed, admitting")
		}
		return true
	}

	since := time.Now().Add(-time.Duration(windowSeconds) * time.Second)
	count, err := svc.windows.Count(ctx, key, since)
	if err != nil {
		log.WithError(err).WithField("key", key).Error("Window count failed, admitting")
		return true
	}

	if count >= int64(maxRequests) {
		svc.recordViolation(ctx, key, scope, maxRequests, int(count)+1, meta)
		svc.decisions.CacheDeny(ctx, key, windowSeconds)
		return false
	}

	if err := svc.windows.Record(ctx, key, scope, windowSeconds, meta); err != nil {
		log.WithError(err).WithField("key", key).Error("Window record failed, admitting")
		return true
	}
	svc.decisions.CacheAllow(ctx, key)
	return true
}

func (svc *RateLimitService) recordViolation(ctx context.Context, key, scope string, limit, attempts int, meta EventMeta) {
	v := &model.RateLimitViolation{
		Key:      key,
		Scope:    scope,
		Limit:    limit,
		Attempts: attempts,
	}
	if meta.UserID != "" {
		v.UserID = &meta.UserID
	}
	if meta.ClientIP != "" {
		v.ClientIP = &meta.ClientIP
	}
	if meta.Endpoint != "" {
		v.Endpoint = &meta.Endpoint
	}

	recordViolationMetric(scope)
	svc.windows.RecordViolation(ctx, v)
}

// blockAsync writes the persistent block off the request path. A failed write
// just means the next burst is caught by the window tier again.
func (svc *RateLimitService) blockAsync(identity, reason string, duration time.Duration) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svc.blocks.SetUserBlocked(ctx, identity, reason, duration); err != nil {
			log.WithError(err).WithField("identity", identity).Error("Failed to set persistent block")
		}
	}()
}

// GetUserLimitStatus reports the quota governing (userID, path): an override
// beats the endpoint config, which beats the user default.
func (svc *RateLimitService) GetUserLimitStatus(ctx context.Context, userID, path string) dto.RateLimitStatus {
	maxRequests := svc.userMaxRequests
	windowSeconds := svc.userWindowSeconds
	key := "user:" + userID + ":" + path

	if cfg := svc.configs.GetActiveConfig(ctx, path); cfg != nil {
		maxRequests, windowSeconds = cfg.MaxRequests, cfg.WindowSeconds
		key = "endpoint:" + userID + ":" + cfg.Endpoint
	}
	if override := svc.blocks.GetOverride(ctx, userID, path); override != nil {
		maxRequests, windowSeconds = override.MaxRequests, override.WindowSeconds
	}

	now := time.Now()
	since := now.Add(-time.Duration(windowSeconds) * time.Second)
	count, err := svc.windows.Count(ctx, key, since)
	if err != nil {
		log.WithError(err).WithField("key", key).Error("Window count failed for status")
		count = 0
	}

	remaining := maxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return dto.RateLimitStatus{
		TotalAllowed:  maxRequests,
		Remaining:     remaining,
		ResetAt:       now.Add(time.Duration(windowSeconds) * time.Second),
		WindowSeconds: windowSeconds,
	}
}

// ==================== MIDDLEWARE ====================

// Middleware guards every API route. Requests with an invalid or missing
// bearer token proceed as anonymous; health probes bypass the limiter.
func (svc *RateLimitService) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		if _, skip := excludedPaths[path]; skip {
			return c.Next()
		}

		ip := getClientIP(c)
		userID, role := svc.identify(c)

		c.Locals(shared.ClientIP, ip)
		c.Locals(shared.UserID, userID)
		c.Locals(shared.UserRole, role)

		decision := svc.CheckAdmission(c.Context(), ip, userID, role, path)
		if !decision.Admitted {
			return denyResponse(c, decision)
		}

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if appErr, ok := shared.GetAppError(err); ok {
				status = appErr.StatusCode
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		svc.securitySvc.EvaluateAsync(RequestInfo{
			ClientIP:   ip,
			UserID:     userID,
			UserAgent:  c.Get(fiber.HeaderUserAgent),
			Path:       path,
			Method:     c.Method(),
			StatusCode: status,
		})

		return err
	}
}

func (svc *RateLimitService) identify(c *fiber.Ctx) (string, string) {
	token, err := svc.jwtSvc.ExtractTokenFromHeader(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return "", ""
	}

	userID, role, err := svc.jwtSvc.VerifyJWTToken(token)
	if err != nil {
		return "", ""
	}
	return userID, role
}

func denyResponse(c *fiber.Ctx, decision dto.Decision) error {
	retryAfter := defaultRetryAfter
	status := fiber.StatusTooManyRequests

	switch decision.Scope {
	case shared.ScopeBlacklist:
		retryAfter = blacklistRetryAfter
		status = fiber.StatusForbidden
	case shared.ScopePersistent:
		retryAfter = persistentRetryAfter
	}

	c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
	c.Set("X-Rate-Limit-Type", decision.Scope)
	return c.Status(status).JSON(fiber.Map{"detail": decision.Reason})
}

// getClientIP trusts forwarding headers in proxy order before falling back to
// the socket address.
func getClientIP(c *fiber.Ctx) string {
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if ip := c.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ip := c.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	return c.IP()
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

func envInt(name string, fallback int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
