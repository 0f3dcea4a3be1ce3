package services

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewarden/warden_api/dto"
	"github.com/gatewarden/warden_api/model"
	"github.com/gatewarden/warden_api/shared"
)

type fakeWindow struct {
	mu         sync.Mutex
	counts     map[string]int64
	countErr   error
	recorded   []string
	violations []*model.RateLimitViolation
}

func newFakeWindow() *fakeWindow {
	return &fakeWindow{counts: map[string]int64{}}
}

func (f *fakeWindow) Count(_ context.Context, key string, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.counts[key], nil
}

func (f *fakeWindow) Record(_ context.Context, key, _ string, _ int, _ EventMeta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]++
	f.recorded = append(f.recorded, key)
	return nil
}

func (f *fakeWindow) RecordViolation(_ context.Context, v *model.RateLimitViolation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.violations = append(f.violations, v)
}

type fakeMemo struct {
	mu      sync.Mutex
	entries map[string]CacheResult
}

func newFakeMemo() *fakeMemo {
	return &fakeMemo{entries: map[string]CacheResult{}}
}

func (f *fakeMemo) Lookup(_ context.Context, key string) CacheResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[key]
}

func (f *fakeMemo) CacheAllow(_ context.Context, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = CacheAllow
}

func (f *fakeMemo) CacheDeny(_ context.Context, key string, _ int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = CacheDeny
}

type fakeBlocks struct {
	mu        sync.Mutex
	blacklist map[string]string
	blocked   map[string]string
	overrides map[string]*model.RateLimitOverride
}

func newFakeBlocks() *fakeBlocks {
	return &fakeBlocks{
		blacklist: map[string]string{},
		blocked:   map[string]string{},
		overrides: map[string]*model.RateLimitOverride{},
	}
}

func (f *fakeBlocks) IsIPBlacklisted(_ context.Context, ip string) (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reason, ok := f.blacklist[ip]
	return ok, reason
}

func (f *fakeBlocks) IsUserBlocked(_ context.Context, userID string) (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reason, ok := f.blocked[userID]
	return ok, reason
}

func (f *fakeBlocks) SetUserBlocked(_ context.Context, userID, reason string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked[userID] = reason
	return nil
}

func (f *fakeBlocks) GetOverride(_ context.Context, userID, path string) *model.RateLimitOverride {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overrides[userID+"|"+path]
}

func (f *fakeBlocks) blockedReason(userID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reason, ok := f.blocked[userID]
	return reason, ok
}

type fakeConfigs struct {
	configs map[string]*model.RateLimitConfig
}

func (f *fakeConfigs) GetActiveConfig(_ context.Context, path string) *model.RateLimitConfig {
	if f.configs == nil {
		return nil
	}
	return f.configs[path]
}

func newTestEngine() (*RateLimitService, *fakeWindow, *fakeMemo, *fakeBlocks, *fakeConfigs) {
	fw := newFakeWindow()
	fm := newFakeMemo()
	fb := newFakeBlocks()
	fc := &fakeConfigs{}

	svc := &RateLimitService{
		windows:           fw,
		decisions:         fm,
		blocks:            fb,
		configs:           fc,
		ipMaxRequests:     100,
		ipWindowSeconds:   60,
		userMaxRequests:   50,
		userWindowSeconds: 60,
	}
	return svc, fw, fm, fb, fc
}

func TestCheckAdmissionBlacklistDeniesFirst(t *testing.T) {
	svc, fw, _, fb, _ := newTestEngine()
	fb.blacklist["1.2.3.4"] = "manual block"

	d := svc.CheckAdmission(context.Background(), "1.2.3.4", "u1", "", "/api/v1/content")

	assert.False(t, d.Admitted)
	assert.Equal(t, shared.ScopeBlacklist, d.Scope)
	assert.Equal(t, "manual block", d.Reason)
	assert.Empty(t, fw.recorded)
}

func TestCheckAdmissionPersistentBlockDenies(t *testing.T) {
	svc, fw, _, fb, _ := newTestEngine()
	fb.blocked["u1"] = "User rate limit exceeded for /api/v1/content"

	d := svc.CheckAdmission(context.Background(), "1.2.3.4", "u1", "", "/api/v1/content")

	assert.False(t, d.Admitted)
	assert.Equal(t, shared.ScopePersistent, d.Scope)
	assert.Empty(t, fw.recorded)
}

func TestCheckAdmissionAllowsUnderLimit(t *testing.T) {
	svc, fw, fm, _, _ := newTestEngine()

	d := svc.CheckAdmission(context.Background(), "1.2.3.4", "u1", "", "/api/v1/content")

	assert.True(t, d.Admitted)
	assert.Equal(t, []string{"ip:1.2.3.4", "user:u1:/api/v1/content"}, fw.recorded)
	assert.Equal(t, CacheAllow, fm.entries["ip:1.2.3.4"])
	assert.Equal(t, CacheAllow, fm.entries["user:u1:/api/v1/content"])
	assert.Empty(t, fw.violations)
}

func TestCheckAdmissionIPLimitDenies(t *testing.T) {
	svc, fw, fm, fb, _ := newTestEngine()
	fw.counts["ip:1.2.3.4"] = 100

	d := svc.CheckAdmission(context.Background(), "1.2.3.4", "u1", "", "/api/v1/content")

	assert.False(t, d.Admitted)
	assert.Equal(t, shared.ScopeIP, d.Scope)

	require.Len(t, fw.violations, 1)
	assert.Equal(t, 100, fw.violations[0].Limit)
	assert.Equal(t, 101, fw.violations[0].Attempts)
	assert.Equal(t, shared.ScopeIP, fw.violations[0].Scope)

	assert.Equal(t, CacheDeny, fm.entries["ip:1.2.3.4"])

	// The persistent block write is fire and forget.
	assert.Eventually(t, func() bool {
		reason, ok := fb.blockedReason("ip:1.2.3.4")
		return ok && reason == "IP-based rate limit exceeded"
	}, time.Second, 10*time.Millisecond)
}

func TestCheckAdmissionUserLimitDenies(t *testing.T) {
	svc, fw, _, fb, _ := newTestEngine()
	fw.counts["user:u1:/api/v1/content"] = 50

	d := svc.CheckAdmission(context.Background(), "1.2.3.4", "u1", "", "/api/v1/content")

	assert.False(t, d.Admitted)
	assert.Equal(t, shared.ScopeUser, d.Scope)

	assert.Eventually(t, func() bool {
		reason, ok := fb.blockedReason("u1")
		return ok && reason == "User rate limit exceeded for /api/v1/content"
	}, time.Second, 10*time.Millisecond)
}

func TestCheckAdmissionUserTierIsPerPath(t *testing.T) {
	svc, fw, _, _, _ := newTestEngine()
	fw.counts["user:u1:/api/v1/content"] = 50

	d := svc.CheckAdmission(context.Background(), "1.2.3.4", "u1", "", "/api/v1/comments")

	assert.True(t, d.Admitted)
	assert.Contains(t, fw.recorded, "user:u1:/api/v1/comments")
	assert.Empty(t, fw.violations)
}

func TestCheckAdmissionCachedDenySkipsViolation(t *testing.T) {
	svc, fw, fm, _, _ := newTestEngine()
	fm.entries["ip:1.2.3.4"] = CacheDeny

	d := svc.CheckAdmission(context.Background(), "1.2.3.4", "u1", "", "/api/v1/content")

	assert.False(t, d.Admitted)
	assert.Empty(t, fw.violations)
	assert.Empty(t, fw.recorded)
}

func TestCheckAdmissionCachedAllowStillRecords(t *testing.T) {
	svc, fw, fm, _, _ := newTestEngine()
	fm.entries["ip:1.2.3.4"] = CacheAllow
	fm.entries["user:u1:/api/v1/content"] = CacheAllow

	d := svc.CheckAdmission(context.Background(), "1.2.3.4", "u1", "", "/api/v1/content")

	assert.True(t, d.Admitted)
	assert.Equal(t, []string{"ip:1.2.3.4", "user:u1:/api/v1/content"}, fw.recorded)
}

func TestCheckAdmissionFailsOpenOnCounterError(t *testing.T) {
	svc, fw, _, _, _ := newTestEngine()
	fw.countErr = errors.New("redis down")

	d := svc.CheckAdmission(context.Background(), "1.2.3.4", "u1", "", "/api/v1/content")

	assert.True(t, d.Admitted)
	assert.Empty(t, fw.violations)
}

func TestCheckAdmissionAnonymousSkipsUserTier(t *testing.T) {
	svc, fw, _, _, _ := newTestEngine()

	d := svc.CheckAdmission(context.Background(), "1.2.3.4", "", "", "/api/v1/content")

	assert.True(t, d.Admitted)
	assert.Equal(t, []string{"ip:1.2.3.4"}, fw.recorded)
}

func TestCheckAdmissionEndpointTier(t *testing.T) {
	cfg := &model.RateLimitConfig{Endpoint: "/api/v1/login*", MaxRequests: 5, WindowSeconds: 60, Active: true}

	t.Run("denies at the endpoint limit", func(t *testing.T) {
		svc, fw, _, _, fc := newTestEngine()
		fc.configs = map[string]*model.RateLimitConfig{"/api/v1/login": cfg}
		fw.counts["endpoint:u1:/api/v1/login*"] = 5

		d := svc.CheckAdmission(context.Background(), "1.2.3.4", "u1", "", "/api/v1/login")

		assert.False(t, d.Admitted)
		assert.Equal(t, shared.ScopeEndpoint, d.Scope)
		require.Len(t, fw.violations, 1)
		assert.Equal(t, 5, fw.violations[0].Limit)
	})

	t.Run("denial writes no persistent block", func(t *testing.T) {
		svc, fw, _, fb, fc := newTestEngine()
		fc.configs = map[string]*model.RateLimitConfig{"/api/v1/login": cfg}
		fw.counts["endpoint:u1:/api/v1/login*"] = 5

		d := svc.CheckAdmission(context.Background(), "1.2.3.4", "u1", "", "/api/v1/login")
		assert.False(t, d.Admitted)

		time.Sleep(50 * time.Millisecond)
		_, blocked := fb.blockedReason("u1")
		assert.False(t, blocked)
		_, blocked = fb.blockedReason("ip:1.2.3.4")
		assert.False(t, blocked)
	})

	t.Run("override lifts the config limit", func(t *testing.T) {
		svc, fw, _, fb, fc := newTestEngine()
		fc.configs = map[string]*model.RateLimitConfig{"/api/v1/login": cfg}
		fb.overrides["u1|/api/v1/login"] = &model.RateLimitOverride{
			UserID: "u1", Path: "/api/v1/login", MaxRequests: 50, WindowSeconds: 60,
		}
		fw.counts["endpoint:u1:/api/v1/login*"] = 10

		d := svc.CheckAdmission(context.Background(), "1.2.3.4", "u1", "", "/api/v1/login")

		assert.True(t, d.Admitted)
		assert.Empty(t, fw.violations)
	})

	t.Run("bypass role skips the endpoint tier", func(t *testing.T) {
		svc, fw, _, _, fc := newTestEngine()
		bypassed := *cfg
		bypassed.BypassRoles = "admin,system"
		fc.configs = map[string]*model.RateLimitConfig{"/api/v1/login": &bypassed}
		fw.counts["endpoint:u1:/api/v1/login*"] = 500

		d := svc.CheckAdmission(context.Background(), "1.2.3.4", "u1", "admin", "/api/v1/login")

		assert.True(t, d.Admitted)
		assert.Empty(t, fw.violations)
	})

	t.Run("anonymous endpoint tier keys by address", func(t *testing.T) {
		svc, fw, _, _, fc := newTestEngine()
		fc.configs = map[string]*model.RateLimitConfig{"/api/v1/login": cfg}
		fw.counts["endpoint:ip:1.2.3.4:/api/v1/login*"] = 5

		d := svc.CheckAdmission(context.Background(), "1.2.3.4", "", "", "/api/v1/login")

		assert.False(t, d.Admitted)
		assert.Equal(t, shared.ScopeEndpoint, d.Scope)
	})
}

func TestGetUserLimitStatus(t *testing.T) {
	cfg := &model.RateLimitConfig{Endpoint: "/api/v1/users*", MaxRequests: 10, WindowSeconds: 60, Active: true}

	t.Run("config governs without an override", func(t *testing.T) {
		svc, fw, _, _, fc := newTestEngine()
		fc.configs = map[string]*model.RateLimitConfig{"/api/v1/users/me": cfg}
		fw.counts["endpoint:u1:/api/v1/users*"] = 4

		status := svc.GetUserLimitStatus(context.Background(), "u1", "/api/v1/users/me")

		assert.Equal(t, 10, status.TotalAllowed)
		assert.Equal(t, 6, status.Remaining)
		assert.Equal(t, 60, status.WindowSeconds)
	})

	t.Run("override changes the reported quota", func(t *testing.T) {
		svc, fw, _, fb, fc := newTestEngine()
		fc.configs = map[string]*model.RateLimitConfig{"/api/v1/users/me": cfg}
		fb.overrides["u1|/api/v1/users/me"] = &model.RateLimitOverride{
			UserID: "u1", Path: "/api/v1/users/me", MaxRequests: 20, WindowSeconds: 120,
		}
		fw.counts["endpoint:u1:/api/v1/users*"] = 5

		status := svc.GetUserLimitStatus(context.Background(), "u1", "/api/v1/users/me")

		assert.Equal(t, 20, status.TotalAllowed)
		assert.Equal(t, 15, status.Remaining)
		assert.Equal(t, 120, status.WindowSeconds)
	})

	t.Run("remaining never goes negative", func(t *testing.T) {
		svc, fw, _, _, _ := newTestEngine()
		fw.counts["user:u1:/api/v1/content"] = 80

		status := svc.GetUserLimitStatus(context.Background(), "u1", "/api/v1/content")

		assert.Equal(t, 50, status.TotalAllowed)
		assert.Equal(t, 0, status.Remaining)
	})
}

func TestDenyResponse(t *testing.T) {
	tests := []struct {
		scope      string
		retryAfter string
		status     int
	}{
		{shared.ScopeIP, "60", 429},
		{shared.ScopeUser, "60", 429},
		{shared.ScopeEndpoint, "60", 429},
		{shared.ScopePersistent, "600", 429},
		{shared.ScopeBlacklist, "86400", 403},
	}

	for _, tt := range tests {
		t.Run(tt.scope, func(t *testing.T) {
			app := fiber.New()
			app.Get("/x", func(c *fiber.Ctx) error {
				return denyResponse(c, dto.Decision{Admitted: false, Reason: "denied", Scope: tt.scope})
			})

			resp, err := app.Test(httptest.NewRequest("GET", "/x", nil))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.retryAfter, resp.Header.Get("Retry-After"))
			assert.Equal(t, tt.scope, resp.Header.Get("X-Rate-Limit-Type"))

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.JSONEq(t, `{"detail":"denied"}`, string(body))
		})
	}
}
