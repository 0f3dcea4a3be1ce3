package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewarden/warden_api/dto"
	"github.com/gatewarden/warden_api/model"
	"github.com/gatewarden/warden_api/shared"
)

func newTestBlocks(t *testing.T) (*BlockService, *PostgresService) {
	pg := newTestDB(t)
	return &BlockService{sqlSvc: pg}, pg
}

func TestUserBlockLifecycle(t *testing.T) {
	svc, _ := newTestBlocks(t)
	ctx := context.Background()

	blocked, _ := svc.IsUserBlocked(ctx, "u1")
	assert.False(t, blocked)

	require.NoError(t, svc.SetUserBlocked(ctx, "u1", "User rate limit exceeded for /api/v1/content", 10*time.Minute))

	blocked, reason := svc.IsUserBlocked(ctx, "u1")
	assert.True(t, blocked)
	assert.Equal(t, "User rate limit exceeded for /api/v1/content", reason)

	// Re-blocking overwrites in place, no duplicate row.
	require.NoError(t, svc.SetUserBlocked(ctx, "u1", "IP-based rate limit exceeded", 15*time.Minute))
	blocked, reason = svc.IsUserBlocked(ctx, "u1")
	assert.True(t, blocked)
	assert.Equal(t, "IP-based rate limit exceeded", reason)

	require.NoError(t, svc.ClearUserBlock(ctx, "u1"))
	blocked, _ = svc.IsUserBlocked(ctx, "u1")
	assert.False(t, blocked)
}

func TestExpiredBlockHealsOnRead(t *testing.T) {
	svc, pg := newTestBlocks(t)
	ctx := context.Background()

	require.NoError(t, svc.SetUserBlocked(ctx, "u1", "temp", -time.Minute))

	blocked, _ := svc.IsUserBlocked(ctx, "u1")
	assert.False(t, blocked)

	var row model.UserPersistentBlock
	require.NoError(t, pg.Db().Where("user_id = ?", "u1").First(&row).Error)
	assert.False(t, row.IsLimited)
}

func TestClearUnknownBlockIsNotFound(t *testing.T) {
	svc, _ := newTestBlocks(t)

	err := svc.ClearUserBlock(context.Background(), "nobody")
	appErr, ok := shared.GetAppError(err)
	require.True(t, ok)
	assert.Equal(t, 404, appErr.StatusCode)
}

func TestListBlockedUsersSkipsExpired(t *testing.T) {
	svc, _ := newTestBlocks(t)
	ctx := context.Background()

	require.NoError(t, svc.SetUserBlocked(ctx, "active", "r", 10*time.Minute))
	require.NoError(t, svc.SetUserBlocked(ctx, "expired", "r", -time.Minute))

	blocks, err := svc.ListBlockedUsers(ctx)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "active", blocks[0].UserID)
}

func TestOverrideResolution(t *testing.T) {
	svc, _ := newTestBlocks(t)
	ctx := context.Background()

	_, err := svc.CreateOrUpdateOverride(ctx, dto.CreateOverrideRequest{
		UserID: "u1", Path: "*", MaxRequests: 100, WindowSeconds: 60,
	}, nil)
	require.NoError(t, err)

	_, err = svc.CreateOrUpdateOverride(ctx, dto.CreateOverrideRequest{
		UserID: "u1", Path: "/api/v1/login", MaxRequests: 10, WindowSeconds: 60,
	}, nil)
	require.NoError(t, err)

	t.Run("exact path wins over wildcard", func(t *testing.T) {
		o := svc.GetOverride(ctx, "u1", "/api/v1/login")
		require.NotNil(t, o)
		assert.Equal(t, 10, o.MaxRequests)
	})

	t.Run("wildcard covers other paths", func(t *testing.T) {
		o := svc.GetOverride(ctx, "u1", "/api/v1/content")
		require.NotNil(t, o)
		assert.Equal(t, 100, o.MaxRequests)
	})

	t.Run("no override for other users", func(t *testing.T) {
		assert.Nil(t, svc.GetOverride(ctx, "u2", "/api/v1/login"))
	})
}

func TestOverrideUpsertKeepsOneRowPerPath(t *testing.T) {
	svc, pg := newTestBlocks(t)
	ctx := context.Background()

	first, err := svc.CreateOrUpdateOverride(ctx, dto.CreateOverrideRequest{
		UserID: "u1", Path: "/api/v1/login", MaxRequests: 10, WindowSeconds: 60,
	}, nil)
	require.NoError(t, err)

	second, err := svc.CreateOrUpdateOverride(ctx, dto.CreateOverrideRequest{
		UserID: "u1", Path: "/api/v1/login", MaxRequests: 25, WindowSeconds: 120,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, pg.Db().Model(&model.RateLimitOverride{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestExpiredOverrideDeletedOnRead(t *testing.T) {
	svc, pg := newTestBlocks(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	_, err := svc.CreateOrUpdateOverride(ctx, dto.CreateOverrideRequest{
		UserID: "u1", Path: "/api/v1/login", MaxRequests: 10, WindowSeconds: 60, ExpiresAt: &past,
	}, nil)
	require.NoError(t, err)

	assert.Nil(t, svc.GetOverride(ctx, "u1", "/api/v1/login"))

	var count int64
	require.NoError(t, pg.Db().Model(&model.RateLimitOverride{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestDeleteOverride(t *testing.T) {
	svc, _ := newTestBlocks(t)
	ctx := context.Background()

	override, err := svc.CreateOrUpdateOverride(ctx, dto.CreateOverrideRequest{
		UserID: "u1", Path: "/api/v1/login", MaxRequests: 10, WindowSeconds: 60,
	}, nil)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteOverride(ctx, override.ID))

	t.Run("missing id is not found", func(t *testing.T) {
		err := svc.DeleteOverride(ctx, override.ID)
		appErr, ok := shared.GetAppError(err)
		require.True(t, ok)
		assert.Equal(t, 404, appErr.StatusCode)
	})

	t.Run("malformed id is not found, not an error", func(t *testing.T) {
		err := svc.DeleteOverride(ctx, "not-a-uuid")
		appErr, ok := shared.GetAppError(err)
		require.True(t, ok)
		assert.Equal(t, 404, appErr.StatusCode)
	})
}
