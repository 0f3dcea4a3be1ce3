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

func seedViolations(t *testing.T, svc *WindowService) {
	t.Helper()
	ctx := context.Background()

	ip1, ip2 := "1.1.1.1", "2.2.2.2"
	u1 := "u1"
	ep := "/api/v1/login"

	for i := 0; i < 3; i++ {
		svc.RecordViolation(ctx, &model.RateLimitViolation{
			Key: "ip:" + ip1, Scope: shared.ScopeIP, Limit: 100, Attempts: 101 + i,
			ClientIP: &ip1, Endpoint: &ep,
		})
	}
	svc.RecordViolation(ctx, &model.RateLimitViolation{
		Key: "user:u1", Scope: shared.ScopeUser, Limit: 50, Attempts: 51,
		UserID: &u1, ClientIP: &ip2, Endpoint: &ep,
	})
}

func TestListViolations(t *testing.T) {
	pg := newTestDB(t)
	svc := &WindowService{sqlSvc: pg}
	seedViolations(t, svc)
	ctx := context.Background()

	all, err := svc.ListViolations(ctx, dto.ViolationFilter{Since: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	ipOnly, err := svc.ListViolations(ctx, dto.ViolationFilter{Scope: shared.ScopeIP})
	require.NoError(t, err)
	assert.Len(t, ipOnly, 3)

	userOnly, err := svc.ListViolations(ctx, dto.ViolationFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, userOnly, 1)
	assert.Equal(t, shared.ScopeUser, userOnly[0].Scope)

	limited, err := svc.ListViolations(ctx, dto.ViolationFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestViolationAnalytics(t *testing.T) {
	pg := newTestDB(t)
	svc := &WindowService{sqlSvc: pg}
	seedViolations(t, svc)

	report, err := svc.ViolationAnalytics(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)

	assert.EqualValues(t, 4, report.TotalViolations)
	assert.EqualValues(t, 2, report.UniqueIPs)
	assert.EqualValues(t, 3, report.ByScope[shared.ScopeIP])
	assert.EqualValues(t, 1, report.ByScope[shared.ScopeUser])

	require.NotEmpty(t, report.TopIPs)
	assert.Equal(t, "1.1.1.1", report.TopIPs[0].ClientIP)
	assert.EqualValues(t, 3, report.TopIPs[0].Violations)

	require.Len(t, report.ByDay, 1)
	assert.EqualValues(t, 4, report.ByDay[0].Violations)
}
