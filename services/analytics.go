package services

import (
	"context"
	"time"

	"github.com/gatewarden/warden_api/dto"
	"github.com/gatewarden/warden_api/model"

	"gorm.io/gorm"
)

// Violation analytics run straight against the violation rows; these queries
// back the admin surface only and never sit on the request path.

func (svc *WindowService) ListViolations(ctx context.Context, filter dto.ViolationFilter) ([]model.RateLimitViolation, error) {
	query := svc.sqlSvc.Db().WithContext(ctx).Order("timestamp DESC")
	if filter.Scope != "" {
		query = query.Where("scope = ?", filter.Scope)
	}
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if !filter.Since.IsZero() {
		query = query.Where("timestamp > ?", filter.Since)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var violations []model.RateLimitViolation
	err := query.Limit(limit).Find(&violations).Error
	return violations, err
}

func (svc *WindowService) ViolationAnalytics(ctx context.Context, since time.Time) (*dto.ViolationAnalytics, error) {
	base := func() *gorm.DB {
		return svc.sqlSvc.Db().WithContext(ctx).
			Model(&model.RateLimitViolation{}).
			Where("timestamp > ?", since)
	}

	report := &dto.ViolationAnalytics{ByScope: map[string]int64{}}

	if err := base().Count(&report.TotalViolations).Error; err != nil {
		return nil, err
	}
	if err := base().Distinct("client_ip").Count(&report.UniqueIPs).Error; err != nil {
		return nil, err
	}
	if err := base().Distinct("user_id").Count(&report.UniqueUsers).Error; err != nil {
		return nil, err
	}
	if err := base().Distinct("endpoint").Count(&report.UniqueEndpoints).Error; err != nil {
		return nil, err
	}

	var byScope []struct {
		Scope string
		Total int64
	}
	if err := base().
		Select("scope, count(*) as total").
		Group("scope").
		Scan(&byScope).Error; err != nil {
		return nil, err
	}
	for _, row := range byScope {
		report.ByScope[row.Scope] = row.Total
	}

	var topIPs []struct {
		ClientIP string
		Total    int64
	}
	if err := base().
		Select("client_ip, count(*) as total").
		Where("client_ip IS NOT NULL").
		Group("client_ip").
		Order("total DESC").
		Limit(10).
		Scan(&topIPs).Error; err != nil {
		return nil, err
	}
	for _, row := range topIPs {
		report.TopIPs = append(report.TopIPs, dto.TopOffender{
			ClientIP:   row.ClientIP,
			Violations: row.Total,
		})
	}

	var byDay []struct {
		Day   string
		Total int64
	}
	if err := base().
		Select("DATE(timestamp) as day, count(*) as total").
		Group("DATE(timestamp)").
		Order("day ASC").
		Scan(&byDay).Error; err != nil {
		return nil, err
	}
	for _, row := range byDay {
		day, err := time.Parse("2006-01-02", row.Day)
		if err != nil {
			continue
		}
		report.ByDay = append(report.ByDay, dto.DailyCount{
			Day:        day,
			Violations: row.Total,
		})
	}

	return report, nil
}
