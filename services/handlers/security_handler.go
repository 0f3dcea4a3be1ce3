package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/gatewarden/warden_api/dto"
	"github.com/gatewarden/warden_api/shared"
)

type SecurityHandler struct {
	securitySvc SecurityServiceInterface
}

func NewSecurityHandler(securitySvc SecurityServiceInterface) *SecurityHandler {
	return &SecurityHandler{securitySvc: securitySvc}
}

func (h *SecurityHandler) ListSuspicious(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "100"))

	filter := dto.SuspiciousActivityFilter{
		UserID:   c.Query("user_id"),
		Severity: c.Query("severity"),
		Limit:    limit,
	}
	if resolved := c.Query("resolved"); resolved != "" {
		v := resolved == "true"
		filter.Resolved = &v
	}

	entries, err := h.securitySvc.ListSuspicious(c.Context(), filter)
	if err != nil {
		return err
	}

	out := make([]dto.SuspiciousActivityResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, dto.SuspiciousActivityResponse{
			ID:           e.ID,
			Timestamp:    e.Timestamp,
			UserID:       e.UserID,
			ClientIP:     e.ClientIP,
			UserAgent:    e.UserAgent,
			Path:         e.Path,
			Method:       e.Method,
			StatusCode:   e.StatusCode,
			ActivityType: e.ActivityType,
			Severity:     e.Severity,
			Details:      e.Details,
			IsResolved:   e.IsResolved,
			ResolutionID: e.ResolutionID,
		})
	}
	return shared.ResponseJSON(c, http.StatusOK, "Success", out)
}

func (h *SecurityHandler) ResolveActivity(c *fiber.Ctx) error {
	activityID := c.Params("activityId")
	if activityID == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Activity ID is required", nil)
	}

	var req dto.ResolveActivityRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Invalid request", err.Error())
	}

	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.CreateValidationErrorResponse(err))
	}

	if err := h.securitySvc.ResolveActivity(c.Context(), activityID, req.ResolutionID); err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "Activity resolved successfully", nil)
}

func (h *SecurityHandler) GetProfile(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "User ID is required", nil)
	}

	profile, fingerprints, err := h.securitySvc.GetProfile(c.Context(), userID)
	if err != nil {
		return err
	}

	out := dto.SecurityProfileResponse{
		UserID:                   profile.UserID,
		SuspiciousActivityCount:  profile.SuspiciousActivityCount,
		LastSuspiciousActivityAt: profile.LastSuspiciousActivityAt,
		IsRestricted:             profile.IsRestricted,
		Fingerprints:             make([]dto.FingerprintResponse, 0, len(fingerprints)),
	}
	for _, fp := range fingerprints {
		out.Fingerprints = append(out.Fingerprints, dto.FingerprintResponse{
			IP:           fp.IP,
			UserAgent:    fp.UserAgent,
			FirstSeen:    fp.FirstSeen,
			LastSeen:     fp.LastSeen,
			RequestCount: fp.RequestCount,
		})
	}
	return shared.ResponseJSON(c, http.StatusOK, "Success", out)
}

func (h *SecurityHandler) ResetProfile(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "User ID is required", nil)
	}

	if err := h.securitySvc.ResetProfile(c.Context(), userID); err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "Profile reset successfully", nil)
}
