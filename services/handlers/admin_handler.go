package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/gatewarden/warden_api/dto"
	"github.com/gatewarden/warden_api/model"
	"github.com/gatewarden/warden_api/shared"
)

type AdminHandler struct {
	blockSvc  BlockServiceInterface
	configSvc LimitConfigServiceInterface
	windowSvc ViolationQueryInterface
}

func NewAdminHandler(blockSvc BlockServiceInterface, configSvc LimitConfigServiceInterface, windowSvc ViolationQueryInterface) *AdminHandler {
	return &AdminHandler{
		blockSvc:  blockSvc,
		configSvc: configSvc,
		windowSvc: windowSvc,
	}
}

func adminID(c *fiber.Ctx) *string {
	if id, ok := c.Locals(shared.UserID).(string); ok && id != "" {
		return &id
	}
	return nil
}

// ==================== CONFIGS ====================

func (h *AdminHandler) ListConfigs(c *fiber.Ctx) error {
	configs, err := h.configSvc.ListConfigs(c.Context())
	if err != nil {
		return err
	}

	out := make([]dto.ConfigResponse, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, configResponse(cfg))
	}
	return shared.ResponseJSON(c, http.StatusOK, "Success", out)
}

func (h *AdminHandler) CreateConfig(c *fiber.Ctx) error {
	var req dto.CreateConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Invalid request", err.Error())
	}

	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.CreateValidationErrorResponse(err))
	}

	cfg, err := h.configSvc.CreateConfig(c.Context(), req)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusCreated, "Created", configResponse(*cfg))
}

func (h *AdminHandler) UpdateConfig(c *fiber.Ctx) error {
	configID := c.Params("configId")
	if configID == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Config ID is required", nil)
	}

	var req dto.UpdateConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Invalid request", err.Error())
	}

	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.CreateValidationErrorResponse(err))
	}

	cfg, err := h.configSvc.UpdateConfig(c.Context(), configID, req)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "Config updated successfully", configResponse(*cfg))
}

func (h *AdminHandler) DeleteConfig(c *fiber.Ctx) error {
	configID := c.Params("configId")
	if configID == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Config ID is required", nil)
	}

	if err := h.configSvc.DeleteConfig(c.Context(), configID); err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "Config deleted successfully", nil)
}

func configResponse(cfg model.RateLimitConfig) dto.ConfigResponse {
	return dto.ConfigResponse{
		ID:            cfg.ID,
		Endpoint:      cfg.Endpoint,
		MaxRequests:   cfg.MaxRequests,
		WindowSeconds: cfg.WindowSeconds,
		Active:        cfg.Active,
		BypassRoles:   shared.SplitCSV(cfg.BypassRoles),
		Description:   cfg.Description,
		CreatedAt:     cfg.CreatedAt,
		UpdatedAt:     cfg.UpdatedAt,
	}
}

// ==================== OVERRIDES ====================

func (h *AdminHandler) ListOverrides(c *fiber.Ctx) error {
	overrides, err := h.blockSvc.ListOverrides(c.Context(), c.Query("user_id"))
	if err != nil {
		return err
	}

	out := make([]dto.OverrideResponse, 0, len(overrides))
	for _, o := range overrides {
		out = append(out, dto.OverrideResponse{
			ID:            o.ID,
			UserID:        o.UserID,
			Path:          o.Path,
			MaxRequests:   o.MaxRequests,
			WindowSeconds: o.WindowSeconds,
			CreatedAt:     o.CreatedAt,
			ExpiresAt:     o.ExpiresAt,
			CreatedBy:     o.CreatedBy,
			Reason:        o.Reason,
		})
	}
	return shared.ResponseJSON(c, http.StatusOK, "Success", out)
}

func (h *AdminHandler) CreateOverride(c *fiber.Ctx) error {
	var req dto.CreateOverrideRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Invalid request", err.Error())
	}

	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.CreateValidationErrorResponse(err))
	}

	override, err := h.blockSvc.CreateOrUpdateOverride(c.Context(), req, adminID(c))
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusCreated, "Created", override)
}

func (h *AdminHandler) DeleteOverride(c *fiber.Ctx) error {
	overrideID := c.Params("overrideId")
	if overrideID == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Override ID is required", nil)
	}

	if err := h.blockSvc.DeleteOverride(c.Context(), overrideID); err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "Override deleted successfully", nil)
}

// ==================== BLACKLIST ====================

func (h *AdminHandler) ListBlacklist(c *fiber.Ctx) error {
	entries, err := h.blockSvc.ListBlacklist(c.Context())
	if err != nil {
		return err
	}
	return shared.ResponseJSON(c, http.StatusOK, "Success", entries)
}

func (h *AdminHandler) BlacklistIP(c *fiber.Ctx) error {
	var req dto.BlacklistIPRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Invalid request", err.Error())
	}

	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.CreateValidationErrorResponse(err))
	}

	entry, err := h.blockSvc.BlacklistIP(c.Context(), req.IP, req.Reason, adminID(c), req.ExpiresAt)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusCreated, "Created", entry)
}

func (h *AdminHandler) RemoveBlacklistedIP(c *fiber.Ctx) error {
	ip := c.Params("ip")
	if ip == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "IP is required", nil)
	}

	if err := h.blockSvc.RemoveBlacklistedIP(c.Context(), ip); err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "IP removed from blacklist", nil)
}

// ==================== BLOCKED USERS ====================

func (h *AdminHandler) ListBlockedUsers(c *fiber.Ctx) error {
	blocks, err := h.blockSvc.ListBlockedUsers(c.Context())
	if err != nil {
		return err
	}
	return shared.ResponseJSON(c, http.StatusOK, "Success", blocks)
}

func (h *AdminHandler) UnblockUser(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "User ID is required", nil)
	}

	if err := h.blockSvc.ClearUserBlock(c.Context(), userID); err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "User unblocked successfully", nil)
}

// ==================== VIOLATIONS ====================

func (h *AdminHandler) ListViolations(c *fiber.Ctx) error {
	hours, _ := strconv.Atoi(c.Query("hours", "24"))
	if hours < 1 {
		hours = 24
	}
	limit, _ := strconv.Atoi(c.Query("limit", "100"))

	violations, err := h.windowSvc.ListViolations(c.Context(), dto.ViolationFilter{
		Scope:  c.Query("scope"),
		UserID: c.Query("user_id"),
		Since:  time.Now().Add(-time.Duration(hours) * time.Hour),
		Limit:  limit,
	})
	if err != nil {
		return err
	}

	out := make([]dto.ViolationResponse, 0, len(violations))
	for _, v := range violations {
		out = append(out, dto.ViolationResponse{
			Timestamp: v.Timestamp,
			Key:       v.Key,
			Scope:     v.Scope,
			Limit:     v.Limit,
			Attempts:  v.Attempts,
			UserID:    v.UserID,
			ClientIP:  v.ClientIP,
			Endpoint:  v.Endpoint,
		})
	}
	return shared.ResponseJSON(c, http.StatusOK, "Success", out)
}

func (h *AdminHandler) ViolationAnalytics(c *fiber.Ctx) error {
	days, _ := strconv.Atoi(c.Query("days", "7"))
	if days < 1 || days > 90 {
		days = 7
	}

	report, err := h.windowSvc.ViolationAnalytics(c.Context(), time.Now().AddDate(0, 0, -days))
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "Success", report)
}
