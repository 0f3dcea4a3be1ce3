package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/gatewarden/warden_api/shared"
)

type RateLimitHandler struct {
	rateLimitSvc RateLimitServiceInterface
}

func NewRateLimitHandler(rateLimitSvc RateLimitServiceInterface) *RateLimitHandler {
	return &RateLimitHandler{rateLimitSvc: rateLimitSvc}
}

// GetStatus reports the caller's remaining quota for a path. Defaults to the
// request path of the check itself when no path query is given.
func (h *RateLimitHandler) GetStatus(c *fiber.Ctx) error {
	userID, _ := c.Locals(shared.UserID).(string)
	if userID == "" {
		return shared.ResponseJSON(c, http.StatusUnauthorized, "Unauthorized", nil)
	}

	path := c.Query("path")
	if path == "" {
		path = c.Path()
	}

	status := h.rateLimitSvc.GetUserLimitStatus(c.Context(), userID, path)
	return shared.ResponseJSON(c, http.StatusOK, "Success", status)
}
