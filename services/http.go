package services

import (
	"fmt"
	"os"
	"strconv"

	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	log "github.com/sirupsen/logrus"

	"github.com/gatewarden/warden_api/services/handlers"
	"github.com/gatewarden/warden_api/shared"
)

type HttpService struct {
	context.DefaultService

	rateLimitSvc  *RateLimitService
	blockSvc      *BlockService
	configSvc     *LimitConfigService
	windowSvc     *WindowService
	securitySvc   *SecurityService
	monitoringSvc *MonitoringService

	port   int
	server *fiber.App
}

const HTTP_SVC = "http_svc"

func (svc HttpService) Id() string {
	return HTTP_SVC
}

func (svc *HttpService) Configure(ctx *context.Context) error {
	if port := os.Getenv("HTTP_PORT"); port != "" {
		var err error
		if svc.port, err = strconv.Atoi(port); err != nil {
			return err
		}
	} else {
		svc.port = 8000
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *HttpService) Start() error {
	svc.rateLimitSvc = svc.Service(RATE_LIMIT_SVC).(*RateLimitService)
	svc.blockSvc = svc.Service(BLOCK_SVC).(*BlockService)
	svc.configSvc = svc.Service(LIMIT_CONFIG_SVC).(*LimitConfigService)
	svc.windowSvc = svc.Service(WINDOW_SVC).(*WindowService)
	svc.securitySvc = svc.Service(SECURITY_SVC).(*SecurityService)
	svc.monitoringSvc = svc.Service(MONITORING_SVC).(*MonitoringService)

	app := fiber.New(fiber.Config{
		ErrorHandler: svc.handleError,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	app.Use(MonitoringMiddleware(svc.monitoringSvc))
	app.Use(svc.rateLimitSvc.Middleware())

	app.Get("/ping", svc.ping)
	app.Get("/health", svc.ping)

	rlHandler := handlers.NewRateLimitHandler(svc.rateLimitSvc)
	adminHandler := handlers.NewAdminHandler(svc.blockSvc, svc.configSvc, svc.windowSvc)
	securityHandler := handlers.NewSecurityHandler(svc.securitySvc)

	v1 := app.Group("/api/v1")
	v1.Get("/rate-limit/status", rlHandler.GetStatus)

	admin := v1.Group("/admin", svc.requireAdmin)

	rl := admin.Group("/rate-limit")
	rl.Get("/configs", adminHandler.ListConfigs)
	rl.Post("/configs", adminHandler.CreateConfig)
	rl.Put("/configs/:configId", adminHandler.UpdateConfig)
	rl.Delete("/configs/:configId", adminHandler.DeleteConfig)

	rl.Get("/overrides", adminHandler.ListOverrides)
	rl.Post("/overrides", adminHandler.CreateOverride)
	rl.Delete("/overrides/:overrideId", adminHandler.DeleteOverride)

	rl.Get("/blacklist", adminHandler.ListBlacklist)
	rl.Post("/blacklist", adminHandler.BlacklistIP)
	rl.Delete("/blacklist/:ip", adminHandler.RemoveBlacklistedIP)

	rl.Get("/blocked", adminHandler.ListBlockedUsers)
	rl.Delete("/blocked/:userId", adminHandler.UnblockUser)

	rl.Get("/violations", adminHandler.ListViolations)
	rl.Get("/violations/analytics", adminHandler.ViolationAnalytics)

	security := admin.Group("/security")
	security.Get("/suspicious", securityHandler.ListSuspicious)
	security.Post("/suspicious/:activityId/resolve", securityHandler.ResolveActivity)
	security.Get("/profiles/:userId", securityHandler.GetProfile)
	security.Post("/profiles/:userId/reset", securityHandler.ResetProfile)

	app.Use(func(c *fiber.Ctx) error {
		return shared.ResponseNotFound(c)
	})

	svc.server = app

	log.WithField("port", svc.port).Info("HTTP server started")
	return app.Listen(fmt.Sprintf(":%v", svc.port))
}

func (svc *HttpService) Shutdown() {
	if svc.server != nil {
		_ = svc.server.Shutdown()
	}
}

func (svc *HttpService) ping(c *fiber.Ctx) error {
	c.Set(fiber.HeaderCacheControl, "max-age=10")
	return shared.ResponseOK(c, "pong")
}

// requireAdmin gates the admin surface on the role carried by the verified
// token. The rate limit middleware has already populated the locals.
func (svc *HttpService) requireAdmin(c *fiber.Ctx) error {
	userID, _ := c.Locals(shared.UserID).(string)
	if userID == "" {
		return shared.ResponseJSON(c, fiber.StatusUnauthorized, "Unauthorized", nil)
	}

	role, _ := c.Locals(shared.UserRole).(string)
	if role != "admin" {
		return shared.ResponseJSON(c, fiber.StatusForbidden, "Forbidden", nil)
	}

	return c.Next()
}

func (svc *HttpService) handleError(c *fiber.Ctx, err error) error {
	if appErr, ok := shared.GetAppError(err); ok {
		return shared.ResponseJSON(c, appErr.StatusCode, appErr.Message, appErr.Data)
	}

	if fiberErr, ok := err.(*fiber.Error); ok {
		return shared.ResponseJSON(c, fiberErr.Code, fiberErr.Message, nil)
	}

	log.WithError(err).Error("Unhandled error")
	return shared.ResponseInternalError(c, err)
}
