package main

import (
	"github.com/gatewarden/warden_api/services"

	"github.com/alphabatem/common/context"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Warn().Err(err).Msg("No .env file loaded")
	}

	ctx, err := context.NewCtx(
		&services.JWTService{},
		&services.RedisService{},
		&services.PostgresService{},

		&services.DecisionCacheService{},
		&services.WindowService{},
		&services.BlockService{},
		&services.LimitConfigService{},
		&services.SecurityService{},
		&services.RateLimitService{},

		&services.MonitoringService{},
		&services.ExportService{},

		&services.HttpService{},
	)
	if err != nil {
		log.Fatal().Err(err)
		return
	}

	err = ctx.Run()
	if err != nil {
		log.Fatal().Err(err)
		return
	}
}
