package main

import (
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gatewarden/warden_api/model"
	"github.com/gatewarden/warden_api/services"
)

// Default endpoint policies applied on first deploy. Existing rows are left
// untouched so operator edits survive re-seeding.
var defaultConfigs = []model.RateLimitConfig{
	{
		Endpoint:      "*",
		MaxRequests:   100,
		WindowSeconds: 60,
		Active:        true,
		BypassRoles:   "admin,system",
		Description:   "Global fallback limit",
	},
	{
		Endpoint:      "/api/v1/login*",
		MaxRequests:   5,
		WindowSeconds: 60,
		Active:        true,
		BypassRoles:   "admin,system",
		Description:   "Login endpoints, brute force protection",
	},
	{
		Endpoint:      "/api/v1/users*",
		MaxRequests:   20,
		WindowSeconds: 60,
		Active:        true,
		BypassRoles:   "admin,system",
		Description:   "User management endpoints",
	},
	{
		Endpoint:      "/api/v1/admin*",
		MaxRequests:   30,
		WindowSeconds: 60,
		Active:        true,
		BypassRoles:   "admin",
		Description:   "Admin surface",
	},
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	var (
		dsn  = flag.String("dsn", "", "Database DSN (overrides DATABASE_URL env var)")
		help = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	database := *dsn
	if database == "" {
		database = os.Getenv("DATABASE_URL")
		if database == "" {
			log.Fatal("DATABASE_URL is not set")
		}
	}

	db, err := gorm.Open(postgres.Open(database), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(services.Models()...); err != nil {
		log.Fatalf("Failed to migrate schema: %v", err)
	}

	seeded := 0
	for _, cfg := range defaultConfigs {
		var existing model.RateLimitConfig
		err := db.Where("endpoint = ?", cfg.Endpoint).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Fatalf("Failed to check config %s: %v", cfg.Endpoint, err)
		}

		id, _ := uuid.NewV7()
		cfg.ID = id.String()
		cfg.CreatedAt = time.Now()
		cfg.UpdatedAt = cfg.CreatedAt
		if err := db.Create(&cfg).Error; err != nil {
			log.Fatalf("Failed to seed config %s: %v", cfg.Endpoint, err)
		}
		seeded++
	}

	log.Printf("Seeding completed, %d configs created", seeded)
}

func showHelp() {
	log.Println(`
Rate limit config seeding tool

Usage: go run seed/main.go [flags]

Flags:
  -dsn string
        Database DSN (overrides DATABASE_URL environment variable)
  -help
        Show this help message`)
}
