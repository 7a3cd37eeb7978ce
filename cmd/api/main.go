package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/epass/server/internal/auth"
	"github.com/epass/server/internal/checkin"
	"github.com/epass/server/internal/confcode"
	"github.com/epass/server/internal/config"
	"github.com/epass/server/internal/db"
	httphandler "github.com/epass/server/internal/http"
	"github.com/epass/server/internal/http/handlers"
	"github.com/epass/server/internal/middleware"
	"github.com/epass/server/internal/registration"
	"github.com/epass/server/internal/repo"
)

func main() {
	// Load .env from CWD (env vars override)
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create context for startup operations
	ctx := context.Background()

	// Open database connection
	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	// Run migrations
	if err := db.Migrate(database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize repositories
	repos := repo.NewRepositories(database)

	blocklist := confcode.DefaultBlocklist()
	if cfg.ProfanityListPath != "" {
		blocklist, err = confcode.LoadBlocklist(cfg.ProfanityListPath)
		if err != nil {
			log.Fatalf("Failed to load profanity list: %v", err)
		}
	}
	log.Printf("Confirmation code blocklist: %d entries", blocklist.Len())

	// Initialize services
	tokens := auth.NewTokenService()
	jwtService := auth.NewJWTService(cfg.JWTSecret, 0)
	checkinService := checkin.NewService(tokens, repos, checkin.WithTimeout(cfg.DBTimeout))
	registrationService := registration.NewService(repos.Registrations, tokens, confcode.NewGenerator(blocklist))

	if cfg.DevMode {
		if tok, err := jwtService.SignStaffToken(uuid.New(), "dev"); err == nil {
			log.Printf("DEV_MODE staff token: %s", tok)
		} else {
			log.Printf("DEV_MODE staff token unavailable: %v", err)
		}
	}

	limiter := middleware.NewRateLimiter(middleware.WithSweepInterval(cfg.RateLimitSweep))
	limiter.Start()
	defer limiter.Stop()

	// Create router
	router := httphandler.NewRouter(httphandler.Handlers{
		Health:       handlers.NewHealthHandler(database),
		Checkin:      handlers.NewCheckinHandler(checkinService, limiter, cfg.VerifyRateLimit, cfg.VerifyRateWindow),
		Registration: handlers.NewRegistrationHandler(registrationService),
	}, jwtService, httphandler.LookupLimit{
		Limiter: limiter,
		Limit:   cfg.LookupRateLimit,
		Window:  cfg.LookupRateWindow,
	})

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
