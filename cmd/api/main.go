package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/cobaltlabs/aegis/internal/config"
	delivery "github.com/cobaltlabs/aegis/internal/delivery/http"
	"github.com/cobaltlabs/aegis/internal/jobs"
	"github.com/cobaltlabs/aegis/internal/notify"
	"github.com/cobaltlabs/aegis/internal/ratelimit"
	"github.com/cobaltlabs/aegis/internal/repository"
	"github.com/cobaltlabs/aegis/internal/usecase"
	"github.com/cobaltlabs/aegis/pkg/security"

	_ "github.com/lib/pq" // Postgres driver
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// 2. Initialize Infrastructure (Persistence)
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	defer rdb.Close()

	// 3. Initialize Repositories and Collaborators
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewRedisSessionRepo(rdb)
	resetRepo := repository.NewRedisResetRepo(rdb)
	limiter := ratelimit.NewRedisLimiter(rdb, cfg.RateLimitWindow, cfg.RateLimitMaxAttempts)
	mailer := notify.NewLogMailer()
	signer := security.NewTokenSigner(security.SignerConfig{
		AccessSecret:  cfg.AccessTokenSecret,
		RefreshSecret: cfg.RefreshTokenSecret,
		ServiceSecret: cfg.ServiceTokenSecret,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
		ServiceTTL:    cfg.ServiceTokenTTL,
	})

	// 4. Initialize Business Logic
	authUsecase := usecase.NewAuthUsecase(userRepo, sessionRepo, resetRepo, limiter, mailer, signer, usecase.Config{
		BcryptCost:    cfg.BcryptCost,
		SessionTTL:    cfg.SessionTTL,
		ResetTokenTTL: cfg.ResetTokenTTL,
		MFAIssuer:     cfg.MFAIssuer,
	})

	// 5. Setup Framework and Global Middlewares
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.Secure())

	// 6. Register Delivery Handlers (Routes)
	v1 := e.Group("/v1")
	delivery.NewAuthHandler(v1, authUsecase)
	delivery.NewMFAHandler(v1, authUsecase)

	// 7. Health Check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"status":  "healthy",
			"version": "1.0.0",
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	// 8. Background maintenance: reset-token cleanup sweep
	jobHandler := jobs.NewHandler(authUsecase)
	jobServer, jobMux := jobs.NewServer(cfg.RedisAddr, jobHandler)
	go func() {
		if err := jobServer.Run(jobMux); err != nil {
			log.Fatalf("Job server stopped: %v", err)
		}
	}()

	scheduler, err := jobs.NewScheduler(cfg.RedisAddr)
	if err != nil {
		log.Fatalf("Failed to build scheduler: %v", err)
	}
	go func() {
		if err := scheduler.Run(); err != nil {
			log.Fatalf("Scheduler stopped: %v", err)
		}
	}()

	// 9. Start Server with Graceful Shutdown
	go func() {
		log.Printf("Starting Aegis Auth Server on port %s", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Shutting down the server due to error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down gracefully...")
	scheduler.Shutdown()
	jobServer.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting")
}
