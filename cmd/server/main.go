package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shortlink/internal/config"
	httpHandler "shortlink/internal/handler/http"
	"shortlink/internal/ratelimit"
	"shortlink/internal/repository"
	"shortlink/internal/repository/memory"
	"shortlink/internal/repository/postgres"
	redisCache "shortlink/internal/repository/redis"
	"shortlink/internal/service"
	"shortlink/pkg/logger"
)

func main() {
	// ========================================================================
	// STEP 1: LOAD CONFIGURATION
	// ========================================================================
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// ========================================================================
	// STEP 2: INITIALIZE STRUCTURED LOGGER
	// ========================================================================
	appLogger := logger.New(cfg.App.LogLevel)
	appLogger.Info("Starting shortlink",
		"environment", cfg.App.Environment,
		"port", cfg.Server.Port,
		"db_driver", cfg.Database.Driver,
		"redis_enabled", cfg.Redis.Enabled,
	)

	ctx := context.Background()

	// ========================================================================
	// STEP 3: LINK STORE
	// ========================================================================
	var linkRepo repository.LinkRepository
	switch cfg.Database.Driver {
	case config.DriverMemory:
		linkRepo = memory.NewLinkRepository()
		appLogger.Warn("Using in-memory link store, data is lost on restart")

	default:
		db, err := postgres.InitDB(
			ctx,
			cfg.Database.DatabaseDSN(),
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			log.Fatalf("Database connection failed: %v", err)
		}
		defer db.Close()

		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatalf("Database migration failed: %v", err)
		}
		appLogger.Info("Database connection established")

		linkRepo = postgres.NewLinkRepository(db)
	}

	// ========================================================================
	// STEP 4: REDIS (REDIRECT CACHE + RATE LIMITER), OPTIONAL
	// ========================================================================
	var (
		cache   service.Cache
		limiter *ratelimit.RateLimiter
	)
	if cfg.Redis.Enabled {
		redisClient, err := redisCache.InitRedis(cfg.Redis.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("Redis connection failed: %v", err)
		}
		defer redisClient.Close()
		appLogger.Info("Redis connection established", "addr", cfg.Redis.RedisAddr())

		cache = redisCache.NewCache(redisClient, cfg.Redis.CacheTTL)

		if cfg.RateLimitActive() {
			limiter = ratelimit.NewRateLimiter(redisClient, cfg.App.RateLimitPerMinute, time.Minute)
			appLogger.Info("Rate limiting enabled", "requests_per_minute", cfg.App.RateLimitPerMinute)
		}
	}

	// ========================================================================
	// STEP 5: DEPENDENCY GRAPH
	// ========================================================================
	// Store -> LinkService -> Handler
	linkService := service.NewLinkService(linkRepo, cache, appLogger.Logger)
	handler := httpHandler.NewHandler(linkService, appLogger.Logger, cfg.Server.BaseURL, cfg.App.Environment)

	// ========================================================================
	// STEP 6: ROUTES
	// ========================================================================
	mux := http.NewServeMux()
	handler.Register(mux)

	if cfg.App.EnableMetrics {
		httpHandler.RegisterMetrics(mux)
	}

	// ========================================================================
	// STEP 7: MIDDLEWARE CHAIN (outermost first)
	// ========================================================================
	middlewares := []func(http.Handler) http.Handler{
		httpHandler.RecoveryMiddleware(appLogger.Logger),
		httpHandler.LoggingMiddleware(appLogger.Logger),
		httpHandler.RequestIDMiddleware,
		httpHandler.MetricsMiddleware,
		httpHandler.CORSMiddleware,
	}
	if limiter != nil {
		middlewares = append(middlewares, httpHandler.RateLimitMiddleware(limiter, appLogger.Logger))
	}
	middlewares = append(middlewares, httpHandler.TimeoutMiddleware(cfg.Server.RequestTimeout))

	finalHandler := httpHandler.Chain(middlewares...)(mux)

	// ========================================================================
	// STEP 8: HTTP SERVER
	// ========================================================================
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      finalHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		appLogger.Info("Server starting", "address", server.Addr, "base_url", cfg.Server.BaseURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// ========================================================================
	// STEP 9: GRACEFUL SHUTDOWN
	// ========================================================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
		return
	}

	appLogger.Info("Server exited gracefully")
}
