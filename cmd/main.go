package main

import (
	"context"

	"tenant-service/internal/handler"
	"tenant-service/internal/job"
	"tenant-service/internal/middleware"
	"tenant-service/pkg/config"
	"tenant-service/pkg/database"
	"tenant-service/pkg/jwtutil"
	"tenant-service/pkg/logger"
	"tenant-service/prometheus"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger with config
	logger.InitLogger(cfg)
	log := logger.GetLogger()
	log.Info("Starting tenant service...", zap.String("environment", cfg.Server.Env))

	// Initialize database, schema and row isolation policies
	if err := database.InitDB(cfg); err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	log.Info("Database connection established, row isolation active")

	// Credential verifier against the external identity provider
	verifier := jwtutil.NewVerifier(&jwtutil.Config{
		AuthorityURL: cfg.OIDC.AuthorityURL,
		Realm:        cfg.OIDC.Realm,
		Audience:     cfg.OIDC.Audience,
		CacheTTL:     cfg.OIDC.JWKSCacheTTL,
	})
	log.Info("Credential verifier initialized",
		zap.String("authority", cfg.OIDC.AuthorityURL),
		zap.String("realm", cfg.OIDC.Realm))

	// Initialize Prometheus metrics
	prometheus.InitMetrics(cfg)
	log.Info("Prometheus metrics initialized")

	// Background job dispatcher with tenant context hydration
	dispatcher := job.NewDispatcher(cfg)
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	dispatcher.Start(jobCtx)
	defer func() {
		cancelJobs()
		dispatcher.Stop()
	}()
	log.Info("Job dispatcher started", zap.Int("workers", cfg.Job.Workers))

	// Initialize Echo framework
	e := echo.New()

	// Apply global middleware - order matters: the auth middleware must
	// run before the scoped session is pinned to the request
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(middleware.RequestIDMiddleware)
	e.Use(logger.Middleware(log))
	e.Use(prometheus.MetricsMiddleware())
	e.Use(middleware.AuthMiddleware(verifier))

	// Public routes - exempt from credential resolution
	e.GET("/health", handler.HealthCheck)
	e.GET("/metrics", handler.MetricsHandler)

	// API routes - authenticated, with a scoped database session per request
	api := e.Group("/api")
	api.Use(middleware.SessionMiddleware)

	items := api.Group("/items")
	items.GET("", handler.ListItems)
	items.POST("", handler.CreateItem)
	items.GET("/:id", handler.GetItem)
	items.DELETE("/:id", handler.DeleteItem)

	api.GET("/tenants/current", handler.CurrentTenant)
	api.GET("/tenants/:slug", handler.ResolveTenant)

	// Get server port from configuration
	port := cfg.Server.Port

	// Start server
	log.Info("Starting server", zap.String("port", port))
	if err := e.Start(":" + port); err != nil {
		log.Fatal("Failed to start server", zap.Error(err))
	}
}
