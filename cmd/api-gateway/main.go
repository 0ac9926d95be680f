package main

import (
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/freshnest/booking-api/api/swagger"
	"github.com/freshnest/booking-api/internal/handler"
	"github.com/freshnest/booking-api/internal/middleware"
	"github.com/freshnest/booking-api/internal/models"
	"github.com/freshnest/booking-api/internal/repository"
	"github.com/freshnest/booking-api/internal/service"
	"github.com/freshnest/booking-api/pkg/cache"
	"github.com/freshnest/booking-api/pkg/config"
	"github.com/freshnest/booking-api/pkg/database"
	"github.com/freshnest/booking-api/pkg/export"
	"github.com/freshnest/booking-api/pkg/logger"
	corsmiddleware "github.com/freshnest/booking-api/pkg/middleware/cors"
	reqidmiddleware "github.com/freshnest/booking-api/pkg/middleware/requestid"
)

// @title FreshNest Booking API
// @version 1.0.0
// @description Availability, assignment and dispatch engine for home cleaning bookings
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, events and caching disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	// Repositories.
	workerRepo := repository.NewWorkerRepository(db)
	jobRepo := repository.NewJobRepository(db)
	clientRepo := repository.NewClientRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// Event fanout. Without Redis the services skip publishing.
	var notifier *service.Notifier
	if redisClient != nil && cfg.Events.Enabled {
		notifier = service.NewNotifier(service.NewRedisPublisher(redisClient), service.NotifierConfig{
			Channel:    cfg.Events.Channel,
			Workers:    cfg.Events.Workers,
			BufferSize: cfg.Events.BufferSize,
			MaxRetries: cfg.Events.MaxRetries,
			RetryDelay: cfg.Events.RetryDelay,
		}, logr)
		defer notifier.Close()
	}

	// Services.
	metricsSvc := service.NewMetricsService()
	policySvc := service.NewPolicyService(settingsRepo, auditRepo, logr)
	availabilitySvc := service.NewAvailabilityService(policySvc, workerRepo, jobRepo, logr)
	bookingSvc := service.NewBookingService(jobRepo, clientRepo, workerRepo, policySvc, notifier, metricsSvc, nil, logr)
	dispatchSvc := service.NewDispatchService(jobRepo, workerRepo, policySvc, notifier, metricsSvc, logr)
	rescheduleSvc := service.NewRescheduleService(jobRepo, policySvc, notifier, nil, logr)

	var workerSvc *service.WorkerService
	if redisClient != nil && cfg.Cache.Enabled {
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		workerSvc = service.NewWorkerService(workerRepo, jobRepo, auditRepo, cacheRepo, nil, logr)
	} else {
		workerSvc = service.NewWorkerService(workerRepo, jobRepo, auditRepo, nil, nil, logr)
	}

	clientSvc := service.NewClientService(clientRepo, nil, logr)
	rosterSvc := service.NewRosterService(jobRepo, workerRepo, clientRepo, export.NewCSVExporter(), export.NewPDFExporter(), logr)
	authSvc := service.NewAuthService(accountRepo, auditRepo, nil, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	availabilityHandler := handler.NewAvailabilityHandler(availabilitySvc)
	bookingHandler := handler.NewBookingHandler(bookingSvc, rescheduleSvc)
	dispatchHandler := handler.NewDispatchHandler(dispatchSvc)
	workerHandler := handler.NewWorkerHandler(workerSvc)
	clientHandler := handler.NewClientHandler(clientSvc)
	settingsHandler := handler.NewSettingsHandler(policySvc)
	rosterHandler := handler.NewRosterHandler(rosterSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	api.POST("/auth/login", authHandler.Login)
	api.GET("/availability", availabilityHandler.Day)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))

	authed.GET("/auth/me", authHandler.Me)

	authed.POST("/bookings", middleware.RequireRoles(models.RoleOperator, models.RoleClient), bookingHandler.Create)
	authed.GET("/bookings", middleware.RequireRoles(models.RoleOperator, models.RoleClient), bookingHandler.List)
	authed.GET("/bookings/:id", bookingHandler.Get)
	authed.GET("/bookings/:id/eligibility", middleware.RequireRoles(models.RoleOperator, models.RoleClient), bookingHandler.Eligibility)
	authed.PUT("/bookings/:id/reschedule", middleware.RequireRoles(models.RoleOperator, models.RoleClient), bookingHandler.Reschedule)
	authed.POST("/bookings/:id/cancel", middleware.RequireRoles(models.RoleOperator, models.RoleClient), bookingHandler.Cancel)

	authed.GET("/dispatch/open", middleware.RequireRoles(models.RoleOperator, models.RoleWorker), dispatchHandler.ListOpen)
	authed.POST("/dispatch/:id/claim", middleware.RequireRoles(models.RoleOperator, models.RoleWorker), dispatchHandler.Claim)

	authed.GET("/workers", middleware.RequireRoles(models.RoleOperator), workerHandler.List)
	authed.POST("/workers", middleware.RequireRoles(models.RoleOperator), workerHandler.Create)
	authed.PUT("/workers/priorities", middleware.RequireRoles(models.RoleOperator), workerHandler.SetPriorities)
	authed.GET("/workers/:id", middleware.RBAC(string(models.RoleOperator), "SELF"), workerHandler.Get)
	authed.PUT("/workers/:id/schedule", middleware.RBAC(string(models.RoleOperator), "SELF"), workerHandler.UpdateSchedule)
	authed.DELETE("/workers/:id", middleware.RequireRoles(models.RoleOperator), workerHandler.Deactivate)
	authed.GET("/workers/:id/jobs", middleware.RBAC(string(models.RoleOperator), "SELF"), workerHandler.ListJobs)

	authed.GET("/clients", middleware.RequireRoles(models.RoleOperator), clientHandler.List)
	authed.POST("/clients", middleware.RequireRoles(models.RoleOperator), clientHandler.Create)
	authed.GET("/clients/:id", middleware.RBAC(string(models.RoleOperator), "SELF"), clientHandler.Get)

	authed.GET("/settings", middleware.RequireRoles(models.RoleOperator), settingsHandler.Get)
	authed.PUT("/settings", middleware.RequireRoles(models.RoleOperator), settingsHandler.Update)

	authed.GET("/roster/:date/export", middleware.RequireRoles(models.RoleOperator), rosterHandler.ExportDay)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
