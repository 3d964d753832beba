package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/tutoring-api/api/swagger"
	"github.com/noah-isme/tutoring-api/internal/handler"
	"github.com/noah-isme/tutoring-api/internal/middleware"
	"github.com/noah-isme/tutoring-api/internal/models"
	"github.com/noah-isme/tutoring-api/internal/repository"
	"github.com/noah-isme/tutoring-api/internal/service"
	"github.com/noah-isme/tutoring-api/pkg/cache"
	"github.com/noah-isme/tutoring-api/pkg/config"
	"github.com/noah-isme/tutoring-api/pkg/database"
	"github.com/noah-isme/tutoring-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/tutoring-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/tutoring-api/pkg/middleware/requestid"
)

// @title Tutoring API
// @version 0.1.0
// @description Scheduling and lifecycle engine for tutoring meetings
// @BasePath /
// @schemes http

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

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	// Redis is optional; the upcoming-meetings cache degrades to a no-op
	// when the connection is unavailable.
	var cacheSvc *service.CacheService
	if cfg.Cache.Enabled {
		redisClient, redisErr := cache.NewRedis(cfg.Redis)
		if redisErr != nil {
			logr.Sugar().Warnw("redis unavailable, caching disabled", "error", redisErr)
		} else {
			defer redisClient.Close()
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, true)
		}
	}

	meetingRepo := repository.NewMeetingRepository(db)
	feedbackRepo := repository.NewFeedbackRepository(db)
	progressRepo := repository.NewProgressRepository(db)
	userRepo := repository.NewUserRepository(db)

	notificationSvc := service.NewNotificationService(service.NewLogSink(logr), metricsSvc, logr, service.NotificationConfig{
		Enabled:    cfg.Notifications.Enabled,
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
	})
	notificationSvc.Start(context.Background())
	defer notificationSvc.Stop()

	windows := models.TimeWindows{
		DefaultDuration: cfg.Meetings.DefaultDuration,
		CancelLock:      cfg.Meetings.CancelLock,
		JoinOpensBefore: cfg.Meetings.JoinOpensBefore,
		JoinClosesAfter: cfg.Meetings.JoinClosesAfter,
		UpcomingGrace:   cfg.Meetings.UpcomingGrace,
	}

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	meetingSvc := service.NewMeetingService(meetingRepo, notificationSvc, cacheSvc, metricsSvc, windows, validate, logr)
	ratingSvc := service.NewRatingService(meetingRepo, feedbackRepo, validate, logr)
	progressSvc := service.NewProgressService(progressRepo, meetingRepo, notificationSvc, validate, logr)
	exportSvc := service.NewExportService(meetingRepo, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	meetingHandler := handler.NewMeetingHandler(meetingSvc)
	ratingHandler := handler.NewRatingHandler(ratingSvc)
	progressHandler := handler.NewProgressHandler(progressSvc)
	exportHandler := handler.NewExportHandler(exportSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))
	{
		meetings := authed.Group("/meetings")
		meetings.GET("", meetingHandler.List)
		meetings.GET("/upcoming", meetingHandler.ListUpcoming)
		meetings.GET("/:id", meetingHandler.Get)
		meetings.POST("", middleware.RequireRoles(models.RoleTutor, models.RoleManager), meetingHandler.CreateSlot)
		meetings.POST("/:id/register", middleware.RequireRoles(models.RoleStudent), meetingHandler.Register)
		meetings.POST("/:id/start", middleware.RequireRoles(models.RoleTutor, models.RoleManager), meetingHandler.Start)
		meetings.POST("/:id/finish", middleware.RequireRoles(models.RoleTutor, models.RoleManager), meetingHandler.Finish)
		meetings.POST("/:id/cancel", meetingHandler.Cancel)
		meetings.POST("/:id/withdraw", middleware.RequireRoles(models.RoleStudent), meetingHandler.Withdraw)
		meetings.PUT("/:id/reschedule", middleware.RequireRoles(models.RoleTutor, models.RoleManager), meetingHandler.Reschedule)
		meetings.POST("/:id/join", meetingHandler.Join)
		meetings.POST("/:id/rating", middleware.RequireRoles(models.RoleStudent), ratingHandler.Submit)
		meetings.POST("/:id/progress", middleware.RequireRoles(models.RoleTutor, models.RoleManager), progressHandler.Record)

		authed.GET("/students/:id/progress", progressHandler.ListByStudent)

		if cfg.Exports.Enabled {
			authed.GET("/tutors/:id/schedule/export", middleware.RequireRoles(models.RoleTutor, models.RoleManager), exportHandler.TutorSchedule)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
