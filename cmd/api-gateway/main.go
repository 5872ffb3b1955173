package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/tahfiz-app/tahfiz-api/api/swagger"
	"github.com/tahfiz-app/tahfiz-api/internal/handler"
	"github.com/tahfiz-app/tahfiz-api/internal/middleware"
	"github.com/tahfiz-app/tahfiz-api/internal/models"
	"github.com/tahfiz-app/tahfiz-api/internal/repository"
	"github.com/tahfiz-app/tahfiz-api/internal/service"
	"github.com/tahfiz-app/tahfiz-api/pkg/cache"
	"github.com/tahfiz-app/tahfiz-api/pkg/config"
	"github.com/tahfiz-app/tahfiz-api/pkg/database"
	"github.com/tahfiz-app/tahfiz-api/pkg/feed"
	"github.com/tahfiz-app/tahfiz-api/pkg/logger"
	corsmiddleware "github.com/tahfiz-app/tahfiz-api/pkg/middleware/cors"
	reqidmiddleware "github.com/tahfiz-app/tahfiz-api/pkg/middleware/requestid"
)

// @title Tahfiz Core API
// @version 0.1.0
// @description Assignment lifecycle and highlight synchronization core
// @BasePath /api/v1
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

	broker := feed.NewBroker(feed.BrokerConfig{
		SubscriberBuffer: cfg.Feed.SubscriberBuffer,
		Logger:           logr,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var publisher feed.Publisher = broker
	if cfg.Feed.RelayEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Fatalw("failed to connect to redis", "error", err)
		}
		defer redisClient.Close()

		relay := feed.NewRelay(broker, redisClient, feed.RelayConfig{
			ChannelPrefix: cfg.Feed.RelayChannelPrefix,
			Workers:       cfg.Feed.RelayWorkers,
			Logger:        logr,
		})
		relay.Start(ctx)
		defer relay.Stop()
		publisher = relay
	}

	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(cfg.JWT)

	highlightRepo := repository.NewHighlightRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	linkRepo := repository.NewAssignmentHighlightRepository(db)

	highlightSvc := service.NewHighlightService(highlightRepo, publisher, metricsSvc, logr)
	lifecycleSvc := service.NewLifecycleService(assignmentRepo, linkRepo, highlightRepo, publisher, metricsSvc, logr,
		service.WithLockTimeout(cfg.Engine.LockTimeout))

	highlightHandler := handler.NewHighlightHandler(highlightSvc)
	assignmentHandler := handler.NewAssignmentHandler(lifecycleSvc)
	feedHandler := handler.NewFeedHandler(broker, metricsSvc)

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
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(authSvc))

	staffOnly := middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin, models.RoleSuperAdmin)

	highlights := api.Group("/highlights")
	{
		highlights.GET("", highlightHandler.List)
		highlights.GET("/:id", highlightHandler.Get)
		highlights.POST("", staffOnly, highlightHandler.Create)
		highlights.PATCH("/:id", staffOnly, highlightHandler.Update)
		highlights.DELETE("/:id", staffOnly, highlightHandler.Delete)
	}

	assignments := api.Group("/assignments")
	{
		assignments.POST("", staffOnly, assignmentHandler.Create)
		assignments.GET("/:id", assignmentHandler.Get)
		assignments.DELETE("/:id", staffOnly, assignmentHandler.Delete)
		assignments.POST("/:id/transition", assignmentHandler.Transition)
		assignments.GET("/:id/highlights", assignmentHandler.ListHighlights)
		assignments.POST("/:id/highlights", staffOnly, assignmentHandler.LinkHighlights)
		assignments.PUT("/:id/complete", staffOnly, assignmentHandler.Complete)
		assignments.POST("/:id/reopen", staffOnly, assignmentHandler.Reopen)
		assignments.POST("/:id/highlights/revert", staffOnly, assignmentHandler.RevertHighlights)
		assignments.GET("/:id/events", assignmentHandler.ListEvents)
		assignments.GET("/:id/events/export", staffOnly, assignmentHandler.ExportEvents)
	}

	api.GET("/feed", feedHandler.Stream)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
