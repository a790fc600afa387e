package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/tas-llm-gateway/auth"
	"github.com/tas-llm-gateway/config"
	"github.com/tas-llm-gateway/handlers"
	"github.com/tas-llm-gateway/services"
	"github.com/tas-llm-gateway/services/gpuqueue"
	"github.com/tas-llm-gateway/services/impl"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := newLogger(cfg.Logging)

	doc, err := config.LoadRouterDocument(cfg.Routing.DocumentPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load routing document")
	}

	// Redis backs both GPU admission and the classifier cache. When it is
	// not configured or unreachable, both degrade rather than fail.
	var redisClient *redis.Client
	if cfg.GpuQueue.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.GpuQueue.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("Invalid REDIS_URL, continuing without Redis")
		} else {
			redisClient = redis.NewClient(opt)
		}
	}

	registry := impl.NewRegistryService(doc, cfg.Models)

	openAI := impl.NewOpenAIInvoker(cfg.OpenAI, doc.SLA.CloudFallbackEnabled(), logger)
	if cfg.OpenAI.HasKey() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := openAI.ValidateAuth(ctx); err != nil {
				logger.WithError(err).Warn("OpenAI auth validation failed")
			}
		}()
	}

	ollama := impl.NewOllamaInvoker(cfg.Ollama, logger)
	invoker := impl.NewCompositeInvoker(ollama, openAI)

	gpu := gpuqueue.NewQueue(redisClient, cfg.GpuQueue.MaxWorkers,
		time.Duration(cfg.GpuQueue.TimeoutSec)*time.Second, logger)
	cache := impl.NewTTLCacheService(redisClient, logger)

	classifier := impl.NewClassifierService(doc, openAI, invoker, cache, logger)
	selector := impl.NewSelectorService(doc, registry, logger)
	cost := impl.NewCostService(cfg.Cost, registry)
	cascade := impl.NewCascadeService(invoker, cost, gpu, cfg.Routing, doc.SLA, logger)
	telemetry := impl.NewTelemetryService(logger, prometheus.DefaultRegisterer, gpu)

	var usageStore services.UsageStore
	if cfg.Database.Enabled() {
		store, err := impl.NewUsageStore(cfg.Database.URL, logger)
		if err != nil {
			logger.WithError(err).Warn("Usage persistence disabled: database unreachable")
		} else {
			usageStore = store
		}
	}

	gateway := impl.NewGatewayService(classifier, selector, cascade, openAI, telemetry, usageStore, logger)

	chatHandlers := handlers.NewChatHandlers(gateway, registry, logger)
	routeHandlers := handlers.NewRouteHandlers(gateway, registry, gpu, openAI, usageStore, cfg, logger)
	actionHandlers := handlers.NewActionHandlers(gateway, registry, invoker, logger)
	guard := auth.NewGuard(cfg.Auth, logger)

	router := setupRouter(chatHandlers, routeHandlers, actionHandlers, guard, cfg)

	srv := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"addr":            cfg.GetServerAddress(),
			"models":          len(registry.All()),
			"gpu_queue":       gpu.Enabled(),
			"cloud_available": openAI.CloudAvailable(),
			"auth_open":       guard.Open(),
		}).Info("LLM gateway starting")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}
	if usageStore != nil {
		usageStore.Close()
	}
	logger.Info("Server exited")
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

func setupRouter(
	chatHandlers *handlers.ChatHandlers,
	routeHandlers *handlers.RouteHandlers,
	actionHandlers *handlers.ActionHandlers,
	guard *auth.Guard,
	cfg *config.Config,
) *gin.Engine {
	// Set gin mode based on environment
	if os.Getenv("ENVIRONMENT") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// CORS middleware
	corsConfig := cors.DefaultConfig()
	if len(cfg.Server.CORSAllowOrigins) == 1 && cfg.Server.CORSAllowOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.Server.CORSAllowOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "HEAD", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-API-Key", "Accept"}
	router.Use(cors.New(corsConfig))

	// Public endpoints: liveness, the model listing CLIs poll before
	// authenticating, and Prometheus scrapes.
	router.GET("/healthz", routeHandlers.Healthz)
	router.HEAD("/healthz", routeHandlers.Healthz)
	router.GET("/v1/models", chatHandlers.ListModels)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Everything else sits behind the API key guard.
	protected := router.Group("")
	protected.Use(guard.Middleware())
	{
		protected.POST("/v1/chat/completions", chatHandlers.ChatCompletions)
		protected.POST("/v1/responses", chatHandlers.Responses)

		protected.POST("/route", routeHandlers.Route)
		protected.POST("/debug/router_decision", routeHandlers.DebugDecision)
		protected.GET("/debug/where", routeHandlers.DebugWhere)
		protected.GET("/gpu/queue", routeHandlers.GpuQueue)
		protected.GET("/v1/usage/stats", routeHandlers.UsageStats)

		protected.POST("/actions/smoke", actionHandlers.Smoke)
		protected.POST("/actions/test", actionHandlers.TestModel)
	}

	return router
}
