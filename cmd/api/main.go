package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/coherence-signal/backend/internal/api/handlers"
	cache "github.com/coherence-signal/backend/internal/cache/redis"
	"github.com/coherence-signal/backend/internal/metrics"
	"github.com/coherence-signal/backend/internal/middleware/ratelimit"
	"github.com/coherence-signal/backend/internal/middleware/security"
	"github.com/coherence-signal/backend/internal/middleware/validation"
	"github.com/coherence-signal/backend/internal/reconciler"
	"github.com/coherence-signal/backend/internal/storage/sqlite"
	"github.com/coherence-signal/backend/pkg/config"
	"github.com/coherence-signal/backend/pkg/crypto"
	appLogger "github.com/coherence-signal/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Coherence Signal API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	fieldCipher, err := crypto.NewFieldCipher(cfg.Encryption.FieldKey)
	if err != nil {
		appLogger.Fatal("Failed to initialize field encryption", zap.Error(err))
	}

	var cacheClient *cache.Client
	if cfg.Redis.Enabled {
		cacheClient, err = cache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Failed to create Redis client, caching disabled", zap.Error(err))
			cacheClient = nil
		} else {
			defer cacheClient.Close()
		}
	}

	rec := reconciler.New(sqliteClient, time.Duration(cfg.Coherence.LockTimeoutSec)*time.Second)

	userHandler := handlers.NewUserHandler(sqliteClient, fieldCipher)
	signalHandler := handlers.NewSignalHandler(sqliteClient, cacheClient)
	conversationHandler := handlers.NewConversationHandler(
		sqliteClient,
		rec,
		cacheClient,
		cfg.Coherence.DefaultWindowSize,
		time.Duration(cfg.Coherence.CacheTTLSec)*time.Second,
	)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	rateLimiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
		Logger:               appLogger.Log,
	})
	defer rateLimiter.Stop()

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PATCH, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))
	app.Use(rateLimiter.Middleware())
	app.Use(validation.Middleware(validation.Config{
		MaxSignalsPerBatch: cfg.Coherence.MaxSignalsPerBatch,
		Logger:             appLogger.Log,
	}))

	api := app.Group("/api/v1")

	api.Post("/users", userHandler.CreateUser)
	api.Get("/users/:id", userHandler.GetUser)
	api.Patch("/users/:id", userHandler.UpdateUser)
	api.Delete("/users/:id", userHandler.DeleteUser)
	api.Get("/users/:id/conversations", userHandler.GetUserConversations)

	api.Post("/conversations", conversationHandler.CreateConversation)
	api.Get("/conversations/:id", conversationHandler.GetConversation)
	api.Patch("/conversations/:id", conversationHandler.UpdateConversation)
	api.Get("/conversations/:id/coherence", conversationHandler.GetCoherence)

	api.Get("/signals", signalHandler.ListSignals)
	api.Post("/signals", signalHandler.CreateSignal)
	api.Post("/signals/batch", signalHandler.CreateSignalsBatch)
	api.Get("/signals/:id", signalHandler.GetSignal)
	api.Get("/signals/conversation/:id", signalHandler.GetSignalsByConversation)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
