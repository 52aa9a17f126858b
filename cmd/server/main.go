package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/fixlyapp/fixly/internal/config"
	"github.com/fixlyapp/fixly/internal/handler"
	"github.com/fixlyapp/fixly/internal/middleware"
	"github.com/fixlyapp/fixly/internal/model"
	"github.com/fixlyapp/fixly/internal/notification"
	"github.com/fixlyapp/fixly/internal/presence"
	"github.com/fixlyapp/fixly/internal/ratelimit"
	"github.com/fixlyapp/fixly/internal/repository"
	"github.com/fixlyapp/fixly/internal/router"
	"github.com/fixlyapp/fixly/internal/session"
	"github.com/fixlyapp/fixly/internal/ws"
	"github.com/fixlyapp/fixly/migrations"
	"github.com/fixlyapp/fixly/pkg/auth"
	"github.com/fixlyapp/fixly/pkg/mailer"
	"github.com/fixlyapp/fixly/pkg/push"
	"github.com/fixlyapp/fixly/pkg/sms"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// @title           Fixly Realtime API
// @version         1.0
// @description     Realtime presence and notification core for the Fixly service marketplace. WebSocket gateway, presence engine, multi-channel notification pipeline.
// @termsOfService  http://swagger.io/terms/

// @contact.name   API Support
// @contact.email  support@fixly.local

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      api.localhost
// @BasePath  /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	// ==================== Load Config ====================
	cfg := config.Load()
	log.Printf("🚀 Starting Fixly Realtime Server [env=%s]", cfg.App.Env)

	// ==================== Database (PostgreSQL) ====================
	gormLogger := logger.Default.LogMode(logger.Info)
	if cfg.App.Env == "production" {
		gormLogger = logger.Default.LogMode(logger.Warn)
	}

	db, err := gorm.Open(postgres.Open(cfg.DB.DSN()), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	log.Println("✅ Connected to PostgreSQL")

	// ==================== Run Migrations ====================
	if err := migrations.Run(cfg.DB.URL()); err != nil {
		log.Printf("⚠️  Migration warning: %v", err)
		log.Println("📦 Falling back to GORM AutoMigrate...")
		// Fallback to AutoMigrate if migration files fail
		if err := db.AutoMigrate(
			&model.Notification{},
			&model.NotificationDelivery{},
			&model.NotificationPreference{},
			&model.PushToken{},
			&model.UserPresence{},
		); err != nil {
			log.Fatalf("❌ Failed to migrate database: %v", err)
		}
	}
	log.Println("✅ Database migrated successfully")

	// ==================== Redis ====================
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       0,
	})

	ctx := context.Background()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	log.Println("✅ Connected to Redis")

	// ==================== Task Queue (asynq) ====================
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
	}
	queueClient := asynq.NewClient(redisOpt)
	defer queueClient.Close()
	inspector := asynq.NewInspector(redisOpt)
	log.Println("✅ Task queue client ready")

	// ==================== Delivery Channels ====================
	mailClient := mailer.New(mailer.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
	})
	log.Printf("📧 SMTP configured: %s:%s", cfg.SMTP.Host, cfg.SMTP.Port)

	pushSender, err := push.NewSender(cfg.FCM.CredentialsFile)
	if err != nil {
		log.Printf("⚠️  FCM not available: %v (push channel disabled)", err)
	}
	smsSender := sms.NewSender(sms.Config{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		FromNumber: cfg.Twilio.FromNumber,
	})

	// ==================== Initialize Layers ====================
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiry)

	// Repositories
	notifRepo := repository.NewNotificationRepository(db)
	prefRepo := repository.NewPreferenceRepository(db)
	presenceRepo := repository.NewPresenceRepository(db)

	// Session registry and rate limiter live in Redis
	sessions := session.NewRegistry(rdb, cfg.Presence.SessionTTL)
	limiter := ratelimit.NewLimiter(rdb, cfg.RateLimit)

	// WebSocket Hub (with Redis Pub/Sub for horizontal scaling). The
	// disconnect callback closes over wsHandler, which is assigned below
	// before any socket can drop.
	var wsHandler *handler.WSHandler
	hub := ws.NewHub(rdb, func(client *ws.Client) {
		wsHandler.OnDisconnect(client)
	})

	// Presence engine
	engine := presence.NewEngine(sessions, rdb, presenceRepo, hub, cfg.Presence)

	// Notification pipeline: the server only produces; delivery attempts
	// run in the worker process
	adapters := []notification.Adapter{
		notification.NewInAppAdapter(hub),
		notification.NewPushAdapter(pushSender, prefRepo),
		notification.NewEmailAdapter(mailClient, prefRepo),
		notification.NewSMSAdapter(smsSender, prefRepo),
	}
	notifService := notification.NewService(notifRepo, prefRepo, queueClient, adapters, cfg.Queue)

	// Event router for WebSocket frames
	events := router.New()
	handler.NewPresenceEvents(engine).Register(events)
	handler.NewNotificationEvents(notifService).Register(events)

	// Handlers
	wsHandler = handler.NewWSHandler(hub, jwtManager, sessions, engine, limiter, events)
	notifHandler := handler.NewNotificationHandler(notifService)
	opsHandler := handler.NewOpsHandler(inspector, db, rdb, hub, notifService, cfg.Queue)

	// Start hub and presence fan-out loops
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	go hub.Run(runCtx)
	go engine.Run(runCtx)

	// ==================== Gin Router ====================
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ginRouter := gin.Default()

	// Swagger configuration
	// Serve swagger.json at /docs/swagger.json to avoid conflict with /swagger/* wildcard
	ginRouter.StaticFile("/docs/swagger.json", "./docs/swagger.json")

	url := ginSwagger.URL("/docs/swagger.json")
	ginRouter.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, url))

	// Global middleware
	ginRouter.Use(middleware.CORSMiddleware(cfg.CORS.Origins))

	// Health check
	ginRouter.GET("/health", opsHandler.Health)

	// ==================== API Routes ====================
	api := ginRouter.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(jwtManager, rdb))
	{
		// Notifications
		api.POST("/notifications", notifHandler.Create)
		api.GET("/notifications", notifHandler.List)
		api.GET("/notifications/preferences", notifHandler.GetPreferences)
		api.PUT("/notifications/preferences", notifHandler.UpdatePreferences)
		api.POST("/notifications/push-tokens", notifHandler.RegisterPushToken)
		api.DELETE("/notifications/push-tokens/:token", notifHandler.RemovePushToken)
		api.GET("/notifications/:id", notifHandler.Get)
		api.POST("/notifications/:id/read", notifHandler.MarkRead)

		// Ops
		api.GET("/ops/queues", opsHandler.GetQueues)
		api.POST("/ops/queues/cleanup-stalled", opsHandler.CleanupStalled)
		api.POST("/ops/queues/:name/retry", opsHandler.RetryFailed)
	}

	// WebSocket endpoint (auth via query parameter)
	ginRouter.GET("/ws", wsHandler.HandleWebSocket)

	// ==================== Start Server ====================
	srv := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: ginRouter,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed: %v", err)
		}
	}()

	log.Printf("🌐 Fixly Realtime API running on http://0.0.0.0:%s", cfg.App.Port)
	log.Printf("📋 API docs: http://0.0.0.0:%s/swagger/index.html", cfg.App.Port)
	log.Printf("🔌 WebSocket: ws://0.0.0.0:%s/ws?token=<jwt>", cfg.App.Port)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("🛑 Shutting down server...")

	// Give ongoing requests 5 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("❌ Server forced to shutdown: %v", err)
	}

	runCancel()
	log.Println("✅ Server exited gracefully")
}
