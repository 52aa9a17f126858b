package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/fixlyapp/fixly/internal/config"
	"github.com/fixlyapp/fixly/internal/notification"
	"github.com/fixlyapp/fixly/internal/presence"
	"github.com/fixlyapp/fixly/internal/repository"
	"github.com/fixlyapp/fixly/internal/session"
	"github.com/fixlyapp/fixly/internal/ws"
	"github.com/fixlyapp/fixly/pkg/mailer"
	"github.com/fixlyapp/fixly/pkg/push"
	"github.com/fixlyapp/fixly/pkg/sms"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	// ==================== Load Config ====================
	cfg := config.Load()
	log.Printf("🚀 Starting Fixly Delivery Worker [env=%s]", cfg.App.Env)

	// ==================== Database (PostgreSQL) ====================
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	log.Println("✅ Connected to PostgreSQL")

	// ==================== Redis ====================
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	log.Println("✅ Connected to Redis")

	// ==================== Delivery Channels ====================
	mailClient := mailer.New(mailer.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
	})
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
	notifRepo := repository.NewNotificationRepository(db)
	prefRepo := repository.NewPreferenceRepository(db)
	presenceRepo := repository.NewPresenceRepository(db)

	// The worker holds no sockets; its hub only publishes pushes to Redis
	// so whichever API instance owns the target sockets delivers them
	hub := ws.NewHub(rdb, nil)

	sessions := session.NewRegistry(rdb, cfg.Presence.SessionTTL)
	engine := presence.NewEngine(sessions, rdb, presenceRepo, hub, cfg.Presence)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
	}
	queueClient := asynq.NewClient(redisOpt)
	defer queueClient.Close()

	adapters := []notification.Adapter{
		notification.NewInAppAdapter(hub),
		notification.NewPushAdapter(pushSender, prefRepo),
		notification.NewEmailAdapter(mailClient, prefRepo),
		notification.NewSMSAdapter(smsSender, prefRepo),
	}
	notifService := notification.NewService(notifRepo, prefRepo, queueClient, adapters, cfg.Queue)
	mux := notifService.Mux()

	// ==================== Queue Servers ====================
	// Delivery server: weighted queues so urgent notifications cut the line
	deliverySrv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:    cfg.Queue.DeliveryConcurrency,
		Queues:         notification.DeliveryQueues,
		RetryDelayFunc: notification.RetryDelay(cfg.Queue),
	})

	// Cleanup server: single worker so bulk deletes never run concurrently
	cleanupSrv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Queue.CleanupConcurrency,
		Queues:      map[string]int{notification.QueueCleanup: 1},
	})

	// Nightly retention cleanup; the handler derives the cutoff at run time
	scheduler := asynq.NewScheduler(redisOpt, nil)
	cleanupTask, cleanupOpts, err := notification.NewCleanupTask(time.Time{}, 0)
	if err != nil {
		log.Fatalf("❌ Failed to build cleanup task: %v", err)
	}
	if _, err := scheduler.Register("0 3 * * *", cleanupTask, cleanupOpts...); err != nil {
		log.Fatalf("❌ Failed to register cleanup schedule: %v", err)
	}

	// ==================== Run ====================
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	go engine.Run(runCtx)
	go engine.RunSweeper(runCtx)
	log.Printf("🧭 Presence sweeper running every %s", cfg.Presence.SweepInterval)

	if err := deliverySrv.Start(mux); err != nil {
		log.Fatalf("❌ Delivery server failed to start: %v", err)
	}
	if err := cleanupSrv.Start(mux); err != nil {
		log.Fatalf("❌ Cleanup server failed to start: %v", err)
	}
	if err := scheduler.Start(); err != nil {
		log.Fatalf("❌ Scheduler failed to start: %v", err)
	}
	log.Printf("📬 Delivery worker running [concurrency=%d]", cfg.Queue.DeliveryConcurrency)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("🛑 Shutting down worker...")

	scheduler.Shutdown()
	deliverySrv.Shutdown()
	cleanupSrv.Shutdown()
	runCancel()
	log.Println("✅ Worker exited gracefully")
}
