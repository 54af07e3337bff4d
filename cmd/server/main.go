// Package main runs the tutoring platform HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/prepskul/backend/config"
	"github.com/prepskul/backend/internal/agora"
	"github.com/prepskul/backend/internal/auth"
	"github.com/prepskul/backend/internal/middleware"
	"github.com/prepskul/backend/internal/notifications"
	"github.com/prepskul/backend/internal/recording"
	"github.com/prepskul/backend/internal/sessions"
	"github.com/prepskul/backend/internal/worker"
	"github.com/prepskul/backend/pkg/database"
	"github.com/prepskul/backend/pkg/queue"
	"github.com/prepskul/backend/pkg/redis"
	"github.com/prepskul/backend/pkg/response"
	"github.com/prepskul/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.RecordingsBucket != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			RecordingsBucket:     cfg.AWS.RecordingsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Sessions
	sessionRepo := sessions.NewRepository(pool)
	sessionHandler := sessions.NewHandler(sessionRepo, s3Client, logger)

	// Recording lifecycle (Agora cloud recording)
	recorder := agora.NewClient(agora.Config{
		AppID:          cfg.Agora.AppID,
		CustomerKey:    cfg.Agora.CustomerKey,
		CustomerSecret: cfg.Agora.CustomerSecret,
		BaseURL:        cfg.Agora.BaseURL,
		RecorderUID:    cfg.Agora.RecorderUID,
		Storage: agora.StorageConfig{
			Vendor:    cfg.Agora.StorageVendor,
			Region:    cfg.Agora.StorageRegion,
			Bucket:    cfg.AWS.RecordingsBucket,
			AccessKey: cfg.AWS.AccessKeyID,
			SecretKey: cfg.AWS.SecretAccessKey,
		},
	}, logger)
	startLock := recording.NewRedisLock(rdb.Client)
	recordingHandler := recording.NewHandler(sessionRepo, recorder, startLock, logger)

	// Jobs: recording transfers and push notification relay
	jobQueue := queue.NewQueue(rdb.Client, logger)
	recordingWebhook := recording.NewWebhookHandler(sessionRepo, jobQueue, logger)
	notificationHandler := notifications.NewHandler(jobQueue, logger)
	fcmClient := notifications.NewFCMClient(cfg.FCM.ServerKey, cfg.FCM.Endpoint, logger)
	processor := worker.NewProcessor(sessionRepo, s3Client, fcmClient, jobQueue, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Recording lifecycle
		api.POST("/recording/start", recordingHandler.Start)
		api.POST("/recording/stop", recordingHandler.Stop)
		api.GET("/recording/status", recordingHandler.Status)

		// Sessions
		api.GET("/sessions/:id", sessionHandler.GetByID)
		api.GET("/sessions/:id/recording/download-url", sessionHandler.GetRecordingDownloadURL)

		// Push notification relay
		api.POST("/notifications/send", notificationHandler.Send)
	}

	// Webhooks (no JWT; provider-called)
	router.POST("/webhooks/recording-events", recordingWebhook.Events)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (recording transfers, push delivery)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go processor.Run(workerCtx)
	logger.Info("job worker started")

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
