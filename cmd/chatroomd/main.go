package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/fitlane/chatroom"
	"github.com/fitlane/chatroom/internal/config"
	"github.com/fitlane/chatroom/pkg/events"
	"github.com/fitlane/chatroom/pkg/notify"
	"github.com/fitlane/chatroom/pkg/repository"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Connect to database
	db, err := repository.NewDB(repository.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("connected to database")

	// Connect to Redis if configured
	var redisClient *redis.Client
	if cfg.HasRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		logger.Info("connected to redis")
	} else {
		logger.Warn("redis not configured; lock and cache are in-process (single replica only)")
	}

	engineCfg := chatroom.Config{
		DB:            db,
		JWTSecret:     cfg.JWTSecret,
		JWTIssuer:     cfg.JWTIssuer,
		WebhookSecret: cfg.WebhookSecret,
		Provider: chatroom.ProviderConfig{
			BaseURL:    cfg.ProviderBaseURL,
			APIKey:     cfg.ProviderAPIKey,
			APISecret:  cfg.ProviderAPISecret,
			Timeout:    cfg.ProviderTimeout,
			MaxRetries: cfg.ProviderMaxRetries,
		},
		Redis:              redisClient,
		LockTTL:            cfg.LockTTL,
		LockWait:           cfg.LockWait,
		RoomCacheTTL:       cfg.RoomCacheTTL,
		RateLimit:          cfg.RateLimit,
		MaxRequestBodySize: cfg.Validation.MaxRequestBodySize,
		Logger:             logger,
	}

	// Wire collaborating services if configured
	if cfg.HasEventsService() {
		engineCfg.Events = events.NewClient(events.Config{
			BaseURL: cfg.EventsBaseURL,
			APIKey:  cfg.EventsAPIKey,
		})
		logger.Info("event registration service enabled")
	}
	if cfg.HasNotifyService() {
		engineCfg.Notifier = notify.NewClient(notify.Config{
			BaseURL: cfg.NotifyBaseURL,
			APIKey:  cfg.NotifyAPIKey,
		})
		logger.Info("push notification service enabled")
	}

	engine, err := chatroom.New(engineCfg)
	if err != nil {
		logger.Error("failed to initialize engine", "error", err)
		os.Exit(1)
	}

	// Background reconciliation audit loop (classification only; repairs
	// stay operator-driven)
	auditCtx, stopAudit := context.WithCancel(context.Background())
	defer stopAudit()
	if cfg.AuditInterval > 0 {
		go runAuditLoop(auditCtx, engine, cfg.AuditInterval, logger)
		logger.Info("reconciliation audit loop enabled", "interval", cfg.AuditInterval)
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      engine.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	stopAudit()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

// runAuditLoop periodically audits local state against the provider and
// logs the findings.
func runAuditLoop(ctx context.Context, engine *chatroom.Engine, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := engine.Auditor().Audit(ctx, nil)
			if err != nil {
				logger.Error("scheduled audit failed", "error", err)
				continue
			}
			if report.Empty() {
				logger.Info("scheduled audit clean")
				continue
			}
			logger.Warn("scheduled audit found drift",
				"orphaned_remote", len(report.OrphanedRemote),
				"orphaned_local", len(report.OrphanedLocal),
				"namespace_mismatch", len(report.NamespaceMismatch),
				"membership_mismatch", len(report.MembershipMismatch),
				"broadcast_drift", len(report.BroadcastDrift),
			)
		}
	}
}
