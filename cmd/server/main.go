// Package main provides the API server entry point for the wearable sync service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wearable-sync/internal/adapter"
	"github.com/wearable-sync/internal/api"
	"github.com/wearable-sync/internal/config"
	"github.com/wearable-sync/internal/llm"
	"github.com/wearable-sync/internal/logging"
	"github.com/wearable-sync/internal/ratelimit"
	"github.com/wearable-sync/internal/scheduler"
	"github.com/wearable-sync/internal/service"
	"github.com/wearable-sync/internal/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	fmt.Println("Wearable Sync API Server")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logging
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Connect to Postgres
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatalf("Failed to connect to Postgres")
	}
	defer postgres.Close()

	// Connect to Redis
	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatalf("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	budget, err := newRequestBudget(cfg, redis)
	if err != nil {
		logger.WithError(err).Fatalf("Failed to create Terra request budget")
	}

	terra, err := adapter.NewTerraClient(&adapter.TerraConfig{
		BaseURL:           cfg.Terra.BaseURL,
		APIKey:            cfg.Terra.APIKey,
		DevID:             cfg.Terra.DevID,
		RequestsPerSecond: cfg.Terra.RequestsPerSecond,
		Timeout:           cfg.Terra.Timeout,
		Budget:            budget,
	})
	if err != nil {
		logger.WithError(err).Fatalf("Failed to create Terra client")
	}

	// Initialize repositories
	userRepo := storage.NewUserRepository(postgres)
	recordRepo := storage.NewWearableRecordRepository(postgres)
	alertRepo := storage.NewAlertRepository(postgres)
	planRepo := storage.NewPlanRepository(postgres)

	var notifier *storage.RedisNotifier
	if cfg.Notification.Enabled {
		notifier, err = storage.NewRedisNotifier(redis, cfg.Notification.Channel)
		if err != nil {
			logger.WithError(err).Fatalf("Failed to create notifier")
		}
	}

	// Initialize services
	processingCfg := service.ProcessingConfig{NotificationsEnabled: cfg.Notification.Enabled}
	schedulerCfg := &scheduler.Config{
		DataSource:           terra,
		Users:                userRepo,
		Records:              recordRepo,
		DefaultInterval:      cfg.Scheduler.DefaultInterval,
		BatchSize:            cfg.Scheduler.BatchSize,
		UserDelay:            cfg.Scheduler.UserDelay,
		LookbackDays:         cfg.Scheduler.LookbackDays,
		MaxRetries:           cfg.Scheduler.MaxRetries,
		RetryBaseDelay:       cfg.Scheduler.RetryBaseDelay,
		NextFetchOffset:      cfg.Scheduler.NextFetchOffset,
		NotificationsEnabled: cfg.Notification.Enabled,
	}
	if notifier != nil {
		schedulerCfg.Processor = service.NewProcessingService(recordRepo, alertRepo, notifier, processingCfg)
		schedulerCfg.Notifier = notifier
	} else {
		schedulerCfg.Processor = service.NewProcessingService(recordRepo, alertRepo, nil, processingCfg)
	}

	sched, err := scheduler.New(schedulerCfg)
	if err != nil {
		logger.WithError(err).Fatalf("Failed to create scheduler")
	}

	var completion service.CompletionClient
	openaiClient, err := llm.NewOpenAIClient(&llm.OpenAIConfig{
		APIKey:  cfg.OpenAI.APIKey,
		Model:   cfg.OpenAI.Model,
		Timeout: cfg.OpenAI.Timeout,
	})
	switch {
	case err == nil:
		completion = openaiClient
	case errors.Is(err, llm.ErrAPIKeyNotSet):
		logger.Warn("OPENAI_API_KEY not set, performance plans disabled")
	default:
		logger.WithError(err).Fatalf("Failed to create OpenAI client")
	}
	planService := service.NewPerformancePlanService(userRepo, recordRepo, planRepo, redis, completion)

	initResult, err := sched.Init(context.Background(), scheduler.InitOptions{
		StartScheduler: cfg.Scheduler.Enabled,
		InitialFetch:   cfg.Scheduler.InitialFetch,
	})
	if err != nil {
		logger.WithError(err).Fatalf("Failed to initialize scheduler")
	}
	logger.WithFields(map[string]interface{}{
		"activeJobs": len(initResult.ActiveJobs),
		"interval":   initResult.Scheduler.DefaultInterval,
	}).Info("Scheduler started")

	deps := api.Dependencies{
		Scheduler: sched,
		Users:     userRepo,
		Alerts:    alertRepo,
		Plans:     planService,
		Health: map[string]api.HealthChecker{
			"postgres": postgres,
			"redis":    redis,
		},
	}
	if notifier != nil {
		deps.Notifications = notifier
	}

	server := api.NewServer(&api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}, deps)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatalf("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if err := sched.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Scheduler did not stop cleanly")
	}

	logger.Info("Server exited")
}

// newRequestBudget returns the shared Terra budget, or nil when it is disabled
func newRequestBudget(cfg *config.Config, cache *storage.RedisCache) (adapter.RequestBudget, error) {
	if cfg.Terra.BudgetPerMinute <= 0 {
		return nil, nil
	}
	budget, err := ratelimit.NewRequestBudget(&ratelimit.BudgetConfig{
		Redis:          cache.Client(),
		TotalBudget:    cfg.Terra.BudgetPerMinute,
		ReservedBudget: cfg.Terra.ReservedBudget,
		WindowSize:     time.Minute,
	})
	if err != nil {
		return nil, err
	}
	return budget, nil
}
