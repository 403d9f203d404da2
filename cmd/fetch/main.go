// Package main provides a one-shot CLI that fetches wearable data for one
// user or for every eligible user, without starting the job runner.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/wearable-sync/internal/adapter"
	"github.com/wearable-sync/internal/config"
	"github.com/wearable-sync/internal/logging"
	"github.com/wearable-sync/internal/ratelimit"
	"github.com/wearable-sync/internal/scheduler"
	"github.com/wearable-sync/internal/service"
	"github.com/wearable-sync/internal/storage"
	"github.com/wearable-sync/internal/types"
)

func main() {
	var (
		userID    = flag.String("user", "", "Fetch a single user by id; empty fetches every eligible user")
		batchSize = flag.Int("batch-size", 0, "Users per page (defaults to TERRA_BATCH_SIZE)")
		skip      = flag.Int("skip", 0, "Eligible users to skip before the first page")
		lookback  = flag.Int("lookback", 0, "Days to fetch (defaults to TERRA_LOOKBACK_DAYS)")
		dataTypes = flag.String("types", "", "Comma-separated categories to store (activity,body,sleep,nutrition,daily)")
		process   = flag.Bool("process", true, "Run record processing after the fetch")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger().Component("fetch")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatalf("Failed to connect to Postgres")
	}
	defer postgres.Close()

	terraCfg := &adapter.TerraConfig{
		BaseURL:           cfg.Terra.BaseURL,
		APIKey:            cfg.Terra.APIKey,
		DevID:             cfg.Terra.DevID,
		RequestsPerSecond: cfg.Terra.RequestsPerSecond,
		Timeout:           cfg.Terra.Timeout,
	}

	// share the request budget with a running server
	if cfg.Terra.BudgetPerMinute > 0 {
		redis, err := storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Fatalf("Failed to connect to Redis")
		}
		defer redis.Close()

		budget, err := ratelimit.NewRequestBudget(&ratelimit.BudgetConfig{
			Redis:          redis.Client(),
			TotalBudget:    cfg.Terra.BudgetPerMinute,
			ReservedBudget: cfg.Terra.ReservedBudget,
		})
		if err != nil {
			logger.WithError(err).Fatalf("Failed to create Terra request budget")
		}
		terraCfg.Budget = budget
	}

	terra, err := adapter.NewTerraClient(terraCfg)
	if err != nil {
		logger.WithError(err).Fatalf("Failed to create Terra client")
	}

	userRepo := storage.NewUserRepository(postgres)
	recordRepo := storage.NewWearableRecordRepository(postgres)
	alertRepo := storage.NewAlertRepository(postgres)

	sched, err := scheduler.New(&scheduler.Config{
		DataSource:      terra,
		Users:           userRepo,
		Records:         recordRepo,
		Processor:       service.NewProcessingService(recordRepo, alertRepo, nil, service.ProcessingConfig{}),
		DefaultInterval: cfg.Scheduler.DefaultInterval,
		BatchSize:       cfg.Scheduler.BatchSize,
		UserDelay:       cfg.Scheduler.UserDelay,
		LookbackDays:    cfg.Scheduler.LookbackDays,
		NextFetchOffset: cfg.Scheduler.NextFetchOffset,
	})
	if err != nil {
		logger.WithError(err).Fatalf("Failed to create scheduler")
	}

	var result interface{}
	if *userID != "" {
		result, err = fetchUser(ctx, sched, userRepo, *userID, *lookback, *dataTypes, *process)
	} else {
		result, err = sched.FetchDataForAllUsers(ctx, scheduler.BatchOptions{
			BatchSize:   *batchSize,
			SkipUsers:   *skip,
			ProcessData: *process,
		})
	}

	// processing signals run detached; let them finish before exiting
	sched.WaitBackground()

	if err != nil {
		logger.WithError(err).Fatalf("Fetch failed")
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
}

func fetchUser(ctx context.Context, sched *scheduler.Scheduler, users *storage.UserRepository, userID string, lookback int, dataTypes string, process bool) (*scheduler.FetchResult, error) {
	user, err := users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.TerraConnected || user.TerraID() == "" {
		return nil, fmt.Errorf("user %s has no connected wearable", userID)
	}

	opts := scheduler.FetchOptions{ProcessData: process, LookbackDays: lookback}
	if dataTypes != "" {
		for _, dt := range strings.Split(dataTypes, ",") {
			opts.DataTypes = append(opts.DataTypes, types.DataType(strings.TrimSpace(dt)))
		}
	}
	ctx = ratelimit.WithPriority(ctx, ratelimit.PriorityHigh)
	return sched.FetchDataForUser(ctx, user.ID, user.TerraID(), user.ReferenceID(), opts)
}
