// Package scheduler orchestrates recurring and on-demand wearable data fetches.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wearable-sync/internal/adapter"
	apperrors "github.com/wearable-sync/internal/errors"
	"github.com/wearable-sync/internal/logging"
	"github.com/wearable-sync/internal/models"
	"github.com/wearable-sync/internal/ratelimit"
	"github.com/wearable-sync/internal/retry"
	"github.com/wearable-sync/internal/types"
)

const (
	// AllUsersJobID identifies the global batch job
	AllUsersJobID = "all_users"
	// InitialFetchBatchSize is the page size of the optional startup fetch
	InitialFetchBatchSize = 10
)

// UserJobID returns the job id for a per-user schedule
func UserJobID(userID string) string {
	return "user_" + userID
}

// DataSource fetches every data category for one provider user
type DataSource interface {
	GetAllUserData(ctx context.Context, terraUserID, startDate, endDate string) (*adapter.UserData, error)
}

// UserStore is the subset of user persistence the scheduler needs
type UserStore interface {
	CountEligible(ctx context.Context) (int, error)
	ListEligible(ctx context.Context, limit, offset int) ([]*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	UpdateSyncMetadata(ctx context.Context, id string, lastSyncedAt, nextScheduledFetch time.Time) error
}

// RecordStore persists fetched records
type RecordStore interface {
	Create(ctx context.Context, record *models.WearableRecord) error
}

// Processor handles downstream processing of freshly stored records
type Processor interface {
	ProcessUserData(ctx context.Context, userID, terraUserID string) error
}

// Notifier delivers alerts to users
type Notifier interface {
	SendNotification(ctx context.Context, userID string, alert *models.Alert) error
}

// Config configures a Scheduler
type Config struct {
	DataSource DataSource
	Users      UserStore
	Records    RecordStore
	Processor  Processor // optional
	Notifier   Notifier  // optional
	Registry   *JobRegistry

	DefaultInterval      string
	BatchSize            int
	UserDelay            time.Duration
	LookbackDays         int
	MaxRetries           int
	RetryBaseDelay       time.Duration
	NextFetchOffset      time.Duration
	NotificationsEnabled bool

	// Now and Sleep are injectable for tests
	Now   func() time.Time
	Sleep retry.SleepFunc
}

// Scheduler composes the job registry with the single-user and batch
// fetch orchestrators
type Scheduler struct {
	cfg      Config
	registry *JobRegistry
	metrics  *FetchMetrics
	logger   *logging.Logger

	// base context for detached work (processing signals, initial fetch)
	ctx        context.Context
	cancel     context.CancelFunc
	background sync.WaitGroup
}

// New creates a Scheduler
func New(cfg *Config) (*Scheduler, error) {
	if cfg == nil {
		return nil, fmt.Errorf("scheduler config cannot be nil")
	}
	if cfg.DataSource == nil {
		return nil, fmt.Errorf("data source cannot be nil")
	}
	if cfg.Users == nil {
		return nil, fmt.Errorf("user store cannot be nil")
	}
	if cfg.Records == nil {
		return nil, fmt.Errorf("record store cannot be nil")
	}

	c := *cfg
	if c.DefaultInterval == "" {
		c.DefaultInterval = "0 */6 * * *"
	}
	if err := ValidateInterval(c.DefaultInterval); err != nil {
		return nil, fmt.Errorf("invalid default interval: %w", err)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.LookbackDays <= 0 {
		c.LookbackDays = 7
	}
	if c.NextFetchOffset <= 0 {
		c.NextFetchOffset = 6 * time.Hour
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Sleep == nil {
		c.Sleep = retry.Sleep
	}
	if c.Registry == nil {
		c.Registry = NewJobRegistry(time.UTC)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:      c,
		registry: c.Registry,
		metrics:  NewFetchMetrics(),
		logger:   logging.GetGlobalLogger().Component("scheduler"),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// ScheduleAllUsersFetch installs the global batch job. An empty interval uses
// the configured default.
func (s *Scheduler) ScheduleAllUsersFetch(interval string) (string, error) {
	if interval == "" {
		interval = s.cfg.DefaultInterval
	}

	return s.registry.Schedule(AllUsersJobID, interval, func(ctx context.Context) {
		summary, err := s.FetchDataForAllUsers(ctx, BatchOptions{ProcessData: true})
		if err != nil {
			s.logger.WithError(err).Error("Scheduled fetch for all users failed")
			return
		}
		s.logger.WithFields(map[string]interface{}{
			"totalUsers":     summary.TotalUsers,
			"processedUsers": summary.ProcessedUsers,
			"successCount":   summary.SuccessCount,
			"failureCount":   summary.FailureCount,
		}).Info("Scheduled fetch for all users completed")
	})
}

// ScheduleUserFetch installs a per-user job whose firings retry with backoff
func (s *Scheduler) ScheduleUserFetch(userID, terraUserID, interval, referenceID string) (string, error) {
	if userID == "" {
		return "", apperrors.NewInvalidParameterError("userId", "cannot be empty")
	}
	if terraUserID == "" {
		return "", apperrors.NewInvalidParameterError("terraUserId", "cannot be empty")
	}
	if interval == "" {
		interval = s.cfg.DefaultInterval
	}

	return s.registry.Schedule(UserJobID(userID), interval, func(ctx context.Context) {
		s.runScheduledUserFetch(ctx, userID, terraUserID, referenceID)
	})
}

// runScheduledUserFetch is one firing of a per-user job
func (s *Scheduler) runScheduledUserFetch(ctx context.Context, userID, terraUserID, referenceID string) *retry.Result {
	logger := s.logger.WithFields(map[string]interface{}{
		"userId":      userID,
		"terraUserId": terraUserID,
	})

	runner := retry.NewRunner(&retry.Policy{
		MaxRetries: s.cfg.MaxRetries,
		BaseDelay:  s.cfg.RetryBaseDelay,
		Multiplier: 2,
	}, s.cfg.Sleep)

	result := runner.Run(logging.WithLogger(ctx, logger), func(ctx context.Context, attempt int) error {
		_, err := s.FetchDataForUser(ctx, userID, terraUserID, referenceID, FetchOptions{ProcessData: true})
		return err
	})
	if result.Success {
		return result
	}

	logger.WithError(result.LastError).WithField("attempts", result.Attempts).
		Error("Scheduled fetch failed after exhausting retries")

	if s.cfg.NotificationsEnabled && s.cfg.Notifier != nil {
		alert := &models.Alert{
			ID:        uuid.New().String(),
			UserID:    userID,
			AlertType: types.AlertFetchFailed,
			Severity:  types.SeverityWarning,
			Message:   fmt.Sprintf("Scheduled wearable data fetch failed after %d attempts", result.Attempts),
			CreatedAt: s.cfg.Now().UTC(),
		}
		BestEffort(ctx, logger, "fetch failure notification", func(ctx context.Context) error {
			return s.cfg.Notifier.SendNotification(ctx, userID, alert)
		})
	}
	return result
}

// StopScheduledJob cancels future firings of a job
func (s *Scheduler) StopScheduledJob(jobID string) bool {
	return s.registry.Stop(jobID)
}

// GetActiveJobs returns the live job ids with their status
func (s *Scheduler) GetActiveJobs() map[string]string {
	return s.registry.ListActive()
}

// ListJobs returns the live jobs with their intervals
func (s *Scheduler) ListJobs() []ScheduledJob {
	return s.registry.Jobs()
}

// ManualFetchForUser fetches one user's data on demand. Errors are returned
// to the caller without retry.
func (s *Scheduler) ManualFetchForUser(ctx context.Context, userID string) (*FetchResult, error) {
	user, err := s.cfg.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.NewNotFoundError("user", userID)
	}
	if !user.TerraConnected || user.TerraID() == "" {
		return nil, apperrors.NewUserNotConnectedError(userID)
	}

	ctx = ratelimit.WithPriority(ctx, ratelimit.PriorityHigh)
	return s.FetchDataForUser(ctx, user.ID, user.TerraID(), user.ReferenceID(), FetchOptions{ProcessData: true})
}

// InitOptions controls startup behaviour
type InitOptions struct {
	StartScheduler bool
	InitialFetch   bool
}

// SchedulerStatus describes the job runner
type SchedulerStatus struct {
	Running         bool   `json:"running"`
	DefaultInterval string `json:"defaultInterval"`
	ActiveJobCount  int    `json:"activeJobCount"`
}

// InitResult is returned by Init
type InitResult struct {
	Success    bool              `json:"success"`
	ActiveJobs map[string]string `json:"activeJobs"`
	Scheduler  SchedulerStatus   `json:"scheduler"`
}

// Init starts the job runner, optionally installs the global job and
// optionally kicks off one small batch fetch in the background
func (s *Scheduler) Init(ctx context.Context, opts InitOptions) (*InitResult, error) {
	if opts.StartScheduler {
		if _, err := s.ScheduleAllUsersFetch(""); err != nil {
			return nil, fmt.Errorf("failed to schedule all users fetch: %w", err)
		}
	}
	s.registry.Start()

	if opts.InitialFetch {
		s.goBackground(func(ctx context.Context) {
			summary, err := s.FetchDataForAllUsers(ctx, BatchOptions{
				BatchSize:   InitialFetchBatchSize,
				ProcessData: true,
			})
			if err != nil {
				s.logger.WithError(err).Error("Initial fetch failed")
				return
			}
			s.logger.WithFields(map[string]interface{}{
				"totalUsers":   summary.TotalUsers,
				"successCount": summary.SuccessCount,
				"failureCount": summary.FailureCount,
			}).Info("Initial fetch completed")
		})
	}

	s.logger.WithFields(map[string]interface{}{
		"startScheduler": opts.StartScheduler,
		"initialFetch":   opts.InitialFetch,
	}).Info("Scheduler initialized")

	return &InitResult{
		Success:    true,
		ActiveJobs: s.GetActiveJobs(),
		Scheduler:  s.Status(),
	}, nil
}

// Status reports the current runner state
func (s *Scheduler) Status() SchedulerStatus {
	return SchedulerStatus{
		Running:         s.registry.Running(),
		DefaultInterval: s.cfg.DefaultInterval,
		ActiveJobCount:  s.registry.Len(),
	}
}

// FetchStats reports single-user fetch outcomes since startup
func (s *Scheduler) FetchStats() *FetchStats {
	return s.metrics.Stats()
}

// goBackground runs fn detached from any request, tracked for Shutdown
func (s *Scheduler) goBackground(fn func(ctx context.Context)) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		fn(s.ctx)
	}()
}

// WaitBackground blocks until detached work has finished
func (s *Scheduler) WaitBackground() {
	s.background.Wait()
}

// Shutdown stops the job runner, waits for in-flight firings and background
// work until ctx is done, then cancels what is left
func (s *Scheduler) Shutdown(ctx context.Context) error {
	err := s.registry.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	s.cancel()
	return err
}
