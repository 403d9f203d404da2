package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/wearable-sync/internal/errors"
	"github.com/wearable-sync/internal/llm"
	"github.com/wearable-sync/internal/logging"
	"github.com/wearable-sync/internal/models"
	"github.com/wearable-sync/internal/storage"
)

const (
	planRecordLimit  = 10
	planCacheTTL     = 24 * time.Hour
	planSystemPrompt = "You are an endurance and recovery coach. Using the wearable summaries provided, " +
		"write a concise seven-day performance plan with daily training, sleep and recovery targets."
)

// UserGetter loads a single user
type UserGetter interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// RecentRecordLister lists a user's latest category records
type RecentRecordLister interface {
	ListRecent(ctx context.Context, userID string, limit int) ([]*models.WearableRecord, error)
}

// PlanRepository interface for performance plan persistence
type PlanRepository interface {
	Create(ctx context.Context, plan *models.PerformancePlan) error
	LatestByUser(ctx context.Context, userID string) (*models.PerformancePlan, error)
}

// PlanCache caches the latest plan per user
type PlanCache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// CompletionClient generates text from a prompt
type CompletionClient interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error)
	ModelName() string
}

// PerformancePlanService builds LLM performance plans from recent records
type PerformancePlanService struct {
	users   UserGetter
	records RecentRecordLister
	plans   PlanRepository
	cache   PlanCache
	llm     CompletionClient
	logger  *logging.Logger
}

// NewPerformancePlanService creates a new plan service. cache and client may be nil;
// without a client plans cannot be generated.
func NewPerformancePlanService(users UserGetter, records RecentRecordLister, plans PlanRepository, cache PlanCache, client CompletionClient) *PerformancePlanService {
	return &PerformancePlanService{
		users:   users,
		records: records,
		plans:   plans,
		cache:   cache,
		llm:     client,
		logger:  logging.GetGlobalLogger().Component("performance-plan"),
	}
}

// GeneratePlan asks the model for a plan based on the user's latest records
func (s *PerformancePlanService) GeneratePlan(ctx context.Context, userID string) (*models.PerformancePlan, error) {
	if s.llm == nil {
		return nil, apperrors.NewServiceUnavailableError("performance plan generation")
	}

	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	records, err := s.records.ListRecent(ctx, userID, planRecordLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent records: %w", err)
	}
	if len(records) == 0 {
		return nil, apperrors.NewNotFoundError("wearable records", userID)
	}

	completion, err := s.llm.Complete(ctx, llm.CompletionRequest{
		System:      planSystemPrompt,
		Prompt:      BuildPlanPrompt(records),
		Temperature: 0.4,
		MaxTokens:   800,
	})
	if err != nil {
		return nil, apperrors.NewProviderError("llm", err)
	}

	plan := &models.PerformancePlan{
		ID:          uuid.New().String(),
		UserID:      userID,
		Model:       completion.Model,
		Content:     completion.Content,
		RecordsUsed: len(records),
		TokensUsed:  completion.TokensUsed,
		CreatedAt:   time.Now().UTC(),
	}
	if plan.Model == "" {
		plan.Model = s.llm.ModelName()
	}

	if err := s.plans.Create(ctx, plan); err != nil {
		return nil, fmt.Errorf("failed to store performance plan: %w", err)
	}
	s.cachePlan(ctx, plan)

	s.logger.WithFields(map[string]interface{}{
		"userId":      userID,
		"recordsUsed": plan.RecordsUsed,
		"tokensUsed":  plan.TokensUsed,
	}).Info("Generated performance plan")

	return plan, nil
}

// LatestPlan returns the newest plan, served from cache when present
func (s *PerformancePlanService) LatestPlan(ctx context.Context, userID string) (*models.PerformancePlan, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, planCacheKey(userID))
		switch {
		case err == nil:
			var plan models.PerformancePlan
			if err := json.Unmarshal([]byte(cached), &plan); err == nil {
				return &plan, nil
			}
		case !errors.Is(err, storage.ErrCacheMiss):
			s.logger.WithError(err).WithField("userId", userID).Warn("Plan cache unavailable, reading from database")
		}
	}

	plan, err := s.plans.LatestByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cachePlan(ctx, plan)
	return plan, nil
}

func (s *PerformancePlanService) cachePlan(ctx context.Context, plan *models.PerformancePlan) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(plan)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, planCacheKey(plan.UserID), data, planCacheTTL); err != nil {
		s.logger.WithError(err).WithField("userId", plan.UserID).Warn("Failed to cache performance plan")
	}
}

func planCacheKey(userID string) string {
	return "plan:" + userID
}

// BuildPlanPrompt renders one line per record, using the normalized summary
// when the record has been processed
func BuildPlanPrompt(records []*models.WearableRecord) string {
	var b strings.Builder
	b.WriteString("Recent wearable data for this athlete:\n")

	for _, record := range records {
		fmt.Fprintf(&b, "- %s %s to %s: ", record.DataType, record.StartDate, record.EndDate)

		summary, ok := recordSummary(record)
		if !ok {
			b.WriteString("no readable metrics\n")
			continue
		}
		b.WriteString(describeSummary(summary))
		b.WriteString("\n")
	}

	b.WriteString("\nWrite the plan as a list of days.")
	return b.String()
}

func recordSummary(record *models.WearableRecord) (Summary, bool) {
	var stored struct {
		Normalized *NormalizedData `json:"normalized"`
	}
	if err := json.Unmarshal(record.Data, &stored); err == nil && stored.Normalized != nil {
		return stored.Normalized.Summary, true
	}

	normalized, err := NormalizeCategoryPayload(record.Data)
	if err != nil {
		return Summary{}, false
	}
	return normalized.Summary, true
}

func describeSummary(s Summary) string {
	var parts []string
	if s.AvgHeartRateBPM != nil {
		parts = append(parts, fmt.Sprintf("avg HR %.0f bpm", *s.AvgHeartRateBPM))
	}
	if s.RestingHeartRateBPM != nil {
		parts = append(parts, fmt.Sprintf("resting HR %.0f bpm", *s.RestingHeartRateBPM))
	}
	if s.Steps != nil {
		parts = append(parts, fmt.Sprintf("%d steps", *s.Steps))
	}
	if s.DistanceMeters != nil {
		parts = append(parts, fmt.Sprintf("%.1f km", *s.DistanceMeters/1000))
	}
	if s.TotalCalories != nil {
		parts = append(parts, fmt.Sprintf("%.0f kcal", *s.TotalCalories))
	}
	if s.SleepDurationMs != nil {
		parts = append(parts, fmt.Sprintf("%.1fh sleep", *s.SleepDurationMs/float64(time.Hour/time.Millisecond)))
	}
	if len(parts) == 0 {
		return "no readable metrics"
	}
	return strings.Join(parts, ", ")
}
