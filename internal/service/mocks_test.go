package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	apperrors "github.com/wearable-sync/internal/errors"
	"github.com/wearable-sync/internal/llm"
	"github.com/wearable-sync/internal/models"
	"github.com/wearable-sync/internal/types"
)

type markedRecord struct {
	ID      string
	Payload json.RawMessage
}

type mockRecordRepository struct {
	mu      sync.Mutex
	records []*models.WearableRecord
	claimed map[string]bool
	listErr error
	markErr error
	marked  []markedRecord
}

func (m *mockRecordRepository) ClaimUnprocessed(ctx context.Context, userID string, limit int, claimFor time.Duration) ([]*models.WearableRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	if m.claimed == nil {
		m.claimed = map[string]bool{}
	}
	var out []*models.WearableRecord
	for _, r := range m.records {
		if r.UserID == userID && !r.Processed && !m.claimed[r.ID] && len(out) < limit {
			m.claimed[r.ID] = true
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRecordRepository) ListRecent(ctx context.Context, userID string, limit int) ([]*models.WearableRecord, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.WearableRecord
	for _, r := range m.records {
		if r.UserID == userID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRecordRepository) MarkProcessed(ctx context.Context, id string, normalized json.RawMessage, processedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	m.marked = append(m.marked, markedRecord{ID: id, Payload: normalized})
	return nil
}

type mockAlertRepository struct {
	mu        sync.Mutex
	alerts    []*models.Alert
	createErr error
}

func (m *mockAlertRepository) Create(ctx context.Context, alert *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.alerts = append(m.alerts, alert)
	return nil
}

type mockAlertNotifier struct {
	mu   sync.Mutex
	sent []*models.Alert
	err  error
}

func (m *mockAlertNotifier) SendNotification(ctx context.Context, userID string, alert *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, alert)
	return m.err
}

type mockUserGetter struct {
	users map[string]*models.User
}

func (m *mockUserGetter) GetByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, apperrors.NewNotFoundError("user", id)
}

type mockPlanRepository struct {
	plans     []*models.PerformancePlan
	createErr error
	latestHit int
}

func (m *mockPlanRepository) Create(ctx context.Context, plan *models.PerformancePlan) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.plans = append(m.plans, plan)
	return nil
}

func (m *mockPlanRepository) LatestByUser(ctx context.Context, userID string) (*models.PerformancePlan, error) {
	m.latestHit++
	for i := len(m.plans) - 1; i >= 0; i-- {
		if m.plans[i].UserID == userID {
			return m.plans[i], nil
		}
	}
	return nil, apperrors.NewNotFoundError("performance plan", userID)
}

type mockCompletionClient struct {
	prompts []llm.CompletionRequest
	answer  string
	err     error
}

func (m *mockCompletionClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	m.prompts = append(m.prompts, req)
	if m.err != nil {
		return nil, m.err
	}
	return &llm.Completion{Content: m.answer, Model: "gpt-4o-mini", TokensUsed: 120}, nil
}

func (m *mockCompletionClient) ModelName() string { return "gpt-4o-mini" }

func record(id, userID, dataType, payload string) *models.WearableRecord {
	return &models.WearableRecord{
		ID:        id,
		UserID:    userID,
		DataType:  types.DataType(dataType),
		StartDate: "2024-06-08",
		EndDate:   "2024-06-15",
		Data:      json.RawMessage(payload),
	}
}
