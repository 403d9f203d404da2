package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wearable-sync/internal/adapter"
	apperrors "github.com/wearable-sync/internal/errors"
	"github.com/wearable-sync/internal/models"
	"github.com/wearable-sync/internal/ratelimit"
	"github.com/wearable-sync/internal/types"
)

// mockDataSource returns canned data per Terra user id
type mockDataSource struct {
	mu         sync.Mutex
	calls      []dataCall
	priorities []ratelimit.Priority
	// respond decides the result of each call; nil returns activity+sleep data
	respond func(call dataCall, n int) (*adapter.UserData, error)
}

type dataCall struct {
	TerraUserID string
	StartDate   string
	EndDate     string
}

func (m *mockDataSource) GetAllUserData(ctx context.Context, terraUserID, startDate, endDate string) (*adapter.UserData, error) {
	m.mu.Lock()
	call := dataCall{TerraUserID: terraUserID, StartDate: startDate, EndDate: endDate}
	m.calls = append(m.calls, call)
	m.priorities = append(m.priorities, ratelimit.PriorityFromContext(ctx))
	n := 0
	for _, c := range m.calls {
		if c.TerraUserID == terraUserID {
			n++
		}
	}
	respond := m.respond
	m.mu.Unlock()

	if respond == nil {
		return activityAndSleepData(), nil
	}
	return respond(call, n)
}

func (m *mockDataSource) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func category(items ...string) *adapter.CategoryResponse {
	data := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		data = append(data, json.RawMessage(item))
	}
	return &adapter.CategoryResponse{
		Status: "success",
		User:   &adapter.TerraUser{UserID: "t", Provider: "GARMIN"},
		Data:   data,
	}
}

// activityAndSleepData has items for activity and sleep only
func activityAndSleepData() *adapter.UserData {
	return &adapter.UserData{
		Activity:  category(`{"device_data":{"type":"WATCH","name":"Fenix 7"},"distance_data":{"summary":{"distance_meters":5000}}}`),
		Body:      category(),
		Sleep:     category(`{"sleep_durations_data":{"asleep":{"duration_asleep_state_seconds":25200}}}`),
		Nutrition: category(),
		Daily:     category(),
	}
}

// mockUserStore serves users from a slice in a stable order
type mockUserStore struct {
	mu        sync.Mutex
	users     []*models.User
	countErr  error
	listErr   error
	updateErr error
	pages     []pageCall
	synced    map[string][2]time.Time
}

type pageCall struct {
	Limit  int
	Offset int
}

func newMockUserStore(users ...*models.User) *mockUserStore {
	return &mockUserStore{users: users, synced: map[string][2]time.Time{}}
}

func (m *mockUserStore) CountEligible(ctx context.Context) (int, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	return len(m.users), nil
}

func (m *mockUserStore) ListEligible(ctx context.Context, limit, offset int) ([]*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages = append(m.pages, pageCall{Limit: limit, Offset: offset})
	if m.listErr != nil {
		return nil, m.listErr
	}
	if offset >= len(m.users) {
		return nil, nil
	}
	end := offset + limit
	if end > len(m.users) {
		end = len(m.users)
	}
	return m.users[offset:end], nil
}

func (m *mockUserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, apperrors.NewNotFoundError("user", id)
}

func (m *mockUserStore) UpdateSyncMetadata(ctx context.Context, id string, lastSyncedAt, nextScheduledFetch time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	m.synced[id] = [2]time.Time{lastSyncedAt, nextScheduledFetch}
	return nil
}

// mockRecordStore keeps created records in memory
type mockRecordStore struct {
	mu      sync.Mutex
	records []*models.WearableRecord
	failOn  types.DataType
	nextID  int
}

func (m *mockRecordStore) Create(ctx context.Context, record *models.WearableRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != "" && record.DataType == m.failOn {
		return apperrors.NewDatabaseError("create wearable record", fmt.Errorf("disk full"))
	}
	m.nextID++
	record.ID = fmt.Sprintf("rec-%d", m.nextID)
	m.records = append(m.records, record)
	return nil
}

func (m *mockRecordStore) byType() map[types.DataType]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[types.DataType]int{}
	for _, r := range m.records {
		counts[r.DataType]++
	}
	return counts
}

// mockProcessor records processing signals
type mockProcessor struct {
	mu    sync.Mutex
	calls []string
	err   error
	panic bool
}

func (m *mockProcessor) ProcessUserData(ctx context.Context, userID, terraUserID string) error {
	m.mu.Lock()
	m.calls = append(m.calls, userID)
	m.mu.Unlock()
	if m.panic {
		panic("processor exploded")
	}
	return m.err
}

func (m *mockProcessor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// mockNotifier records notifications
type mockNotifier struct {
	mu     sync.Mutex
	alerts []*models.Alert
	err    error
}

func (m *mockNotifier) SendNotification(ctx context.Context, userID string, alert *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	return m.err
}

// fakeSleep records requested waits without blocking
type fakeSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (f *fakeSleep) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits = append(f.waits, d)
	return ctx.Err()
}

func (f *fakeSleep) sorted() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]time.Duration(nil), f.waits...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func strPtr(s string) *string { return &s }

func eligibleUser(i int) *models.User {
	return &models.User{
		ID:             fmt.Sprintf("u%d", i),
		TerraUserID:    strPtr(fmt.Sprintf("t%d", i)),
		TerraConnected: true,
	}
}

func eligibleUsers(n int) []*models.User {
	users := make([]*models.User, n)
	for i := range users {
		users[i] = eligibleUser(i)
	}
	return users
}

var fixedNow = time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

type testDeps struct {
	data      *mockDataSource
	users     *mockUserStore
	records   *mockRecordStore
	processor *mockProcessor
	notifier  *mockNotifier
	sleep     *fakeSleep
}

func newTestScheduler(deps *testDeps, mutate func(*Config)) *Scheduler {
	if deps.data == nil {
		deps.data = &mockDataSource{}
	}
	if deps.users == nil {
		deps.users = newMockUserStore()
	}
	if deps.records == nil {
		deps.records = &mockRecordStore{}
	}
	if deps.processor == nil {
		deps.processor = &mockProcessor{}
	}
	if deps.notifier == nil {
		deps.notifier = &mockNotifier{}
	}
	if deps.sleep == nil {
		deps.sleep = &fakeSleep{}
	}

	cfg := &Config{
		DataSource:      deps.data,
		Users:           deps.users,
		Records:         deps.records,
		Processor:       deps.processor,
		Notifier:        deps.notifier,
		DefaultInterval: "0 */6 * * *",
		BatchSize:       50,
		UserDelay:       time.Second,
		LookbackDays:    7,
		MaxRetries:      3,
		RetryBaseDelay:  time.Minute,
		NextFetchOffset: 6 * time.Hour,
		Now:             func() time.Time { return fixedNow },
		Sleep:           deps.sleep.Sleep,
	}
	if mutate != nil {
		mutate(cfg)
	}

	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}
