package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wearable-sync/internal/models"
	"github.com/wearable-sync/internal/types"
)

var processedAt = time.Date(2024, 6, 15, 6, 0, 0, 0, time.UTC)

const (
	shortSleepPayload  = `{"type":"sleep","data":[{"sleep_durations_data":{"asleep":{"duration_asleep_state_seconds":14400}}}]}`
	stressedDayPayload = `{"type":"daily","data":[{"heart_rate_data":{"summary":{"resting_hr_bpm":108}},"distance_data":{"steps":1500}}]}`
	healthyDayPayload  = `{"type":"daily","data":[{"heart_rate_data":{"summary":{"resting_hr_bpm":58}},"distance_data":{"steps":9500}}]}`
)

func newProcessingTest(records *mockRecordRepository, alerts *mockAlertRepository, notifier *mockAlertNotifier, notify bool) *ProcessingService {
	var n AlertNotifier
	if notifier != nil {
		n = notifier
	}
	return NewProcessingService(records, alerts, n, ProcessingConfig{
		NotificationsEnabled: notify,
		Now:                  func() time.Time { return processedAt },
	})
}

func alertTypes(alerts []*models.Alert) []types.AlertType {
	out := make([]types.AlertType, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.AlertType)
	}
	return out
}

func TestProcess_RaisesThresholdAlerts(t *testing.T) {
	records := &mockRecordRepository{records: []*models.WearableRecord{
		record("r1", "u1", "sleep", shortSleepPayload),
		record("r2", "u1", "daily", stressedDayPayload),
		record("r3", "u1", "daily", healthyDayPayload),
		record("r4", "u2", "daily", stressedDayPayload),
	}}
	alerts := &mockAlertRepository{}
	svc := newProcessingTest(records, alerts, nil, false)

	result, err := svc.Process(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, 3, result.RecordsProcessed)
	assert.Equal(t, []types.AlertType{
		types.AlertInsufficientSleep,
		types.AlertHighHeartRate,
		types.AlertLowActivity,
	}, alertTypes(result.Alerts))
	assert.Len(t, alerts.alerts, 3)

	sleepAlert := alerts.alerts[0]
	assert.Equal(t, "u1", sleepAlert.UserID)
	assert.Equal(t, "r1", *sleepAlert.RecordID)
	assert.Equal(t, 4.0, *sleepAlert.Value)
	assert.Equal(t, 5.0, *sleepAlert.Threshold)
	assert.Equal(t, processedAt, sleepAlert.CreatedAt)

	hrAlert := alerts.alerts[1]
	assert.Equal(t, types.SeverityWarning, hrAlert.Severity)
	assert.Equal(t, 108.0, *hrAlert.Value)
	assert.Contains(t, hrAlert.Message, "108 bpm")
}

func TestProcess_LowRestingHeartRate(t *testing.T) {
	records := &mockRecordRepository{records: []*models.WearableRecord{
		record("r1", "u1", "body", `{"data":[{"heart_rate_data":{"summary":{"resting_hr_bpm":36}}}]}`),
	}}
	alerts := &mockAlertRepository{}

	result, err := newProcessingTest(records, alerts, nil, false).Process(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []types.AlertType{types.AlertLowHeartRate}, alertTypes(result.Alerts))
}

func TestProcess_MarksRecordsWithNormalizedPayload(t *testing.T) {
	records := &mockRecordRepository{records: []*models.WearableRecord{
		record("r1", "u1", "daily", healthyDayPayload),
	}}
	svc := newProcessingTest(records, &mockAlertRepository{}, nil, false)

	_, err := svc.Process(context.Background(), "u1")
	require.NoError(t, err)

	require.Len(t, records.marked, 1)
	assert.Equal(t, "r1", records.marked[0].ID)

	var stored struct {
		Type       string          `json:"type"`
		Data       json.RawMessage `json:"data"`
		Normalized NormalizedData  `json:"normalized"`
	}
	require.NoError(t, json.Unmarshal(records.marked[0].Payload, &stored))
	assert.Equal(t, "daily", stored.Type)
	assert.NotEmpty(t, stored.Data)
	assert.Equal(t, int64(9500), *stored.Normalized.Summary.Steps)
	assert.Equal(t, 58.0, *stored.Normalized.Summary.RestingHeartRateBPM)
}

func TestProcess_UnreadablePayloadMarkedAsIs(t *testing.T) {
	records := &mockRecordRepository{records: []*models.WearableRecord{
		record("r1", "u1", "activity", `["not","an","object"]`),
	}}
	alerts := &mockAlertRepository{}

	result, err := newProcessingTest(records, alerts, nil, false).Process(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.RecordsProcessed)
	assert.Empty(t, alerts.alerts)
	require.Len(t, records.marked, 1)
	assert.Nil(t, records.marked[0].Payload)
}

func TestProcess_NotifiesOnlyWhenEnabled(t *testing.T) {
	newRecords := func() *mockRecordRepository {
		return &mockRecordRepository{records: []*models.WearableRecord{record("r1", "u1", "sleep", shortSleepPayload)}}
	}

	notifier := &mockAlertNotifier{}
	_, err := newProcessingTest(newRecords(), &mockAlertRepository{}, notifier, false).Process(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, notifier.sent)

	_, err = newProcessingTest(newRecords(), &mockAlertRepository{}, notifier, true).Process(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, types.AlertInsufficientSleep, notifier.sent[0].AlertType)
}

func TestProcess_NotifierFailureIsSwallowed(t *testing.T) {
	records := &mockRecordRepository{records: []*models.WearableRecord{record("r1", "u1", "sleep", shortSleepPayload)}}
	notifier := &mockAlertNotifier{err: errors.New("redis unavailable")}

	result, err := newProcessingTest(records, &mockAlertRepository{}, notifier, true).Process(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, result.Alerts, 1)
	assert.Len(t, records.marked, 1)
}

func TestProcess_PersistenceErrorsPropagate(t *testing.T) {
	records := &mockRecordRepository{records: []*models.WearableRecord{record("r1", "u1", "sleep", shortSleepPayload)}}
	alerts := &mockAlertRepository{createErr: errors.New("insert failed")}

	err := newProcessingTest(records, alerts, nil, false).ProcessUserData(context.Background(), "u1", "t1")
	assert.ErrorContains(t, err, "insert failed")
	assert.Empty(t, records.marked)

	records = &mockRecordRepository{listErr: errors.New("db down")}
	err = newProcessingTest(records, &mockAlertRepository{}, nil, false).ProcessUserData(context.Background(), "u1", "t1")
	assert.ErrorContains(t, err, "claim unprocessed records")

	records = &mockRecordRepository{
		records: []*models.WearableRecord{record("r1", "u1", "daily", healthyDayPayload)},
		markErr: errors.New("update failed"),
	}
	err = newProcessingTest(records, &mockAlertRepository{}, nil, false).ProcessUserData(context.Background(), "u1", "t1")
	assert.ErrorContains(t, err, "mark record r1 processed")
}

func TestProcess_ConcurrentRunsDoNotDuplicateAlerts(t *testing.T) {
	records := &mockRecordRepository{records: []*models.WearableRecord{
		record("r1", "u1", "sleep", shortSleepPayload),
		record("r2", "u1", "daily", stressedDayPayload),
		record("r3", "u1", "daily", healthyDayPayload),
	}}
	alerts := &mockAlertRepository{}
	svc := newProcessingTest(records, alerts, nil, false)

	var wg sync.WaitGroup
	processed := make([]int, 2)
	for i := range processed {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := svc.Process(context.Background(), "u1")
			assert.NoError(t, err)
			if result != nil {
				processed[i] = result.RecordsProcessed
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, processed[0]+processed[1])
	assert.Len(t, records.marked, 3)
	assert.Len(t, alerts.alerts, 3)
}

func TestProcess_NothingToDo(t *testing.T) {
	result, err := newProcessingTest(&mockRecordRepository{}, &mockAlertRepository{}, nil, false).Process(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, result.RecordsProcessed)
	assert.Empty(t, result.Alerts)
}
