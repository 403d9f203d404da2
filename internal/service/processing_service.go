// Package service holds the downstream business logic that runs on stored
// wearable records.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wearable-sync/internal/logging"
	"github.com/wearable-sync/internal/models"
	"github.com/wearable-sync/internal/scheduler"
	"github.com/wearable-sync/internal/types"
)

// RecordRepository interface for record processing operations
type RecordRepository interface {
	ClaimUnprocessed(ctx context.Context, userID string, limit int, claimFor time.Duration) ([]*models.WearableRecord, error)
	MarkProcessed(ctx context.Context, id string, normalized json.RawMessage, processedAt time.Time) error
}

// AlertRepository interface for alert persistence
type AlertRepository interface {
	Create(ctx context.Context, alert *models.Alert) error
}

// AlertNotifier pushes alerts to users
type AlertNotifier interface {
	SendNotification(ctx context.Context, userID string, alert *models.Alert) error
}

// Thresholds are the limits checked against normalized records
type Thresholds struct {
	MaxRestingHeartRate float64
	MinRestingHeartRate float64
	MinSleep            time.Duration
	MinDailySteps       int64
}

// DefaultThresholds returns the standard alert limits
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxRestingHeartRate: 100,
		MinRestingHeartRate: 40,
		MinSleep:            5 * time.Hour,
		MinDailySteps:       2000,
	}
}

// ProcessingConfig configures a ProcessingService
type ProcessingConfig struct {
	BatchLimit           int
	NotificationsEnabled bool
	Thresholds           Thresholds
	Now                  func() time.Time

	// ClaimTTL is how long claimed records stay hidden from concurrent runs
	ClaimTTL time.Duration
}

// ProcessResult summarizes one processing run for a user
type ProcessResult struct {
	RecordsProcessed int             `json:"recordsProcessed"`
	Alerts           []*models.Alert `json:"alerts"`
}

// ProcessingService normalizes freshly fetched records and raises threshold alerts
type ProcessingService struct {
	records  RecordRepository
	alerts   AlertRepository
	notifier AlertNotifier
	cfg      ProcessingConfig
	logger   *logging.Logger
}

// NewProcessingService creates a new processing service. notifier may be nil.
func NewProcessingService(records RecordRepository, alerts AlertRepository, notifier AlertNotifier, cfg ProcessingConfig) *ProcessingService {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 10 * time.Minute
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ProcessingService{
		records:  records,
		alerts:   alerts,
		notifier: notifier,
		cfg:      cfg,
		logger:   logging.GetGlobalLogger().Component("processing"),
	}
}

// ProcessUserData processes the user's unprocessed records
func (s *ProcessingService) ProcessUserData(ctx context.Context, userID, terraUserID string) error {
	_, err := s.Process(ctx, userID)
	return err
}

// Process claims the user's unprocessed category records, normalizes them,
// stores threshold alerts and marks the records processed. Concurrent runs
// for one user work on disjoint records.
func (s *ProcessingService) Process(ctx context.Context, userID string) (*ProcessResult, error) {
	logger := s.logger.WithField("userId", userID)

	records, err := s.records.ClaimUnprocessed(ctx, userID, s.cfg.BatchLimit, s.cfg.ClaimTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to claim unprocessed records: %w", err)
	}

	result := &ProcessResult{Alerts: []*models.Alert{}}
	for _, record := range records {
		alerts, err := s.processRecord(ctx, logger, record)
		if err != nil {
			return result, err
		}
		result.RecordsProcessed++
		result.Alerts = append(result.Alerts, alerts...)
	}

	if result.RecordsProcessed > 0 {
		logger.WithFields(map[string]interface{}{
			"records": result.RecordsProcessed,
			"alerts":  len(result.Alerts),
		}).Info("Processed user records")
	}
	return result, nil
}

func (s *ProcessingService) processRecord(ctx context.Context, logger *logging.Logger, record *models.WearableRecord) ([]*models.Alert, error) {
	logger = logger.WithFields(map[string]interface{}{
		"recordId": record.ID,
		"dataType": record.DataType,
	})

	normalized, err := NormalizeCategoryPayload(record.Data)
	if err != nil {
		// unreadable payloads are marked processed as-is so they are not retried forever
		logger.WithError(err).Warn("Record payload could not be normalized")
		if err := s.records.MarkProcessed(ctx, record.ID, nil, s.cfg.Now().UTC()); err != nil {
			return nil, fmt.Errorf("failed to mark record %s processed: %w", record.ID, err)
		}
		return nil, nil
	}

	alerts := s.checkThresholds(record, normalized.Summary)
	for _, alert := range alerts {
		if err := s.alerts.Create(ctx, alert); err != nil {
			return nil, fmt.Errorf("failed to store alert for record %s: %w", record.ID, err)
		}
		s.notify(ctx, logger, alert)
	}

	payload, err := withNormalized(record.Data, normalized)
	if err != nil {
		return nil, err
	}
	if err := s.records.MarkProcessed(ctx, record.ID, payload, s.cfg.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to mark record %s processed: %w", record.ID, err)
	}
	return alerts, nil
}

func (s *ProcessingService) notify(ctx context.Context, logger *logging.Logger, alert *models.Alert) {
	if !s.cfg.NotificationsEnabled || s.notifier == nil {
		return
	}
	scheduler.BestEffort(ctx, logger, "alert notification", func(ctx context.Context) error {
		return s.notifier.SendNotification(ctx, alert.UserID, alert)
	})
}

// checkThresholds compares a record summary against the configured limits
func (s *ProcessingService) checkThresholds(record *models.WearableRecord, summary Summary) []*models.Alert {
	t := s.cfg.Thresholds
	var alerts []*models.Alert

	if hr := summary.RestingHeartRateBPM; hr != nil {
		switch {
		case *hr > t.MaxRestingHeartRate:
			alerts = append(alerts, s.newAlert(record, types.AlertHighHeartRate, types.SeverityWarning,
				fmt.Sprintf("Resting heart rate of %.0f bpm is above %.0f bpm", *hr, t.MaxRestingHeartRate),
				*hr, t.MaxRestingHeartRate))
		case *hr < t.MinRestingHeartRate:
			alerts = append(alerts, s.newAlert(record, types.AlertLowHeartRate, types.SeverityWarning,
				fmt.Sprintf("Resting heart rate of %.0f bpm is below %.0f bpm", *hr, t.MinRestingHeartRate),
				*hr, t.MinRestingHeartRate))
		}
	}

	if record.DataType == types.DataTypeSleep && summary.SleepDurationMs != nil {
		slept := time.Duration(*summary.SleepDurationMs) * time.Millisecond
		if slept < t.MinSleep {
			alerts = append(alerts, s.newAlert(record, types.AlertInsufficientSleep, types.SeverityInfo,
				fmt.Sprintf("Average sleep of %.1fh is below %.1fh", slept.Hours(), t.MinSleep.Hours()),
				slept.Hours(), t.MinSleep.Hours()))
		}
	}

	if record.DataType == types.DataTypeDaily && summary.Steps != nil && *summary.Steps < t.MinDailySteps {
		alerts = append(alerts, s.newAlert(record, types.AlertLowActivity, types.SeverityInfo,
			fmt.Sprintf("Average of %d daily steps is below %d", *summary.Steps, t.MinDailySteps),
			float64(*summary.Steps), float64(t.MinDailySteps)))
	}

	return alerts
}

func (s *ProcessingService) newAlert(record *models.WearableRecord, alertType types.AlertType, severity types.AlertSeverity, message string, value, threshold float64) *models.Alert {
	recordID := record.ID
	return &models.Alert{
		ID:        uuid.New().String(),
		UserID:    record.UserID,
		RecordID:  &recordID,
		AlertType: alertType,
		Severity:  severity,
		Message:   message,
		Value:     &value,
		Threshold: &threshold,
		CreatedAt: s.cfg.Now().UTC(),
	}
}

// withNormalized adds the normalized block to the raw payload, keeping every raw field
func withNormalized(raw json.RawMessage, normalized *NormalizedData) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode record payload: %w", err)
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	block, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("encode normalized data: %w", err)
	}
	fields["normalized"] = block
	return json.Marshal(fields)
}
