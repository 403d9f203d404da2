package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/wearable-sync/internal/errors"
	"github.com/wearable-sync/internal/models"
	"github.com/wearable-sync/internal/types"
)

// FetchOptions tunes one single-user fetch
type FetchOptions struct {
	ProcessData bool
	// DataTypes selects which categories get their own record; empty means all
	DataTypes []types.DataType
	// LookbackDays overrides the configured lookback when positive
	LookbackDays int
}

// FetchResult describes a completed single-user fetch
type FetchResult struct {
	Success     bool     `json:"success"`
	UserID      string   `json:"userId"`
	TerraUserID string   `json:"terraUserId"`
	RecordCount int      `json:"recordCount"`
	RecordIDs   []string `json:"recordIds"`
}

// FetchDataForUser fetches every category for the lookback window and stores
// one combined record plus one record per requested non-empty category.
// Records already written stay in place when a later step fails.
func (s *Scheduler) FetchDataForUser(ctx context.Context, userID, terraUserID, referenceID string, opts FetchOptions) (*FetchResult, error) {
	started := time.Now()
	result, err := s.fetchDataForUser(ctx, userID, terraUserID, referenceID, opts)

	recordCount := 0
	if result != nil {
		recordCount = result.RecordCount
	}
	s.metrics.RecordFetch(s.cfg.Now().UTC(), time.Since(started), recordCount, err)
	return result, err
}

func (s *Scheduler) fetchDataForUser(ctx context.Context, userID, terraUserID, referenceID string, opts FetchOptions) (*FetchResult, error) {
	requested, err := requestedTypes(opts.DataTypes)
	if err != nil {
		return nil, err
	}

	lookback := opts.LookbackDays
	if lookback <= 0 {
		lookback = s.cfg.LookbackDays
	}

	now := s.cfg.Now()
	window := NewFetchWindow(now, lookback)
	logger := s.logger.WithFields(map[string]interface{}{
		"userId":      userID,
		"terraUserId": terraUserID,
		"startDate":   window.StartDate(),
		"endDate":     window.EndDate(),
	})
	logger.Debug("Fetching user data")

	data, err := s.cfg.DataSource.GetAllUserData(ctx, terraUserID, window.StartDate(), window.EndDate())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch data for user %s: %w", userID, err)
	}

	var refID *string
	if referenceID != "" {
		refID = &referenceID
	}
	newRecord := func(dataType types.DataType, payload []byte, meta models.RecordMetadata) *models.WearableRecord {
		return &models.WearableRecord{
			UserID:      userID,
			TerraUserID: terraUserID,
			ReferenceID: refID,
			DataType:    dataType,
			StartDate:   window.StartDate(),
			EndDate:     window.EndDate(),
			Data:        payload,
			Metadata:    meta,
			Source:      models.RecordSourceTerra,
		}
	}

	combinedMeta := data.FirstMetadata()
	combinedPayload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode combined data: %w", err)
	}

	combined := newRecord(types.DataTypeCombined, combinedPayload, combinedMeta)
	if err := s.cfg.Records.Create(ctx, combined); err != nil {
		return nil, fmt.Errorf("failed to store combined record for user %s: %w", userID, err)
	}
	recordIDs := []string{combined.ID}

	for _, dataType := range requested {
		category := data.Category(dataType)
		if category.IsEmpty() {
			continue
		}

		payload, err := json.Marshal(category)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s data: %w", dataType, err)
		}
		meta, ok := category.DeviceMetadata()
		if !ok || meta.IsEmpty() {
			meta = combinedMeta
		}

		record := newRecord(dataType, payload, meta)
		if err := s.cfg.Records.Create(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to store %s record for user %s: %w", dataType, userID, err)
		}
		recordIDs = append(recordIDs, record.ID)
	}

	if err := s.cfg.Users.UpdateSyncMetadata(ctx, userID, now, now.Add(s.cfg.NextFetchOffset)); err != nil {
		return nil, fmt.Errorf("failed to update sync metadata for user %s: %w", userID, err)
	}

	if opts.ProcessData && s.cfg.Processor != nil {
		s.goBackground(func(ctx context.Context) {
			BestEffort(ctx, logger, "process user data", func(ctx context.Context) error {
				return s.cfg.Processor.ProcessUserData(ctx, userID, terraUserID)
			})
		})
	}

	logger.WithField("recordCount", len(recordIDs)).Info("Fetched and stored user data")

	return &FetchResult{
		Success:     true,
		UserID:      userID,
		TerraUserID: terraUserID,
		RecordCount: len(recordIDs),
		RecordIDs:   recordIDs,
	}, nil
}

// requestedTypes validates the categories asked for, defaulting to all
func requestedTypes(dataTypes []types.DataType) ([]types.DataType, error) {
	if len(dataTypes) == 0 {
		return types.AllDataTypes, nil
	}
	for _, dt := range dataTypes {
		if !dt.IsValid() {
			return nil, apperrors.NewInvalidParameterError("dataTypes", fmt.Sprintf("unknown data type %q", dt))
		}
	}
	return dataTypes, nil
}
