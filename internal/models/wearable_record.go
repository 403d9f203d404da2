package models

import (
	"encoding/json"
	"time"

	"github.com/wearable-sync/internal/types"
)

// RecordSourceTerra marks records fetched through the Terra aggregator
const RecordSourceTerra = "terra"

// WearableRecord is one persisted fetch result, either combined or a single category
type WearableRecord struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"userId" db:"user_id"`
	TerraUserID string          `json:"terraUserId" db:"terra_user_id"`
	ReferenceID *string         `json:"referenceId,omitempty" db:"reference_id"`
	DataType    types.DataType  `json:"dataType" db:"data_type"`
	StartDate   string          `json:"startDate" db:"start_date"`
	EndDate     string          `json:"endDate" db:"end_date"`
	Data        json.RawMessage `json:"data" db:"data"`
	Metadata    RecordMetadata  `json:"metadata" db:"metadata"`
	Processed   bool            `json:"processed" db:"processed"`
	ProcessedAt *time.Time      `json:"processedAt,omitempty" db:"processed_at"`
	Source      string          `json:"source" db:"source"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
}

// RecordMetadata holds device information taken from the first data item of a fetch
type RecordMetadata struct {
	DeviceType  string `json:"deviceType,omitempty"`
	DeviceModel string `json:"deviceModel,omitempty"`
	Provider    string `json:"provider,omitempty"`
}

// IsEmpty reports whether no metadata field was found
func (m RecordMetadata) IsEmpty() bool {
	return m.DeviceType == "" && m.DeviceModel == "" && m.Provider == ""
}
