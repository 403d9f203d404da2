package models

import (
	"time"

	"github.com/wearable-sync/internal/types"
)

// Alert is raised when a processed record crosses a health threshold
// or when a scheduled fetch keeps failing
type Alert struct {
	ID        string              `json:"id" db:"id"`
	UserID    string              `json:"userId" db:"user_id"`
	RecordID  *string             `json:"recordId,omitempty" db:"record_id"`
	AlertType types.AlertType     `json:"alertType" db:"alert_type"`
	Severity  types.AlertSeverity `json:"severity" db:"severity"`
	Message   string              `json:"message" db:"message"`
	Value     *float64            `json:"value,omitempty" db:"value"`
	Threshold *float64            `json:"threshold,omitempty" db:"threshold"`
	CreatedAt time.Time           `json:"createdAt" db:"created_at"`
}

// PerformancePlan is an LLM-generated plan built from a user's recent records
type PerformancePlan struct {
	ID          string    `json:"id" db:"id"`
	UserID      string    `json:"userId" db:"user_id"`
	Model       string    `json:"model" db:"model"`
	Content     string    `json:"content" db:"content"`
	RecordsUsed int       `json:"recordsUsed" db:"records_used"`
	TokensUsed  int       `json:"tokensUsed" db:"tokens_used"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}
