// Package types provides common type definitions for the wearable sync system.
package types

// DataType identifies a category of wearable data returned by the aggregator
type DataType string

const (
	// DataTypeActivity represents workouts and other recorded activities
	DataTypeActivity DataType = "activity"
	// DataTypeBody represents body measurements (heart rate, weight, temperature)
	DataTypeBody DataType = "body"
	// DataTypeSleep represents sleep sessions
	DataTypeSleep DataType = "sleep"
	// DataTypeNutrition represents nutrition logs
	DataTypeNutrition DataType = "nutrition"
	// DataTypeDaily represents daily summaries (steps, calories, distance)
	DataTypeDaily DataType = "daily"
	// DataTypeCombined marks a record holding every category of one fetch
	DataTypeCombined DataType = "combined"
)

// AllDataTypes lists the fetchable categories in the order metadata is looked up
var AllDataTypes = []DataType{
	DataTypeActivity,
	DataTypeBody,
	DataTypeSleep,
	DataTypeNutrition,
	DataTypeDaily,
}

// IsValid reports whether d is one of the fetchable categories
func (d DataType) IsValid() bool {
	for _, t := range AllDataTypes {
		if d == t {
			return true
		}
	}
	return false
}

// AlertSeverity represents how urgent a threshold alert is
type AlertSeverity string

const (
	// SeverityInfo is informational only
	SeverityInfo AlertSeverity = "info"
	// SeverityWarning needs attention
	SeverityWarning AlertSeverity = "warning"
	// SeverityCritical needs immediate attention
	SeverityCritical AlertSeverity = "critical"
)

// AlertType identifies the check that raised an alert
type AlertType string

const (
	AlertHighHeartRate     AlertType = "high_heart_rate"
	AlertLowHeartRate      AlertType = "low_heart_rate"
	AlertInsufficientSleep AlertType = "insufficient_sleep"
	AlertLowActivity       AlertType = "low_activity"
	AlertFetchFailed       AlertType = "fetch_failed"
)

// JobStatus is the status marker reported for live scheduled jobs
type JobStatus string

const (
	// JobStatusActive marks a job that is registered and will fire again
	JobStatusActive JobStatus = "active"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
