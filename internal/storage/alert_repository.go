package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/wearable-sync/internal/errors"
	"github.com/wearable-sync/internal/models"
	"github.com/wearable-sync/internal/types"
)

// AlertRepository persists threshold and fetch-failure alerts
type AlertRepository struct {
	db *PostgresDB
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *PostgresDB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create inserts an alert
func (r *AlertRepository) Create(ctx context.Context, alert *models.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO alerts (id, user_id, record_id, alert_type, severity, message, value, threshold, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		alert.ID,
		alert.UserID,
		alert.RecordID,
		string(alert.AlertType),
		string(alert.Severity),
		alert.Message,
		alert.Value,
		alert.Threshold,
		alert.CreatedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("create alert", err)
	}
	return nil
}

// ListByUser returns a user's newest alerts
func (r *AlertRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.Alert, error) {
	query := `
		SELECT id, user_id, record_id, alert_type, severity, message, value, threshold, created_at
		FROM alerts
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list alerts", err)
	}
	defer rows.Close()

	alerts := []*models.Alert{}
	for rows.Next() {
		var (
			alert     models.Alert
			alertType string
			severity  string
		)
		if err := rows.Scan(
			&alert.ID,
			&alert.UserID,
			&alert.RecordID,
			&alertType,
			&severity,
			&alert.Message,
			&alert.Value,
			&alert.Threshold,
			&alert.CreatedAt,
		); err != nil {
			return nil, apperrors.NewDatabaseError("scan alert", err)
		}
		alert.AlertType = types.AlertType(alertType)
		alert.Severity = types.AlertSeverity(severity)
		alerts = append(alerts, &alert)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate alerts", err)
	}
	return alerts, nil
}
