package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	apperrors "github.com/wearable-sync/internal/errors"
	"github.com/wearable-sync/internal/models"
	"github.com/wearable-sync/internal/types"
)

// start_date and end_date are DATE columns read back as YYYY-MM-DD strings
const recordColumns = `
	id, user_id, terra_user_id, reference_id, data_type,
	to_char(start_date, 'YYYY-MM-DD'), to_char(end_date, 'YYYY-MM-DD'),
	data, metadata, processed, processed_at, source, created_at`

// WearableRecordRepository persists fetched wearable data
type WearableRecordRepository struct {
	db *PostgresDB
}

// NewWearableRecordRepository creates a new wearable record repository
func NewWearableRecordRepository(db *PostgresDB) *WearableRecordRepository {
	return &WearableRecordRepository{db: db}
}

// Create inserts a record and fills in its ID and CreatedAt. Every call
// inserts a new row; repeated fetches of the same window are not merged.
func (r *WearableRecordRepository) Create(ctx context.Context, record *models.WearableRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Source == "" {
		record.Source = models.RecordSourceTerra
	}
	record.CreatedAt = time.Now().UTC()

	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal record metadata: %w", err)
	}
	data := record.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO wearable_records (
			id, user_id, terra_user_id, reference_id, data_type, start_date, end_date,
			data, metadata, processed, processed_at, source, created_at
		) VALUES ($1, $2, $3, $4, $5, $6::text::date, $7::text::date, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.db.Pool().Exec(ctx, query,
		record.ID,
		record.UserID,
		record.TerraUserID,
		record.ReferenceID,
		string(record.DataType),
		record.StartDate,
		record.EndDate,
		[]byte(data),
		metadata,
		record.Processed,
		record.ProcessedAt,
		record.Source,
		record.CreatedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("create wearable record", err)
	}
	return nil
}

// GetByID retrieves a record by ID
func (r *WearableRecordRepository) GetByID(ctx context.Context, id string) (*models.WearableRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM wearable_records WHERE id = $1`

	record, err := scanRecord(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("wearable record", id)
		}
		return nil, apperrors.NewDatabaseError("get wearable record", err)
	}
	return record, nil
}

// ClaimUnprocessed claims up to limit of a user's unprocessed category
// records for claimFor and returns them oldest first. Records claimed by a
// concurrent caller are skipped until their claim lapses. Combined records
// are never claimed since their categories are stored separately.
func (r *WearableRecordRepository) ClaimUnprocessed(ctx context.Context, userID string, limit int, claimFor time.Duration) ([]*models.WearableRecord, error) {
	query := `
		UPDATE wearable_records
		SET claimed_until = NOW() + make_interval(secs => $3)
		WHERE id IN (
			SELECT id
			FROM wearable_records
			WHERE user_id = $1 AND processed = false AND data_type <> $2
				AND (claimed_until IS NULL OR claimed_until < NOW())
			ORDER BY created_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + recordColumns

	records, err := r.query(ctx, "claim unprocessed records", query,
		userID, string(types.DataTypeCombined), claimFor.Seconds(), limit)
	if err != nil {
		return nil, err
	}
	// RETURNING does not keep the subquery order
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// ListRecent returns a user's newest category records
func (r *WearableRecordRepository) ListRecent(ctx context.Context, userID string, limit int) ([]*models.WearableRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM wearable_records
		WHERE user_id = $1 AND data_type <> $2
		ORDER BY created_at DESC
		LIMIT $3
	`
	return r.query(ctx, "list recent records", query, userID, string(types.DataTypeCombined), limit)
}

// MarkProcessed flags a record as processed and optionally replaces its data
// with the normalized form
func (r *WearableRecordRepository) MarkProcessed(ctx context.Context, id string, normalized json.RawMessage, processedAt time.Time) error {
	query := `
		UPDATE wearable_records
		SET processed = true, processed_at = $2, data = COALESCE($3, data)
		WHERE id = $1
	`

	var data []byte
	if len(normalized) > 0 {
		data = normalized
	}

	tag, err := r.db.Pool().Exec(ctx, query, id, processedAt, data)
	if err != nil {
		return apperrors.NewDatabaseError("mark record processed", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("wearable record", id)
	}
	return nil
}

// CountByUser counts every record stored for a user
func (r *WearableRecordRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM wearable_records WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, apperrors.NewDatabaseError("count records", err)
	}
	return count, nil
}

func (r *WearableRecordRepository) query(ctx context.Context, op, query string, args ...any) ([]*models.WearableRecord, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError(op, err)
	}
	defer rows.Close()

	var records []*models.WearableRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError(op, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError(op, err)
	}
	return records, nil
}

func scanRecord(row rowScanner) (*models.WearableRecord, error) {
	var (
		record   models.WearableRecord
		dataType string
		data     []byte
		metadata []byte
	)

	err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.TerraUserID,
		&record.ReferenceID,
		&dataType,
		&record.StartDate,
		&record.EndDate,
		&data,
		&metadata,
		&record.Processed,
		&record.ProcessedAt,
		&record.Source,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.DataType = types.DataType(dataType)
	record.Data = json.RawMessage(data)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &record.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record metadata: %w", err)
		}
	}
	return &record, nil
}
