package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	apperrors "github.com/wearable-sync/internal/errors"
	"github.com/wearable-sync/internal/models"
)

// PlanRepository persists generated performance plans
type PlanRepository struct {
	db *PostgresDB
}

// NewPlanRepository creates a new plan repository
func NewPlanRepository(db *PostgresDB) *PlanRepository {
	return &PlanRepository{db: db}
}

// Create inserts a performance plan
func (r *PlanRepository) Create(ctx context.Context, plan *models.PerformancePlan) error {
	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO performance_plans (id, user_id, model, content, records_used, tokens_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		plan.ID,
		plan.UserID,
		plan.Model,
		plan.Content,
		plan.RecordsUsed,
		plan.TokensUsed,
		plan.CreatedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("create performance plan", err)
	}
	return nil
}

// LatestByUser returns the newest plan for a user
func (r *PlanRepository) LatestByUser(ctx context.Context, userID string) (*models.PerformancePlan, error) {
	query := `
		SELECT id, user_id, model, content, records_used, tokens_used, created_at
		FROM performance_plans
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	var plan models.PerformancePlan
	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(
		&plan.ID,
		&plan.UserID,
		&plan.Model,
		&plan.Content,
		&plan.RecordsUsed,
		&plan.TokensUsed,
		&plan.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("performance plan", userID)
		}
		return nil, apperrors.NewDatabaseError("get latest performance plan", err)
	}
	return &plan, nil
}
