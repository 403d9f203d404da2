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

// eligibleUserFilter selects users the scheduled fetch should include
const eligibleUserFilter = `
	terra_user_id IS NOT NULL
	AND terra_connected = true
	AND fetch_enabled IS DISTINCT FROM false`

const userColumns = `
	id, email, terra_user_id, terra_reference_id, terra_provider, terra_connected,
	fetch_enabled, last_synced_at, next_scheduled_fetch, created_at, updated_at`

// UserRepository handles user data persistence
type UserRepository struct {
	db *PostgresDB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *PostgresDB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (
			id, email, terra_user_id, terra_reference_id, terra_provider,
			terra_connected, fetch_enabled, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		user.ID,
		user.Email,
		user.TerraUserID,
		user.TerraReferenceID,
		user.TerraProvider,
		user.TerraConnected,
		user.FetchEnabled,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("create user", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("user", id)
		}
		return nil, apperrors.NewDatabaseError("get user", err)
	}
	return user, nil
}

// CountEligible counts users connected to Terra with fetching enabled
func (r *UserRepository) CountEligible(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM users WHERE ` + eligibleUserFilter

	var count int
	if err := r.db.Pool().QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, apperrors.NewDatabaseError("count eligible users", err)
	}
	return count, nil
}

// ListEligible returns one page of eligible users in a stable order
func (r *UserRepository) ListEligible(ctx context.Context, limit, offset int) ([]*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE ` + eligibleUserFilter + `
		ORDER BY created_at, id
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool().Query(ctx, query, limit, offset)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list eligible users", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan eligible user", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate eligible users", err)
	}

	return users, nil
}

// UpdateSyncMetadata records when the user was last synced and when the next fetch is due
func (r *UserRepository) UpdateSyncMetadata(ctx context.Context, id string, lastSyncedAt, nextScheduledFetch time.Time) error {
	query := `
		UPDATE users
		SET last_synced_at = $2, next_scheduled_fetch = $3, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Pool().Exec(ctx, query, id, lastSyncedAt, nextScheduledFetch)
	if err != nil {
		return apperrors.NewDatabaseError("update sync metadata", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("user", id)
	}
	return nil
}

// SetFetchEnabled toggles scheduled fetching for a user
func (r *UserRepository) SetFetchEnabled(ctx context.Context, id string, enabled bool) error {
	query := `UPDATE users SET fetch_enabled = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.db.Pool().Exec(ctx, query, id, enabled)
	if err != nil {
		return apperrors.NewDatabaseError("set fetch enabled", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("user", id)
	}
	return nil
}

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.TerraUserID,
		&user.TerraReferenceID,
		&user.TerraProvider,
		&user.TerraConnected,
		&user.FetchEnabled,
		&user.LastSyncedAt,
		&user.NextScheduledFetch,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
