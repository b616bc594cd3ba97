package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alert-engine/internal/alerterr"
	"github.com/alert-engine/internal/models"
)

// UserRepository handles user persistence
type UserRepository struct {
	db *PostgresDB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *PostgresDB) *UserRepository {
	return &UserRepository{db: db}
}

// Upsert creates a user or refreshes their display fields. Tier and expiry
// are never touched here; subscription changes go through SetTier.
func (r *UserRepository) Upsert(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	if user.Tier == "" {
		user.Tier = models.TierFree
	}

	query := `
		INSERT INTO users (user_id, username, first_name, tier, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET username = EXCLUDED.username,
		    first_name = EXCLUDED.first_name,
		    updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.Pool().Exec(ctx, query,
		user.ID, user.Username, user.FirstName, user.Tier, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// Get retrieves a user by ID
func (r *UserRepository) Get(ctx context.Context, userID int64) (*models.User, error) {
	query := `
		SELECT user_id, username, first_name, tier, premium_expiry_at,
		       api_call_count, last_api_call_at, created_at, updated_at
		FROM users
		WHERE user_id = $1
	`

	var user models.User
	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(
		&user.ID, &user.Username, &user.FirstName, &user.Tier, &user.PremiumExpiryAt,
		&user.APICallCount, &user.LastAPICallAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, alerterr.NotFound("user", strconv.FormatInt(userID, 10))
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// SetTier updates a user's subscription tier and expiry
func (r *UserRepository) SetTier(ctx context.Context, userID int64, tier models.UserTier, expiryAt *time.Time) error {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE users SET tier = $1, premium_expiry_at = $2, updated_at = $3 WHERE user_id = $4`,
		tier, expiryAt, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("failed to set user tier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return alerterr.NotFound("user", strconv.FormatInt(userID, 10))
	}
	return nil
}

// RecordAPICall bumps the legacy per-user call counter kept for operator
// visibility. The authoritative daily quota lives in Redis.
func (r *UserRepository) RecordAPICall(ctx context.Context, userID int64, calls int) error {
	_, err := r.db.Pool().Exec(ctx,
		`UPDATE users SET api_call_count = api_call_count + $1, last_api_call_at = $2 WHERE user_id = $3`,
		calls, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("failed to record api calls: %w", err)
	}
	return nil
}

// DemoteExpired demotes premium users whose expiry has passed. Returns the
// number of demoted users. The scheduler runs this once per tick.
func (r *UserRepository) DemoteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE users SET tier = 'free', premium_expiry_at = NULL, updated_at = $1
		 WHERE tier = 'premium' AND premium_expiry_at IS NOT NULL AND premium_expiry_at < $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to demote expired users: %w", err)
	}
	return tag.RowsAffected(), nil
}
