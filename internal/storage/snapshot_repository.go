package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alert-engine/internal/models"
)

// SnapshotRepository persists portfolio valuation snapshots. The scheduler
// records one whenever a portfolio_value alert observes a fresh valuation,
// which gives users a value history as a side effect of alerting.
type SnapshotRepository struct {
	db *PostgresDB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *PostgresDB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Record persists one valuation observation
func (r *SnapshotRepository) Record(ctx context.Context, snapshot *models.PortfolioSnapshot) error {
	if snapshot.ID == "" {
		snapshot.ID = uuid.New().String()
	}
	if snapshot.TakenAt.IsZero() {
		snapshot.TakenAt = time.Now().UTC()
	}

	query := `
		INSERT INTO portfolio_snapshots (snapshot_id, user_id, portfolio_id, total_value, taken_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		snapshot.ID, snapshot.UserID, snapshot.PortfolioID, snapshot.TotalValue, snapshot.TakenAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record snapshot: %w", err)
	}
	return nil
}

// History retrieves snapshots for a portfolio since a cutoff, oldest first
func (r *SnapshotRepository) History(ctx context.Context, portfolioID string, since time.Time) ([]*models.PortfolioSnapshot, error) {
	query := `
		SELECT snapshot_id, user_id, portfolio_id, total_value, taken_at
		FROM portfolio_snapshots
		WHERE portfolio_id = $1 AND taken_at >= $2
		ORDER BY taken_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, portfolioID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot history: %w", err)
	}
	defer rows.Close()

	var snapshots []*models.PortfolioSnapshot
	for rows.Next() {
		var s models.PortfolioSnapshot
		if err := rows.Scan(&s.ID, &s.UserID, &s.PortfolioID, &s.TotalValue, &s.TakenAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, &s)
	}
	return snapshots, rows.Err()
}

// Prune deletes snapshots older than the cutoff. Returns the number removed.
func (r *SnapshotRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx,
		`DELETE FROM portfolio_snapshots WHERE taken_at < $1`, before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}
