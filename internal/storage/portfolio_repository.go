package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/alert-engine/internal/alerterr"
	"github.com/alert-engine/internal/models"
)

// PortfolioRepository handles portfolio and link persistence
type PortfolioRepository struct {
	db *PostgresDB
}

// NewPortfolioRepository creates a new portfolio repository
func NewPortfolioRepository(db *PostgresDB) *PortfolioRepository {
	return &PortfolioRepository{db: db}
}

// Create persists a new portfolio. (user_id, name) is unique.
func (r *PortfolioRepository) Create(ctx context.Context, p *models.Portfolio) error {
	if p.Name == "" {
		return fmt.Errorf("portfolio name must not be empty")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
		p.UpdatedAt = now
	}

	query := `
		INSERT INTO portfolios (portfolio_id, user_id, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, name) DO NOTHING
	`

	tag, err := r.db.Pool().Exec(ctx, query,
		p.ID, p.UserID, p.Name, p.Description, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create portfolio: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return alerterr.Conflict(fmt.Sprintf("portfolio %q already exists for user %d", p.Name, p.UserID))
	}
	return nil
}

// Get retrieves a portfolio by ID
func (r *PortfolioRepository) Get(ctx context.Context, portfolioID string) (*models.Portfolio, error) {
	query := `
		SELECT portfolio_id, user_id, name, description, created_at, updated_at
		FROM portfolios
		WHERE portfolio_id = $1
	`

	var p models.Portfolio
	err := r.db.Pool().QueryRow(ctx, query, portfolioID).Scan(
		&p.ID, &p.UserID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, alerterr.NotFound("portfolio", portfolioID)
		}
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}
	return &p, nil
}

// ListByUser retrieves all portfolios for a user
func (r *PortfolioRepository) ListByUser(ctx context.Context, userID int64) ([]*models.Portfolio, error) {
	query := `
		SELECT portfolio_id, user_id, name, description, created_at, updated_at
		FROM portfolios
		WHERE user_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list portfolios: %w", err)
	}
	defer rows.Close()

	var portfolios []*models.Portfolio
	for rows.Next() {
		var p models.Portfolio
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio: %w", err)
		}
		portfolios = append(portfolios, &p)
	}
	return portfolios, rows.Err()
}

// Delete removes a portfolio. Links and alerts referencing it cascade at the
// schema level.
func (r *PortfolioRepository) Delete(ctx context.Context, portfolioID string) error {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM portfolios WHERE portfolio_id = $1`, portfolioID)
	if err != nil {
		return fmt.Errorf("failed to delete portfolio: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return alerterr.NotFound("portfolio", portfolioID)
	}
	return nil
}

// AddWallet links a wallet to a portfolio on one chain. The same wallet can
// be linked on several chains; (portfolio, wallet, chain) is unique.
func (r *PortfolioRepository) AddWallet(ctx context.Context, link *models.PortfolioWallet) error {
	if link.Chain == "" {
		return fmt.Errorf("portfolio link chain must not be empty")
	}
	if link.LinkID == "" {
		link.LinkID = uuid.New().String()
	}
	if link.AddedAt.IsZero() {
		link.AddedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO portfolio_wallets (link_id, portfolio_id, wallet_id, chain, added_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (portfolio_id, wallet_id, chain) DO NOTHING
	`

	tag, err := r.db.Pool().Exec(ctx, query,
		link.LinkID, link.PortfolioID, link.WalletID, link.Chain, link.AddedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to link wallet to portfolio: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return alerterr.Conflict(fmt.Sprintf("wallet %s already linked to portfolio %s on %s",
			link.WalletID, link.PortfolioID, link.Chain))
	}
	return nil
}

// RemoveWallet unlinks a wallet from a portfolio on one chain
func (r *PortfolioRepository) RemoveWallet(ctx context.Context, portfolioID, walletID, chain string) error {
	tag, err := r.db.Pool().Exec(ctx,
		`DELETE FROM portfolio_wallets WHERE portfolio_id = $1 AND wallet_id = $2 AND chain = $3`,
		portfolioID, walletID, chain,
	)
	if err != nil {
		return fmt.Errorf("failed to unlink wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return alerterr.NotFound("portfolio_wallet", fmt.Sprintf("%s/%s/%s", portfolioID, walletID, chain))
	}
	return nil
}

// Links resolves the (address, chain) pairs behind one portfolio
func (r *PortfolioRepository) Links(ctx context.Context, portfolioID string) ([]models.ChainAddress, error) {
	query := `
		SELECT w.address, pw.chain
		FROM portfolio_wallets pw
		JOIN wallets w ON w.wallet_id = pw.wallet_id
		WHERE pw.portfolio_id = $1
		ORDER BY pw.added_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve portfolio links: %w", err)
	}
	defer rows.Close()

	var links []models.ChainAddress
	for rows.Next() {
		var link models.ChainAddress
		if err := rows.Scan(&link.Address, &link.Chain); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio link: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}
