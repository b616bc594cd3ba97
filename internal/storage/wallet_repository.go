package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/alert-engine/internal/alerterr"
	"github.com/alert-engine/internal/models"
)

// WalletRepository handles owned and tracked wallet persistence
type WalletRepository struct {
	db *PostgresDB
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(db *PostgresDB) *WalletRepository {
	return &WalletRepository{db: db}
}

// ValidateAddress checks an address against its declared family. EVM
// addresses get a strict hex check; other families only a non-empty check
// since their encodings vary.
func ValidateAddress(address string, walletType models.WalletType) error {
	if !walletType.Valid() {
		return fmt.Errorf("unknown wallet type: %s", walletType)
	}
	if walletType == models.WalletTypeEVM && !common.IsHexAddress(address) {
		return fmt.Errorf("invalid EVM address format: %s", address)
	}
	if strings.TrimSpace(address) == "" {
		return fmt.Errorf("address must not be empty")
	}
	return nil
}

// normalizeAddress lowercases EVM addresses so the same address compares
// equal regardless of checksum casing. Other families are case sensitive.
func normalizeAddress(address string, walletType models.WalletType) string {
	if walletType == models.WalletTypeEVM {
		return strings.ToLower(address)
	}
	return address
}

// Create persists a new owned wallet. (user_id, address) is unique; a
// duplicate reports a conflict.
func (r *WalletRepository) Create(ctx context.Context, wallet *models.Wallet) error {
	if err := ValidateAddress(wallet.Address, wallet.Type); err != nil {
		return err
	}
	wallet.Address = normalizeAddress(wallet.Address, wallet.Type)
	if wallet.ID == "" {
		wallet.ID = uuid.New().String()
	}
	if wallet.CreatedAt.IsZero() {
		wallet.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO wallets (wallet_id, user_id, address, wallet_type, label, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, address) DO NOTHING
	`

	tag, err := r.db.Pool().Exec(ctx, query,
		wallet.ID, wallet.UserID, wallet.Address, wallet.Type, wallet.Label, wallet.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return alerterr.Conflict(fmt.Sprintf("wallet %s already registered for user %d", wallet.Address, wallet.UserID))
	}
	return nil
}

// Get retrieves a wallet by ID
func (r *WalletRepository) Get(ctx context.Context, walletID string) (*models.Wallet, error) {
	query := `
		SELECT wallet_id, user_id, address, wallet_type, label, created_at
		FROM wallets
		WHERE wallet_id = $1
	`

	var w models.Wallet
	err := r.db.Pool().QueryRow(ctx, query, walletID).Scan(
		&w.ID, &w.UserID, &w.Address, &w.Type, &w.Label, &w.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, alerterr.NotFound("wallet", walletID)
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &w, nil
}

// ListByUser retrieves all owned wallets for a user
func (r *WalletRepository) ListByUser(ctx context.Context, userID int64) ([]*models.Wallet, error) {
	query := `
		SELECT wallet_id, user_id, address, wallet_type, label, created_at
		FROM wallets
		WHERE user_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*models.Wallet
	for rows.Next() {
		var w models.Wallet
		if err := rows.Scan(&w.ID, &w.UserID, &w.Address, &w.Type, &w.Label, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, &w)
	}
	return wallets, rows.Err()
}

// Delete removes a wallet. Portfolio links and alerts referencing it cascade
// at the schema level.
func (r *WalletRepository) Delete(ctx context.Context, walletID string) error {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM wallets WHERE wallet_id = $1`, walletID)
	if err != nil {
		return fmt.Errorf("failed to delete wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return alerterr.NotFound("wallet", walletID)
	}
	return nil
}

// CountByUser counts a user's owned and tracked wallets together. The
// wallet quota ceiling covers both.
func (r *WalletRepository) CountByUser(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM wallets WHERE user_id = $1)
		     + (SELECT COUNT(*) FROM tracked_wallets WHERE user_id = $1)
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count wallets: %w", err)
	}
	return count, nil
}

// CreateTracked persists a new tracked wallet
func (r *WalletRepository) CreateTracked(ctx context.Context, tracked *models.TrackedWallet) error {
	if err := ValidateAddress(tracked.Address, tracked.Type); err != nil {
		return err
	}
	tracked.Address = normalizeAddress(tracked.Address, tracked.Type)
	if tracked.ID == "" {
		tracked.ID = uuid.New().String()
	}
	if tracked.CreatedAt.IsZero() {
		tracked.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO tracked_wallets (tracked_wallet_id, user_id, address, wallet_type, label, alerts_enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, address) DO NOTHING
	`

	tag, err := r.db.Pool().Exec(ctx, query,
		tracked.ID, tracked.UserID, tracked.Address, tracked.Type, tracked.Label, tracked.AlertsEnabled, tracked.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create tracked wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return alerterr.Conflict(fmt.Sprintf("tracked wallet %s already registered for user %d", tracked.Address, tracked.UserID))
	}
	return nil
}

// GetTracked retrieves a tracked wallet by ID
func (r *WalletRepository) GetTracked(ctx context.Context, trackedID string) (*models.TrackedWallet, error) {
	query := `
		SELECT tracked_wallet_id, user_id, address, wallet_type, label, alerts_enabled, created_at
		FROM tracked_wallets
		WHERE tracked_wallet_id = $1
	`

	var tw models.TrackedWallet
	err := r.db.Pool().QueryRow(ctx, query, trackedID).Scan(
		&tw.ID, &tw.UserID, &tw.Address, &tw.Type, &tw.Label, &tw.AlertsEnabled, &tw.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, alerterr.NotFound("tracked_wallet", trackedID)
		}
		return nil, fmt.Errorf("failed to get tracked wallet: %w", err)
	}
	return &tw, nil
}

// SetTrackedAlertsEnabled toggles alert evaluation for a tracked wallet
func (r *WalletRepository) SetTrackedAlertsEnabled(ctx context.Context, trackedID string, enabled bool) error {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE tracked_wallets SET alerts_enabled = $1 WHERE tracked_wallet_id = $2`,
		enabled, trackedID,
	)
	if err != nil {
		return fmt.Errorf("failed to update tracked wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return alerterr.NotFound("tracked_wallet", trackedID)
	}
	return nil
}

// DeleteTracked removes a tracked wallet
func (r *WalletRepository) DeleteTracked(ctx context.Context, trackedID string) error {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM tracked_wallets WHERE tracked_wallet_id = $1`, trackedID)
	if err != nil {
		return fmt.Errorf("failed to delete tracked wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return alerterr.NotFound("tracked_wallet", trackedID)
	}
	return nil
}
