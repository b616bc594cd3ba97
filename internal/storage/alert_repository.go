package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/alert-engine/internal/alerterr"
	"github.com/alert-engine/internal/config"
	"github.com/alert-engine/internal/models"
)

// AlertRepository handles alert persistence and the trigger-state commits
// that make dispatch exactly-once per cooldown window.
type AlertRepository struct {
	db *PostgresDB
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *PostgresDB) *AlertRepository {
	return &AlertRepository{db: db}
}

// DueAlert is an active alert joined with the context the scheduler needs to
// plan its feed resources: the owner's effective tier and the resolved
// address or portfolio links behind the alert's target.
type DueAlert struct {
	Alert models.Alert
	Tier  models.UserTier

	// Address and Chain are set for wallet_tx / tracked_wallet_tx alerts.
	Address string
	Chain   string

	// PortfolioLinks is set for portfolio_value alerts.
	PortfolioLinks []models.ChainAddress
}

// TriggerCommit is the atomic state transition applied after the messaging
// collaborator acknowledges a send. ExpectedTriggerCount carries the
// compare-and-swap guard: if another process committed first, the update
// matches zero rows and the commit reports a conflict.
type TriggerCommit struct {
	AlertID              string
	ExpectedTriggerCount int
	TriggeredAt          time.Time
	Deactivate           bool
	LastSeenValue        *float64
	TxCursors            map[string]string
}

// Create persists a new alert. The kind/target invariant is validated before
// any write; IDs are assigned here if the caller left them empty.
func (r *AlertRepository) Create(ctx context.Context, alert *models.Alert) error {
	if err := alert.Validate(); err != nil {
		return alerterr.MalformedCondition(alert.ID, err)
	}
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	cursors, err := marshalCursors(alert.TxCursors)
	if err != nil {
		return fmt.Errorf("failed to marshal tx cursors: %w", err)
	}
	portfolioID, walletID, trackedWalletID := alert.Target.Refs()

	query := `
		INSERT INTO alerts (
			alert_id, user_id, kind, conditions,
			portfolio_id, wallet_id, tracked_wallet_id,
			is_active, created_at, last_triggered_at, trigger_count,
			last_seen_value, tx_cursor
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.db.Pool().Exec(ctx, query,
		alert.ID,
		alert.UserID,
		alert.Kind,
		alert.Conditions,
		portfolioID,
		walletID,
		trackedWalletID,
		alert.IsActive,
		alert.CreatedAt,
		alert.LastTriggeredAt,
		alert.TriggerCount,
		alert.LastSeenValue,
		cursors,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

// Get retrieves an alert by ID
func (r *AlertRepository) Get(ctx context.Context, alertID string) (*models.Alert, error) {
	query := `
		SELECT alert_id, user_id, kind, conditions,
		       portfolio_id, wallet_id, tracked_wallet_id,
		       is_active, created_at, last_triggered_at, trigger_count,
		       last_seen_value, tx_cursor
		FROM alerts
		WHERE alert_id = $1
	`

	alert, err := scanAlert(r.db.Pool().QueryRow(ctx, query, alertID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, alerterr.NotFound("alert", alertID)
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return alert, nil
}

// ListByUser retrieves all alerts for a user, newest first
func (r *AlertRepository) ListByUser(ctx context.Context, userID int64) ([]*models.Alert, error) {
	query := `
		SELECT alert_id, user_id, kind, conditions,
		       portfolio_id, wallet_id, tracked_wallet_id,
		       is_active, created_at, last_triggered_at, trigger_count,
		       last_seen_value, tx_cursor
		FROM alerts
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// CountActiveByUser counts a user's active alerts. Quota ceilings apply to
// active alerts only.
func (r *AlertRepository) CountActiveByUser(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM alerts WHERE user_id = $1 AND is_active = true`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return count, nil
}

// LoadDue loads every active alert that is past its kind-specific cooldown,
// joined with the owner's tier and the resolved target address or portfolio
// links. Alerts on tracked wallets with alerts disabled are excluded here
// rather than filtered downstream.
func (r *AlertRepository) LoadDue(ctx context.Context, now time.Time, cooldowns config.CooldownConfig) ([]*DueAlert, error) {
	query := `
		SELECT a.alert_id, a.user_id, a.kind, a.conditions,
		       a.portfolio_id, a.wallet_id, a.tracked_wallet_id,
		       a.is_active, a.created_at, a.last_triggered_at, a.trigger_count,
		       a.last_seen_value, a.tx_cursor,
		       u.tier, u.premium_expiry_at,
		       w.address, w.wallet_type,
		       tw.address, tw.wallet_type
		FROM alerts a
		JOIN users u ON u.user_id = a.user_id
		LEFT JOIN wallets w ON w.wallet_id = a.wallet_id
		LEFT JOIN tracked_wallets tw ON tw.tracked_wallet_id = a.tracked_wallet_id
		WHERE a.is_active = true
		  AND (a.tracked_wallet_id IS NULL OR tw.alerts_enabled = true)
		  AND (
		    a.last_triggered_at IS NULL
		    OR (a.kind = 'price'             AND a.last_triggered_at <= $1)
		    OR (a.kind = 'portfolio_value'   AND a.last_triggered_at <= $2)
		    OR (a.kind = 'wallet_tx'         AND a.last_triggered_at <= $3)
		    OR (a.kind = 'tracked_wallet_tx' AND a.last_triggered_at <= $4)
		  )
		ORDER BY a.created_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query,
		now.Add(-cooldowns.Price),
		now.Add(-cooldowns.PortfolioValue),
		now.Add(-cooldowns.WalletTx),
		now.Add(-cooldowns.TrackedTx),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load due alerts: %w", err)
	}
	defer rows.Close()

	var due []*DueAlert
	var portfolioIDs []string
	byPortfolio := make(map[string][]*DueAlert)

	for rows.Next() {
		var (
			alert           models.Alert
			portfolioID     *string
			walletID        *string
			trackedWalletID *string
			cursors         []byte
			tier            models.UserTier
			premiumExpiry   *time.Time
			walletAddr      *string
			walletType      *models.WalletType
			trackedAddr     *string
			trackedType     *models.WalletType
		)
		err := rows.Scan(
			&alert.ID, &alert.UserID, &alert.Kind, &alert.Conditions,
			&portfolioID, &walletID, &trackedWalletID,
			&alert.IsActive, &alert.CreatedAt, &alert.LastTriggeredAt, &alert.TriggerCount,
			&alert.LastSeenValue, &cursors,
			&tier, &premiumExpiry,
			&walletAddr, &walletType,
			&trackedAddr, &trackedType,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan due alert: %w", err)
		}

		alert.Target, err = models.TargetFromRefs(alert.Kind, portfolioID, walletID, trackedWalletID)
		if err != nil {
			return nil, fmt.Errorf("alert %s has inconsistent target references: %w", alert.ID, err)
		}
		if alert.TxCursors, err = unmarshalCursors(cursors); err != nil {
			return nil, fmt.Errorf("alert %s has malformed cursor state: %w", alert.ID, err)
		}

		user := models.User{Tier: tier, PremiumExpiryAt: premiumExpiry}
		da := &DueAlert{
			Alert: alert,
			Tier:  user.EffectiveTier(now),
		}
		switch {
		case walletAddr != nil:
			da.Address = *walletAddr
			da.Chain = defaultChainFor(walletType)
		case trackedAddr != nil:
			da.Address = *trackedAddr
			da.Chain = defaultChainFor(trackedType)
		}

		due = append(due, da)

		if pid, ok := alert.Target.PortfolioID(); ok {
			if _, seen := byPortfolio[pid]; !seen {
				portfolioIDs = append(portfolioIDs, pid)
			}
			byPortfolio[pid] = append(byPortfolio[pid], da)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read due alerts: %w", err)
	}

	if len(portfolioIDs) > 0 {
		links, err := r.loadPortfolioLinks(ctx, portfolioIDs)
		if err != nil {
			return nil, err
		}
		for pid, alerts := range byPortfolio {
			for _, da := range alerts {
				da.PortfolioLinks = links[pid]
			}
		}
	}

	return due, nil
}

// loadPortfolioLinks resolves (address, chain) pairs for a set of portfolios
// in one round trip.
func (r *AlertRepository) loadPortfolioLinks(ctx context.Context, portfolioIDs []string) (map[string][]models.ChainAddress, error) {
	query := `
		SELECT pw.portfolio_id, w.address, pw.chain
		FROM portfolio_wallets pw
		JOIN wallets w ON w.wallet_id = pw.wallet_id
		WHERE pw.portfolio_id = ANY($1)
		ORDER BY pw.portfolio_id, pw.added_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, portfolioIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio links: %w", err)
	}
	defer rows.Close()

	links := make(map[string][]models.ChainAddress)
	for rows.Next() {
		var portfolioID string
		var link models.ChainAddress
		if err := rows.Scan(&portfolioID, &link.Address, &link.Chain); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio link: %w", err)
		}
		links[portfolioID] = append(links[portfolioID], link)
	}
	return links, rows.Err()
}

// CommitTrigger applies the post-dispatch state transition atomically. The
// guard on trigger_count means the transition lands at most once: a stale
// commit (another process got there first) returns a conflict and mutates
// nothing.
func (r *AlertRepository) CommitTrigger(ctx context.Context, commit TriggerCommit) error {
	cursors, err := marshalCursors(commit.TxCursors)
	if err != nil {
		return fmt.Errorf("failed to marshal tx cursors: %w", err)
	}

	query := `
		UPDATE alerts
		SET trigger_count = trigger_count + 1,
		    last_triggered_at = $1,
		    is_active = CASE WHEN $2 THEN false ELSE is_active END,
		    last_seen_value = COALESCE($3, last_seen_value),
		    tx_cursor = COALESCE($4, tx_cursor)
		WHERE alert_id = $5 AND trigger_count = $6 AND is_active = true
	`

	tag, err := r.db.Pool().Exec(ctx, query,
		commit.TriggeredAt,
		commit.Deactivate,
		commit.LastSeenValue,
		cursors,
		commit.AlertID,
		commit.ExpectedTriggerCount,
	)
	if err != nil {
		return fmt.Errorf("failed to commit trigger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return alerterr.Conflict(fmt.Sprintf("alert %s was modified concurrently", commit.AlertID))
	}
	return nil
}

// UpdateObservation advances an alert's observation state without triggering:
// the last seen value for threshold kinds, the forward cursors for
// transaction kinds. Idempotent; safe to call every tick.
func (r *AlertRepository) UpdateObservation(ctx context.Context, alertID string, lastSeenValue *float64, txCursors map[string]string) error {
	cursors, err := marshalCursors(txCursors)
	if err != nil {
		return fmt.Errorf("failed to marshal tx cursors: %w", err)
	}

	query := `
		UPDATE alerts
		SET last_seen_value = COALESCE($1, last_seen_value),
		    tx_cursor = COALESCE($2, tx_cursor)
		WHERE alert_id = $3
	`

	tag, err := r.db.Pool().Exec(ctx, query, lastSeenValue, cursors, alertID)
	if err != nil {
		return fmt.Errorf("failed to update observation state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return alerterr.NotFound("alert", alertID)
	}
	return nil
}

// SetActive activates or deactivates an alert
func (r *AlertRepository) SetActive(ctx context.Context, alertID string, active bool) error {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE alerts SET is_active = $1 WHERE alert_id = $2`,
		active, alertID,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return alerterr.NotFound("alert", alertID)
	}
	return nil
}

// Delete removes an alert
func (r *AlertRepository) Delete(ctx context.Context, alertID string) error {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM alerts WHERE alert_id = $1`, alertID)
	if err != nil {
		return fmt.Errorf("failed to delete alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return alerterr.NotFound("alert", alertID)
	}
	return nil
}

// rowScanner covers pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		alert           models.Alert
		portfolioID     *string
		walletID        *string
		trackedWalletID *string
		cursors         []byte
	)
	err := row.Scan(
		&alert.ID, &alert.UserID, &alert.Kind, &alert.Conditions,
		&portfolioID, &walletID, &trackedWalletID,
		&alert.IsActive, &alert.CreatedAt, &alert.LastTriggeredAt, &alert.TriggerCount,
		&alert.LastSeenValue, &cursors,
	)
	if err != nil {
		return nil, err
	}

	alert.Target, err = models.TargetFromRefs(alert.Kind, portfolioID, walletID, trackedWalletID)
	if err != nil {
		return nil, err
	}
	if alert.TxCursors, err = unmarshalCursors(cursors); err != nil {
		return nil, err
	}
	return &alert, nil
}

func marshalCursors(cursors map[string]string) ([]byte, error) {
	if cursors == nil {
		return nil, nil
	}
	return json.Marshal(cursors)
}

func unmarshalCursors(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var cursors map[string]string
	if err := json.Unmarshal(data, &cursors); err != nil {
		return nil, err
	}
	return cursors, nil
}

// defaultChainFor maps a wallet family to the chain its transaction feed is
// queried on when the alert conditions name no chains.
func defaultChainFor(t *models.WalletType) string {
	if t == nil {
		return "eth"
	}
	switch *t {
	case models.WalletTypeSolana:
		return "solana"
	default:
		return "eth"
	}
}
