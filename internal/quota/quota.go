// Package quota enforces per-user tier ceilings: how many wallets and alerts
// a user may register and how many external feed calls their alerts may spend
// per UTC day. Daily counters live in Redis so every engine instance sees the
// same spend.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alert-engine/internal/alerterr"
	"github.com/alert-engine/internal/config"
	"github.com/alert-engine/internal/models"
)

// KeyPrefixCalls is the Redis key prefix for daily call counters.
const KeyPrefixCalls = "quota:calls:"

// callKeyTTL keeps yesterday's counter around briefly for inspection; the
// date in the key makes the daily reset automatic.
const callKeyTTL = 48 * time.Hour

// AlertCounter counts a user's active alerts.
type AlertCounter interface {
	CountActiveByUser(ctx context.Context, userID int64) (int, error)
}

// WalletCounter counts a user's owned plus tracked wallets.
type WalletCounter interface {
	CountByUser(ctx context.Context, userID int64) (int, error)
}

// AlertStore persists alerts. The manager checks the ceiling first and only
// then delegates, so a denied creation persists nothing.
type AlertStore interface {
	AlertCounter
	Create(ctx context.Context, alert *models.Alert) error
}

// WalletStore persists owned and tracked wallets.
type WalletStore interface {
	WalletCounter
	Create(ctx context.Context, wallet *models.Wallet) error
	CreateTracked(ctx context.Context, tracked *models.TrackedWallet) error
}

// TierResolver returns a user's effective tier.
type TierResolver interface {
	Get(ctx context.Context, userID int64) (*models.User, error)
}

// Manager applies tier quotas in front of the stores and tracks daily feed
// call spend.
type Manager struct {
	cfg     config.QuotaConfig
	redis   redis.Cmdable
	alerts  AlertStore
	wallets WalletStore
	users   TierResolver
	now     func() time.Time
}

// NewManager creates a quota manager.
func NewManager(cfg config.QuotaConfig, redisClient redis.Cmdable, alerts AlertStore, wallets WalletStore, users TierResolver) *Manager {
	return &Manager{
		cfg:     cfg,
		redis:   redisClient,
		alerts:  alerts,
		wallets: wallets,
		users:   users,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock. Tests use this to cross day boundaries.
func (m *Manager) SetNow(now func() time.Time) {
	m.now = now
}

// LimitsFor returns the ceilings for a tier.
func (m *Manager) LimitsFor(tier models.UserTier) config.TierLimits {
	if tier == models.TierPremium {
		return m.cfg.Premium
	}
	return m.cfg.Free
}

func (m *Manager) limitsForUser(ctx context.Context, userID int64) (config.TierLimits, error) {
	user, err := m.users.Get(ctx, userID)
	if err != nil {
		return config.TierLimits{}, err
	}
	return m.LimitsFor(user.EffectiveTier(m.now())), nil
}

// CreateAlert creates an alert if the user is under their active-alert
// ceiling. On a denied creation nothing is persisted.
func (m *Manager) CreateAlert(ctx context.Context, alert *models.Alert) error {
	limits, err := m.limitsForUser(ctx, alert.UserID)
	if err != nil {
		return err
	}

	count, err := m.alerts.CountActiveByUser(ctx, alert.UserID)
	if err != nil {
		return err
	}
	if count >= limits.MaxAlerts {
		return alerterr.QuotaExceeded(alert.UserID, "alerts", limits.MaxAlerts)
	}

	return m.alerts.Create(ctx, alert)
}

// AddWallet registers an owned wallet if the user is under their wallet
// ceiling. Owned and tracked wallets count against the same ceiling.
func (m *Manager) AddWallet(ctx context.Context, wallet *models.Wallet) error {
	if err := m.checkWalletCeiling(ctx, wallet.UserID); err != nil {
		return err
	}
	return m.wallets.Create(ctx, wallet)
}

// AddTrackedWallet registers a tracked wallet under the shared wallet ceiling.
func (m *Manager) AddTrackedWallet(ctx context.Context, tracked *models.TrackedWallet) error {
	if err := m.checkWalletCeiling(ctx, tracked.UserID); err != nil {
		return err
	}
	return m.wallets.CreateTracked(ctx, tracked)
}

func (m *Manager) checkWalletCeiling(ctx context.Context, userID int64) error {
	limits, err := m.limitsForUser(ctx, userID)
	if err != nil {
		return err
	}

	count, err := m.wallets.CountByUser(ctx, userID)
	if err != nil {
		return err
	}
	if count >= limits.MaxWallets {
		return alerterr.QuotaExceeded(userID, "wallets", limits.MaxWallets)
	}
	return nil
}

// callKey returns the counter key for a user on the current UTC day.
func (m *Manager) callKey(userID int64) string {
	return fmt.Sprintf("%s%d:%s", KeyPrefixCalls, userID, m.now().Format("2006-01-02"))
}

// CallExhausted reports whether the user has spent their daily feed call
// quota. On a Redis error it reports not exhausted: a broken counter should
// degrade to evaluating alerts, not silently disabling them.
func (m *Manager) CallExhausted(ctx context.Context, userID int64, tier models.UserTier) (bool, error) {
	used, err := m.redis.Get(ctx, m.callKey(userID)).Int()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, alerterr.Transient("quota check", err)
	}
	return used >= m.LimitsFor(tier).MaxCallsPerDay, nil
}

// consumeScript atomically increments the day's counter unless doing so
// would cross the ceiling. A denied spend pins the counter at the ceiling so
// CallExhausted reports true for the rest of the day even when no single
// spend lands exactly on the limit.
var consumeScript = redis.NewScript(`
	local key = KEYS[1]
	local n = tonumber(ARGV[1])
	local limit = tonumber(ARGV[2])
	local ttl = tonumber(ARGV[3])

	local used = tonumber(redis.call('GET', key) or '0')
	if used + n > limit then
		if used < limit then
			redis.call('SET', key, limit, 'EX', ttl)
		end
		return {0, used}
	end

	redis.call('INCRBY', key, n)
	redis.call('EXPIRE', key, ttl)
	return {1, used + n}
`)

// ConsumeCalls spends n feed calls from the user's daily quota. It either
// consumes all n or none; a denied spend returns a quota error and closes
// out the day by pinning the counter at the ceiling.
func (m *Manager) ConsumeCalls(ctx context.Context, userID int64, tier models.UserTier, n int) error {
	if n <= 0 {
		return nil
	}
	limit := m.LimitsFor(tier).MaxCallsPerDay

	result, err := consumeScript.Run(ctx, m.redis, []string{m.callKey(userID)},
		n, limit, int(callKeyTTL.Seconds())).Int64Slice()
	if err != nil {
		return alerterr.Transient("quota consume", err)
	}
	if result[0] != 1 {
		return alerterr.QuotaExceeded(userID, "calls", limit)
	}
	return nil
}

// CallsUsed returns the user's spend so far today.
func (m *Manager) CallsUsed(ctx context.Context, userID int64) (int, error) {
	used, err := m.redis.Get(ctx, m.callKey(userID)).Int()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, alerterr.Transient("quota read", err)
	}
	return used, nil
}
