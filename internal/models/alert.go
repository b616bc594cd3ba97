package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// AlertKind discriminates the alert variants
type AlertKind string

const (
	// KindPrice triggers on a spot price crossing a threshold
	KindPrice AlertKind = "price"
	// KindPortfolioValue triggers on a portfolio's aggregate value crossing a threshold
	KindPortfolioValue AlertKind = "portfolio_value"
	// KindWalletTx triggers on new transactions on an owned wallet
	KindWalletTx AlertKind = "wallet_tx"
	// KindTrackedWalletTx triggers on new transactions on a tracked wallet
	KindTrackedWalletTx AlertKind = "tracked_wallet_tx"
)

// Valid reports whether the kind is one of the known variants.
func (k AlertKind) Valid() bool {
	switch k {
	case KindPrice, KindPortfolioValue, KindWalletTx, KindTrackedWalletTx:
		return true
	}
	return false
}

// OneShot reports whether a confirmed dispatch deactivates the alert.
// Threshold alerts fire once; transaction alerts keep watching.
func (k AlertKind) OneShot() bool {
	return k == KindPrice || k == KindPortfolioValue
}

// AlertTarget is the kind-discriminated reference an alert watches. Exactly
// one reference is populated for portfolio/wallet kinds and none for price
// alerts; the constructors below are the only way to build one, so an
// ambiguous reference set is unrepresentable.
type AlertTarget struct {
	portfolioID     *string
	walletID        *string
	trackedWalletID *string
}

// NoTarget returns the empty target used by price alerts.
func NoTarget() AlertTarget {
	return AlertTarget{}
}

// PortfolioTarget returns a target referencing a portfolio.
func PortfolioTarget(portfolioID string) AlertTarget {
	return AlertTarget{portfolioID: &portfolioID}
}

// WalletTarget returns a target referencing an owned wallet.
func WalletTarget(walletID string) AlertTarget {
	return AlertTarget{walletID: &walletID}
}

// TrackedWalletTarget returns a target referencing a tracked wallet.
func TrackedWalletTarget(trackedWalletID string) AlertTarget {
	return AlertTarget{trackedWalletID: &trackedWalletID}
}

// PortfolioID returns the referenced portfolio, if any.
func (t AlertTarget) PortfolioID() (string, bool) {
	if t.portfolioID == nil {
		return "", false
	}
	return *t.portfolioID, true
}

// WalletID returns the referenced wallet, if any.
func (t AlertTarget) WalletID() (string, bool) {
	if t.walletID == nil {
		return "", false
	}
	return *t.walletID, true
}

// TrackedWalletID returns the referenced tracked wallet, if any.
func (t AlertTarget) TrackedWalletID() (string, bool) {
	if t.trackedWalletID == nil {
		return "", false
	}
	return *t.trackedWalletID, true
}

// Refs returns the nullable reference columns for persistence.
func (t AlertTarget) Refs() (portfolioID, walletID, trackedWalletID *string) {
	return t.portfolioID, t.walletID, t.trackedWalletID
}

// TargetFromRefs rebuilds a target from nullable columns, validating that the
// populated set matches the kind. Used by the storage layer on reads.
func TargetFromRefs(kind AlertKind, portfolioID, walletID, trackedWalletID *string) (AlertTarget, error) {
	populated := 0
	for _, ref := range []*string{portfolioID, walletID, trackedWalletID} {
		if ref != nil {
			populated++
		}
	}

	switch kind {
	case KindPrice:
		if populated != 0 {
			return AlertTarget{}, fmt.Errorf("price alert must not reference a target, got %d references", populated)
		}
		return NoTarget(), nil
	case KindPortfolioValue:
		if portfolioID == nil || populated != 1 {
			return AlertTarget{}, fmt.Errorf("portfolio_value alert must reference exactly one portfolio")
		}
		return PortfolioTarget(*portfolioID), nil
	case KindWalletTx:
		if walletID == nil || populated != 1 {
			return AlertTarget{}, fmt.Errorf("wallet_tx alert must reference exactly one wallet")
		}
		return WalletTarget(*walletID), nil
	case KindTrackedWalletTx:
		if trackedWalletID == nil || populated != 1 {
			return AlertTarget{}, fmt.Errorf("tracked_wallet_tx alert must reference exactly one tracked wallet")
		}
		return TrackedWalletTarget(*trackedWalletID), nil
	default:
		return AlertTarget{}, fmt.Errorf("unknown alert kind: %s", kind)
	}
}

// Alert is the central entity: a user-defined condition over market or
// portfolio data. The conditions payload varies by kind and is parsed at the
// evaluator boundary.
type Alert struct {
	ID              string          `json:"id" db:"alert_id"`
	UserID          int64           `json:"userId" db:"user_id"`
	Kind            AlertKind       `json:"kind" db:"kind"`
	Conditions      json.RawMessage `json:"conditions" db:"conditions"`
	Target          AlertTarget     `json:"-"`
	IsActive        bool            `json:"isActive" db:"is_active"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
	LastTriggeredAt *time.Time      `json:"lastTriggeredAt,omitempty" db:"last_triggered_at"`
	TriggerCount    int             `json:"triggerCount" db:"trigger_count"`

	// LastSeenValue is the previously observed price/value used for one-shot
	// crossing detection. Nil until the first evaluation.
	LastSeenValue *float64 `json:"lastSeenValue,omitempty" db:"last_seen_value"`

	// TxCursors holds the per-chain forward cursor for transaction kinds.
	TxCursors map[string]string `json:"txCursors,omitempty" db:"tx_cursor"`
}

// NewPriceAlert creates a price alert. Price alerts reference no target.
func NewPriceAlert(userID int64, conditions json.RawMessage) *Alert {
	return newAlert(userID, KindPrice, conditions, NoTarget())
}

// NewPortfolioValueAlert creates an alert on a portfolio's aggregate value.
func NewPortfolioValueAlert(userID int64, portfolioID string, conditions json.RawMessage) *Alert {
	return newAlert(userID, KindPortfolioValue, conditions, PortfolioTarget(portfolioID))
}

// NewWalletTxAlert creates an alert on an owned wallet's transaction feed.
func NewWalletTxAlert(userID int64, walletID string, conditions json.RawMessage) *Alert {
	return newAlert(userID, KindWalletTx, conditions, WalletTarget(walletID))
}

// NewTrackedWalletTxAlert creates an alert on a tracked wallet's transaction feed.
func NewTrackedWalletTxAlert(userID int64, trackedWalletID string, conditions json.RawMessage) *Alert {
	return newAlert(userID, KindTrackedWalletTx, conditions, TrackedWalletTarget(trackedWalletID))
}

func newAlert(userID int64, kind AlertKind, conditions json.RawMessage, target AlertTarget) *Alert {
	return &Alert{
		UserID:     userID,
		Kind:       kind,
		Conditions: conditions,
		Target:     target,
		IsActive:   true,
	}
}

// Validate checks the kind/reference invariant. The storage layer calls this
// on every write, not just on reads.
func (a *Alert) Validate() error {
	if !a.Kind.Valid() {
		return fmt.Errorf("unknown alert kind: %s", a.Kind)
	}
	if len(a.Conditions) == 0 {
		return fmt.Errorf("alert conditions must not be empty")
	}
	p, w, tw := a.Target.Refs()
	if _, err := TargetFromRefs(a.Kind, p, w, tw); err != nil {
		return err
	}
	return nil
}

// DueAt returns the earliest time the alert is due for re-evaluation given a
// kind-specific cooldown.
func (a *Alert) DueAt(cooldown time.Duration) time.Time {
	if a.LastTriggeredAt == nil {
		return a.CreatedAt
	}
	return a.LastTriggeredAt.Add(cooldown)
}
