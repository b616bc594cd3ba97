// Package models provides the data model of the alert engine.
package models

import "time"

// UserTier identifies a subscription tier
type UserTier string

const (
	// TierFree is the default tier
	TierFree UserTier = "free"
	// TierPremium is the paid tier with higher ceilings
	TierPremium UserTier = "premium"
)

// User represents a chat user who owns wallets, portfolios and alerts
type User struct {
	ID              int64      `json:"id" db:"user_id"`
	Username        *string    `json:"username,omitempty" db:"username"`
	FirstName       *string    `json:"firstName,omitempty" db:"first_name"`
	Tier            UserTier   `json:"tier" db:"tier"`
	PremiumExpiryAt *time.Time `json:"premiumExpiryAt,omitempty" db:"premium_expiry_at"`
	APICallCount    int        `json:"apiCallCount" db:"api_call_count"`
	LastAPICallAt   *time.Time `json:"lastApiCallAt,omitempty" db:"last_api_call_at"`
	CreatedAt       time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time  `json:"updatedAt" db:"updated_at"`
}

// EffectiveTier returns the user's tier, demoting premium users whose
// subscription has expired.
func (u *User) EffectiveTier(now time.Time) UserTier {
	if u.Tier == TierPremium && u.PremiumExpiryAt != nil && u.PremiumExpiryAt.Before(now) {
		return TierFree
	}
	return u.Tier
}

// IsPremium reports whether the user has an active premium subscription.
func (u *User) IsPremium(now time.Time) bool {
	return u.EffectiveTier(now) == TierPremium
}
