package models

import "time"

// Portfolio is a named grouping of (wallet, chain) pairs belonging to one
// user. (user, name) is unique.
type Portfolio struct {
	ID          string    `json:"id" db:"portfolio_id"`
	UserID      int64     `json:"userId" db:"user_id"`
	Name        string    `json:"name" db:"name"`
	Description *string   `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// PortfolioWallet links a wallet to a portfolio on a specific chain.
type PortfolioWallet struct {
	LinkID      string    `json:"linkId" db:"link_id"`
	PortfolioID string    `json:"portfolioId" db:"portfolio_id"`
	WalletID    string    `json:"walletId" db:"wallet_id"`
	Chain       string    `json:"chain" db:"chain"`
	AddedAt     time.Time `json:"addedAt" db:"added_at"`
}

// PortfolioSnapshot records a portfolio's aggregate value at a point in time.
type PortfolioSnapshot struct {
	ID          string    `json:"id" db:"snapshot_id"`
	UserID      int64     `json:"userId" db:"user_id"`
	PortfolioID string    `json:"portfolioId" db:"portfolio_id"`
	TotalValue  float64   `json:"totalValue" db:"total_value"`
	TakenAt     time.Time `json:"takenAt" db:"taken_at"`
}
