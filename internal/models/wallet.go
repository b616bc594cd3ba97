package models

import "time"

// WalletType identifies the address family of a wallet
type WalletType string

const (
	// WalletTypeEVM is an Ethereum-style 0x address
	WalletTypeEVM WalletType = "evm"
	// WalletTypeSolana is a Solana base58 address
	WalletTypeSolana WalletType = "solana"
	// WalletTypeOther is any other address family
	WalletTypeOther WalletType = "other"
)

// Valid reports whether the wallet type is one of the known families.
func (t WalletType) Valid() bool {
	switch t {
	case WalletTypeEVM, WalletTypeSolana, WalletTypeOther:
		return true
	}
	return false
}

// Wallet represents an address identity owned by a user. The address is one
// identity per user regardless of how many chains or portfolios reference it.
type Wallet struct {
	ID        string     `json:"id" db:"wallet_id"`
	UserID    int64      `json:"userId" db:"user_id"`
	Address   string     `json:"address" db:"address"`
	Type      WalletType `json:"walletType" db:"wallet_type"`
	Label     *string    `json:"label,omitempty" db:"label"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
}

// TrackedWallet represents an externally watched address (not necessarily
// owned by the user). It has no portfolio linkage.
type TrackedWallet struct {
	ID            string     `json:"id" db:"tracked_wallet_id"`
	UserID        int64      `json:"userId" db:"user_id"`
	Address       string     `json:"address" db:"address"`
	Type          WalletType `json:"walletType" db:"wallet_type"`
	Label         *string    `json:"label,omitempty" db:"label"`
	AlertsEnabled bool       `json:"alertsEnabled" db:"alerts_enabled"`
	CreatedAt     time.Time  `json:"createdAt" db:"created_at"`
}

// ChainAddress is an address scoped to a chain; one wallet address can
// represent holdings on several chains.
type ChainAddress struct {
	Address string `json:"address"`
	Chain   string `json:"chain"`
}
