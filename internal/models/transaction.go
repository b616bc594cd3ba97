package models

import "time"

// TxDirection identifies whether a transaction moves value into or out of
// the watched address.
type TxDirection string

const (
	// DirectionIn is an incoming transfer
	DirectionIn TxDirection = "in"
	// DirectionOut is an outgoing transfer
	DirectionOut TxDirection = "out"
)

// Transaction is one entry from a wallet transaction feed, normalized across
// chains.
type Transaction struct {
	Hash      string      `json:"hash"`
	Chain     string      `json:"chain"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Asset     string      `json:"asset"`
	ValueUSD  float64     `json:"valueUsd"`
	Direction TxDirection `json:"direction"`
	Timestamp time.Time   `json:"timestamp"`
}
