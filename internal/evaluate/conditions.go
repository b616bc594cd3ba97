// Package evaluate parses alert conditions and decides, against a per-tick
// feed snapshot, whether each alert's condition is satisfied.
package evaluate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alert-engine/internal/models"
)

// ThresholdDirection says which way a value must cross a threshold.
type ThresholdDirection string

const (
	// DirectionAbove fires when the value crosses the threshold upward
	DirectionAbove ThresholdDirection = "above"
	// DirectionBelow fires when the value crosses the threshold downward
	DirectionBelow ThresholdDirection = "below"
)

// TxFilterDirection restricts which transfers match a transaction condition.
type TxFilterDirection string

const (
	// TxDirectionIn matches incoming transfers only
	TxDirectionIn TxFilterDirection = "in"
	// TxDirectionOut matches outgoing transfers only
	TxDirectionOut TxFilterDirection = "out"
	// TxDirectionAny matches both directions
	TxDirectionAny TxFilterDirection = "any"
)

// PriceCondition is the conditions payload of a price alert.
type PriceCondition struct {
	Token     string             `json:"token"`
	Direction ThresholdDirection `json:"direction"`
	Threshold float64            `json:"threshold"`
	Label     string             `json:"label,omitempty"`
}

func (c *PriceCondition) validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("token must not be empty")
	}
	if c.Direction != DirectionAbove && c.Direction != DirectionBelow {
		return fmt.Errorf("direction must be %q or %q, got %q", DirectionAbove, DirectionBelow, c.Direction)
	}
	if c.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive, got %v", c.Threshold)
	}
	return nil
}

// PortfolioValueCondition is the conditions payload of a portfolio_value alert.
type PortfolioValueCondition struct {
	Direction ThresholdDirection `json:"direction"`
	Threshold float64            `json:"threshold"`
	Label     string             `json:"label,omitempty"`
}

func (c *PortfolioValueCondition) validate() error {
	if c.Direction != DirectionAbove && c.Direction != DirectionBelow {
		return fmt.Errorf("direction must be %q or %q, got %q", DirectionAbove, DirectionBelow, c.Direction)
	}
	if c.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive, got %v", c.Threshold)
	}
	return nil
}

// TxCondition is the conditions payload of wallet_tx and tracked_wallet_tx
// alerts. Chains may name several chains to watch; empty means the wallet's
// default chain.
type TxCondition struct {
	Chains    []string          `json:"chains,omitempty"`
	MinValue  float64           `json:"minValue,omitempty"`
	Direction TxFilterDirection `json:"direction,omitempty"`
	Label     string            `json:"label,omitempty"`
}

func (c *TxCondition) validate() error {
	if c.MinValue < 0 {
		return fmt.Errorf("minValue must not be negative, got %v", c.MinValue)
	}
	switch c.Direction {
	case TxDirectionIn, TxDirectionOut, TxDirectionAny, "":
	default:
		return fmt.Errorf("direction must be in, out or any, got %q", c.Direction)
	}
	for _, chain := range c.Chains {
		if strings.TrimSpace(chain) == "" {
			return fmt.Errorf("chain names must not be empty")
		}
	}
	return nil
}

// Matches reports whether one transaction satisfies the condition.
func (c *TxCondition) Matches(tx models.Transaction) bool {
	if tx.ValueUSD < c.MinValue {
		return false
	}
	switch c.Direction {
	case TxDirectionIn:
		return tx.Direction == models.DirectionIn
	case TxDirectionOut:
		return tx.Direction == models.DirectionOut
	default:
		return true
	}
}

// ParsePriceCondition parses and validates a price conditions payload.
func ParsePriceCondition(raw json.RawMessage) (*PriceCondition, error) {
	var c PriceCondition
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ParsePortfolioValueCondition parses and validates a portfolio_value
// conditions payload.
func ParsePortfolioValueCondition(raw json.RawMessage) (*PortfolioValueCondition, error) {
	var c PortfolioValueCondition
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ParseTxCondition parses and validates a transaction conditions payload.
func ParseTxCondition(raw json.RawMessage) (*TxCondition, error) {
	var c TxCondition
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	if c.Direction == "" {
		c.Direction = TxDirectionAny
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
