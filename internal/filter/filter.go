// Package filter decides whether a priced candidate is big enough to alert on.
package filter

import (
	"github.com/shopspring/decimal"

	"github.com/web3guy0/whalebot/internal/types"
)

// Thresholds is the minimum USD value per chain
type Thresholds struct {
	Default  decimal.Decimal
	PerChain map[string]decimal.Decimal
}

// For returns the threshold that applies to chain
func (t Thresholds) For(chain string) decimal.Decimal {
	if v, ok := t.PerChain[chain]; ok {
		return v
	}
	return t.Default
}

// Pass reports whether c meets its chain's threshold (inclusive)
func (t Thresholds) Pass(c *types.Candidate) bool {
	return c.USDValue.GreaterThanOrEqual(t.For(c.Chain))
}
