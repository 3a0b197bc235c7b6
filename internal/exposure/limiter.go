// Package exposure tracks how much of the global and per-market USD budgets
// remain during one allocation cycle.
//
// Committed exposure has two sources: the durable cost basis already in the
// ledger, and the USD committed earlier in the same cycle. A Budget combines
// both so the allocator never over-commits capital.
package exposure

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrGlobalLimitExhausted is returned when no global budget remains.
	ErrGlobalLimitExhausted = errors.New("exposure: global exposure limit exhausted")

	// ErrMarketLimitExhausted is returned when a single market's budget is
	// spent. Other markets may still have room.
	ErrMarketLimitExhausted = errors.New("exposure: per-market exposure limit exhausted")
)

// Limits are the configured USD ceilings.
type Limits struct {
	// MaxTotal caps cumulative cost basis across every position.
	MaxTotal decimal.Decimal

	// MaxPerMarket caps cumulative cost basis across all outcomes of one
	// market.
	MaxPerMarket decimal.Decimal
}

// Budget is the running state of one allocation cycle.
type Budget struct {
	limits Limits

	// durable exposure already recorded in the ledger
	ledgerTotal decimal.Decimal

	cycleTotal  decimal.Decimal
	cycleMarket map[string]decimal.Decimal
}

// NewBudget starts a cycle budget on top of ledgerTotal USD already committed.
func NewBudget(limits Limits, ledgerTotal decimal.Decimal) *Budget {
	return &Budget{
		limits:      limits,
		ledgerTotal: ledgerTotal,
		cycleTotal:  decimal.Zero,
		cycleMarket: make(map[string]decimal.Decimal),
	}
}

// RemainingTotal returns MaxTotal − ledger exposure − cycle commitments.
// The result may be negative when the ledger is already over the cap.
func (b *Budget) RemainingTotal() decimal.Decimal {
	return b.limits.MaxTotal.Sub(b.ledgerTotal).Sub(b.cycleTotal)
}

// RemainingForMarket returns MaxPerMarket − existing market cost basis −
// cycle commitments to marketID.
func (b *Budget) RemainingForMarket(marketID string, existing decimal.Decimal) decimal.Decimal {
	return b.limits.MaxPerMarket.Sub(existing).Sub(b.cycleMarket[marketID])
}

// Clamp sizes an order for marketID: min(want, remaining total, remaining
// for market). It returns ErrGlobalLimitExhausted when the global budget
// is gone, ErrMarketLimitExhausted when only this market is full.
func (b *Budget) Clamp(marketID string, existing, want decimal.Decimal) (decimal.Decimal, error) {
	total := b.RemainingTotal()
	if !total.IsPositive() {
		return decimal.Zero, ErrGlobalLimitExhausted
	}

	market := b.RemainingForMarket(marketID, existing)
	if !market.IsPositive() {
		return decimal.Zero, ErrMarketLimitExhausted
	}

	size := decimal.Min(want, total, market)
	if !size.IsPositive() {
		// A collapsed order size means the budget is spent.
		return decimal.Zero, ErrGlobalLimitExhausted
	}
	return size, nil
}

// Commit records usd against the cycle totals.
func (b *Budget) Commit(marketID string, usd decimal.Decimal) {
	b.cycleTotal = b.cycleTotal.Add(usd)
	b.cycleMarket[marketID] = b.cycleMarket[marketID].Add(usd)
}

// Committed returns the USD committed so far this cycle.
func (b *Budget) Committed() decimal.Decimal {
	return b.cycleTotal
}
