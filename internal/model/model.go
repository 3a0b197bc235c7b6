// Package model defines the core domain types shared across the bot.
// All monetary values and prices use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SchemaVersion is the current on-disk layout of LedgerState.
const SchemaVersion = 1

// SideBuy is the only side the bot ever trades.
const SideBuy = "BUY"

// Execution modes.
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Leg is one outcome of a market with its own price and tradable token.
type Leg struct {
	Outcome string          `json:"outcome"`
	Price   decimal.Decimal `json:"price"` // in [0,1]
	TokenID string          `json:"token_id"`
}

// MarketSnapshot is a normalized market as delivered by the feed.
// EndDate is nil when the feed omitted it or it could not be parsed.
type MarketSnapshot struct {
	ID         string          `json:"id"`
	Question   string          `json:"question"`
	Slug       string          `json:"slug,omitempty"`
	Active     bool            `json:"active"`
	Closed     bool            `json:"closed"`
	Liquidity  decimal.Decimal `json:"liquidity"`
	EndDate    *time.Time      `json:"end_date,omitempty"`
	EndDateRaw string          `json:"end_date_raw,omitempty"`
	Legs       []Leg           `json:"legs"`
}

// PositionKey identifies one ledger line: one outcome token of one market.
func PositionKey(marketID, tokenID string) string {
	return marketID + ":" + tokenID
}

// Position is the aggregate holding for one PositionKey.
type Position struct {
	TokenID   string          `json:"token_id"`
	MarketID  string          `json:"market_id"`
	Question  string          `json:"question"`
	Outcome   string          `json:"outcome"`
	Qty       decimal.Decimal `json:"qty"`
	CostUSD   decimal.Decimal `json:"cost_usd"`
	AvgPrice  decimal.Decimal `json:"avg_price"`  // CostUSD / Qty
	MarkPrice decimal.Decimal `json:"mark_price"` // last observed price
}

// Trade is an immutable record of a fill applied to the ledger.
// Once appended, these are never modified or deleted.
type Trade struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"ts"`
	Side      string          `json:"side"`
	Mode      string          `json:"mode"`
	TokenID   string          `json:"token_id"`
	MarketID  string          `json:"market_id"`
	Question  string          `json:"question"`
	Outcome   string          `json:"outcome"`
	Price     decimal.Decimal `json:"price"`
	Qty       decimal.Decimal `json:"qty"`
	CostUSD   decimal.Decimal `json:"cost_usd"`
}

// Summary is the mark-to-market view of the ledger.
type Summary struct {
	CashUsedUSD   decimal.Decimal `json:"cash_used_usd"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
}

// ScanReport describes the outcome of the most recent scan cycle.
type ScanReport struct {
	ID                      string          `json:"id"`
	At                      time.Time       `json:"at"`
	Markets                 int             `json:"markets"`
	Candidates              int             `json:"candidates"`
	Executed                int             `json:"executed"`
	PerOrderUSD             decimal.Decimal `json:"per_order_usd"`
	AccountTotalUSD         decimal.Decimal `json:"account_total_usd"`
	MaxExposureUSD          decimal.Decimal `json:"max_exposure_usd"`
	MaxExposurePerMarketUSD decimal.Decimal `json:"max_exposure_per_market_usd"`
}

// LedgerState is the persisted aggregate. It has exactly one writer: the
// scan cycle.
type LedgerState struct {
	SchemaVersion int                 `json:"schema_version"`
	CashUsedUSD   decimal.Decimal     `json:"cash_used_usd"`
	Positions     map[string]Position `json:"positions"`
	SeenKeys      map[string]bool     `json:"seen_keys"`
	Trades        []Trade             `json:"trades"`
	Summary       *Summary            `json:"summary,omitempty"`
	LastScan      *ScanReport         `json:"last_scan,omitempty"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Candidate is a leg that passed every filter in the current cycle.
// Not persisted.
type Candidate struct {
	Key       string          `json:"key"`
	MarketID  string          `json:"market_id"`
	TokenID   string          `json:"token_id"`
	Question  string          `json:"question"`
	Outcome   string          `json:"outcome"`
	Price     decimal.Decimal `json:"price"`
	Liquidity decimal.Decimal `json:"liquidity"`
	EndDate   *time.Time      `json:"end_date,omitempty"`
}

// Fill is an order actually committed, paper-simulated or broker-confirmed.
type Fill struct {
	Candidate Candidate       `json:"candidate"`
	Mode      string          `json:"mode"`
	OrderUSD  decimal.Decimal `json:"order_usd"`
	Size      decimal.Decimal `json:"size"`               // shares
	TradeID   string          `json:"trade_id,omitempty"` // paper only
	OrderID   string          `json:"order_id,omitempty"` // live only
	Status    string          `json:"status,omitempty"`   // live only
}
