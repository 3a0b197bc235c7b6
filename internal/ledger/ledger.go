// Package ledger owns the position ledger: applying fills, averaging cost
// basis, and marking positions to market.
//
// All operations are synchronous and assume a single writer.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/longshot/internal/model"
)

// ErrZeroPrice is returned when a fill is attempted at a non-positive price.
// Prices are filtered upstream, so this signals a broken invariant.
var ErrZeroPrice = errors.New("ledger: fill price must be positive")

// New returns an empty ledger at the current schema version. UpdatedAt
// stays zero until the first save.
func New() *model.LedgerState {
	return &model.LedgerState{
		SchemaVersion: model.SchemaVersion,
		CashUsedUSD:   decimal.Zero,
		Positions:     make(map[string]model.Position),
		SeenKeys:      make(map[string]bool),
		Trades:        []model.Trade{},
	}
}

// ApplyFill records a buy of orderUSD notional at the candidate's price.
//
// Quantity and cost are added to the existing position (or a new zero
// position), the average price is recomputed as cost/qty, the key is marked
// seen, a trade is appended, and CashUsedUSD grows by orderUSD.
func ApplyFill(state *model.LedgerState, c model.Candidate, orderUSD decimal.Decimal, mode string, now time.Time) (model.Trade, error) {
	if !c.Price.IsPositive() {
		return model.Trade{}, fmt.Errorf("%w: %s at %s", ErrZeroPrice, c.Key, c.Price)
	}
	if state.Positions == nil {
		state.Positions = make(map[string]model.Position)
	}
	if state.SeenKeys == nil {
		state.SeenKeys = make(map[string]bool)
	}

	qty := orderUSD.Div(c.Price)

	pos, ok := state.Positions[c.Key]
	if !ok {
		pos = model.Position{
			TokenID:   c.TokenID,
			MarketID:  c.MarketID,
			Question:  c.Question,
			Outcome:   c.Outcome,
			Qty:       decimal.Zero,
			CostUSD:   decimal.Zero,
			AvgPrice:  decimal.Zero,
			MarkPrice: c.Price,
		}
	}

	pos.Qty = pos.Qty.Add(qty)
	pos.CostUSD = pos.CostUSD.Add(orderUSD)
	pos.AvgPrice = pos.CostUSD.Div(pos.Qty)
	pos.MarkPrice = c.Price
	state.Positions[c.Key] = pos

	state.SeenKeys[c.Key] = true
	state.CashUsedUSD = state.CashUsedUSD.Add(orderUSD)

	trade := model.Trade{
		ID:        uuid.New().String(),
		Timestamp: now.UTC(),
		Side:      model.SideBuy,
		Mode:      mode,
		TokenID:   c.TokenID,
		MarketID:  c.MarketID,
		Question:  c.Question,
		Outcome:   c.Outcome,
		Price:     c.Price,
		Qty:       qty,
		CostUSD:   orderUSD,
	}
	state.Trades = append(state.Trades, trade)
	return trade, nil
}

// MarketExposure returns the cost basis summed over every position held in
// marketID.
func MarketExposure(state *model.LedgerState, marketID string) decimal.Decimal {
	total := decimal.Zero
	for _, p := range state.Positions {
		if p.MarketID == marketID {
			total = total.Add(p.CostUSD)
		}
	}
	return total
}

// MarkToMarket refreshes every position's mark from the freshest snapshot
// and returns the resulting summary. Cost fields are never touched.
//
// Mark resolution: fresh price, else the stored mark, else the average cost.
// A token missing from later snapshots keeps its last mark indefinitely.
func MarkToMarket(state *model.LedgerState, markets []model.MarketSnapshot) model.Summary {
	latest := make(map[string]decimal.Decimal)
	for _, m := range markets {
		for _, leg := range m.Legs {
			latest[model.PositionKey(m.ID, leg.TokenID)] = leg.Price
		}
	}

	marketValue := decimal.Zero
	unrealized := decimal.Zero

	for key, pos := range state.Positions {
		mark, ok := latest[key]
		if !ok {
			mark = pos.MarkPrice
			if mark.IsZero() {
				mark = pos.AvgPrice
			}
		}
		pos.MarkPrice = mark
		state.Positions[key] = pos

		value := pos.Qty.Mul(mark)
		marketValue = marketValue.Add(value)
		unrealized = unrealized.Add(value.Sub(pos.CostUSD))
	}

	return model.Summary{
		CashUsedUSD:   state.CashUsedUSD,
		MarketValue:   marketValue,
		UnrealizedPnL: unrealized,
		TotalPnL:      unrealized,
	}
}
