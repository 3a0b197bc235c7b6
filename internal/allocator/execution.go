package allocator

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/longshot/internal/broker"
	"github.com/atmx/longshot/internal/ledger"
	"github.com/atmx/longshot/internal/model"
)

// Execution commits one sized order. The variant is chosen once per cycle
// so the budget logic in Allocate never branches on mode.
type Execution interface {
	// Mode reports model.ModePaper or model.ModeLive.
	Mode() string

	// AccountTotalUSD is the capital base for order sizing.
	AccountTotalUSD(ctx context.Context) (decimal.Decimal, error)

	// Execute commits usd on candidate c.
	Execute(ctx context.Context, state *model.LedgerState, c model.Candidate, usd decimal.Decimal) (model.Fill, error)
}

// PaperExecution simulates fills against the local ledger.
type PaperExecution struct {
	AccountUSD decimal.Decimal
	Now        func() time.Time
}

// Mode reports model.ModePaper.
func (p PaperExecution) Mode() string { return model.ModePaper }

// AccountTotalUSD returns the configured paper bankroll.
func (p PaperExecution) AccountTotalUSD(context.Context) (decimal.Decimal, error) {
	return p.AccountUSD, nil
}

// Execute applies the fill to state immediately and returns the new trade
// id with the simulated size.
func (p PaperExecution) Execute(_ context.Context, state *model.LedgerState, c model.Candidate, usd decimal.Decimal) (model.Fill, error) {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	trade, err := ledger.ApplyFill(state, c, usd, model.ModePaper, now())
	if err != nil {
		return model.Fill{}, err
	}
	return model.Fill{
		Candidate: c,
		Mode:      model.ModePaper,
		OrderUSD:  usd,
		Size:      trade.Qty,
		TradeID:   trade.ID,
	}, nil
}

// LiveExecution submits orders to a broker. Live fills are not written to
// the local ledger; the broker's balance is the source of truth.
type LiveExecution struct {
	Broker broker.Broker
}

// Mode reports model.ModeLive.
func (l LiveExecution) Mode() string { return model.ModeLive }

// AccountTotalUSD asks the broker every time; balances are not cached
// across cycles.
func (l LiveExecution) AccountTotalUSD(ctx context.Context) (decimal.Decimal, error) {
	return l.Broker.AccountTotalUSD(ctx)
}

// Execute places a buy of usd/price shares at the candidate's price. state
// is not modified. A broker that reports no size is taken to have filled
// the requested size.
func (l LiveExecution) Execute(ctx context.Context, _ *model.LedgerState, c model.Candidate, usd decimal.Decimal) (model.Fill, error) {
	if !c.Price.IsPositive() {
		return model.Fill{}, ledger.ErrZeroPrice
	}
	size := usd.Div(c.Price)
	res, err := l.Broker.PlaceBuy(ctx, c.TokenID, c.Price, size)
	if err != nil {
		return model.Fill{}, err
	}
	if res.Size.IsZero() {
		res.Size = size
	}
	return model.Fill{
		Candidate: c,
		Mode:      model.ModeLive,
		OrderUSD:  usd,
		Size:      res.Size,
		OrderID:   res.OrderID,
		Status:    res.Status,
	}, nil
}
