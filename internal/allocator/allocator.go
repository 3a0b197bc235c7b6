// Package allocator sizes buy orders for ranked candidates under global and
// per-market exposure caps and commits them through an Execution.
//
// Allocation is greedy by rank: candidates arrive cheapest and most liquid
// first, and each one takes as much of the per-order notional as the
// remaining budgets allow.
package allocator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/longshot/internal/exposure"
	"github.com/atmx/longshot/internal/ledger"
	"github.com/atmx/longshot/internal/model"
)

var hundred = decimal.NewFromInt(100)

// CapitalSettings are the configured sizing ratios.
type CapitalSettings struct {
	OrderFraction           decimal.Decimal
	MaxExposurePct          decimal.Decimal // of account total
	MaxExposurePerMarketPct decimal.Decimal // of account total
}

// CapitalParams is the immutable capital view for one cycle.
type CapitalParams struct {
	AccountTotalUSD         decimal.Decimal
	OrderFraction           decimal.Decimal
	MaxExposureUSD          decimal.Decimal
	MaxExposurePerMarketUSD decimal.Decimal
	Mode                    string
}

// PerOrderUSD is the notional every candidate asks for this cycle.
func (c CapitalParams) PerOrderUSD() decimal.Decimal {
	return c.AccountTotalUSD.Mul(c.OrderFraction)
}

// ResolveCapital reads the account total from exec and derives the USD caps.
func ResolveCapital(ctx context.Context, exec Execution, s CapitalSettings) (CapitalParams, error) {
	total, err := exec.AccountTotalUSD(ctx)
	if err != nil {
		return CapitalParams{}, fmt.Errorf("resolve account total: %w", err)
	}
	return CapitalParams{
		AccountTotalUSD:         total,
		OrderFraction:           s.OrderFraction,
		MaxExposureUSD:          total.Mul(s.MaxExposurePct).Div(hundred),
		MaxExposurePerMarketUSD: total.Mul(s.MaxExposurePerMarketPct).Div(hundred),
		Mode:                    exec.Mode(),
	}, nil
}

// Allocation is the result of one allocation pass.
type Allocation struct {
	Fills           []model.Fill
	PerOrderUSD     decimal.Decimal
	AccountTotalUSD decimal.Decimal
}

// Allocate walks candidates in order and commits as many as the budgets
// allow. A full market is skipped; an exhausted global budget stops the
// walk. Existing exposure is taken from the ledger as it stood when the
// call began, so paper fills applied during the walk are counted once.
//
// If exec fails, the fills committed before the failure are returned along
// with the error.
func Allocate(ctx context.Context, candidates []model.Candidate, state *model.LedgerState, capital CapitalParams, exec Execution) (Allocation, error) {
	perOrder := capital.PerOrderUSD()
	alloc := Allocation{
		Fills:           []model.Fill{},
		PerOrderUSD:     perOrder,
		AccountTotalUSD: capital.AccountTotalUSD,
	}

	budget := exposure.NewBudget(exposure.Limits{
		MaxTotal:     capital.MaxExposureUSD,
		MaxPerMarket: capital.MaxExposurePerMarketUSD,
	}, state.CashUsedUSD)

	existing := make(map[string]decimal.Decimal)
	for _, c := range candidates {
		if _, ok := existing[c.MarketID]; !ok {
			existing[c.MarketID] = ledger.MarketExposure(state, c.MarketID)
		}
	}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return alloc, err
		}

		usd, err := budget.Clamp(c.MarketID, existing[c.MarketID], perOrder)
		if errors.Is(err, exposure.ErrMarketLimitExhausted) {
			continue
		}
		if err != nil {
			break
		}

		fill, err := exec.Execute(ctx, state, c, usd)
		if err != nil {
			return alloc, fmt.Errorf("execute %s: %w", c.Key, err)
		}
		budget.Commit(c.MarketID, usd)
		alloc.Fills = append(alloc.Fills, fill)
	}
	return alloc, nil
}
