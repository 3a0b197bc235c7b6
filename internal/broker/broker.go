// Package broker places real orders. The allocator only sees the Broker
// interface; CLOB implements it on the Polymarket order book.
package broker

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrBroker wraps every failure to reach or satisfy the order broker.
var ErrBroker = errors.New("broker: request failed")

// BuyResult is the broker's answer to a buy order.
type BuyResult struct {
	Size    decimal.Decimal // shares submitted
	OrderID string
	Status  string
}

// Broker is the live-trading collaborator.
type Broker interface {
	// PlaceBuy submits a buy of size shares of tokenID at price.
	PlaceBuy(ctx context.Context, tokenID string, price, size decimal.Decimal) (BuyResult, error)

	// AccountTotalUSD returns the collateral balance available to trade.
	AccountTotalUSD(ctx context.Context) (decimal.Decimal, error)
}
