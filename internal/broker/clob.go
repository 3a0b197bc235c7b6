package broker

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/GoPolymarket/polymarket-go-sdk/pkg/auth"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob/clobtypes"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/transport"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/longshot/internal/model"
)

const (
	polygonChainID = 137
	amoyChainID    = 80002

	geoblockURL = "https://polymarket.com"

	// Collateral balances are reported in USDC base units.
	usdcDecimals = 6
)

// CLOBConfig holds the credentials and endpoint for live trading.
type CLOBConfig struct {
	Host          string
	ChainID       int64
	PrivateKey    string
	Funder        string // proxy wallet holding the collateral; empty for EOA
	APIKey        string
	APISecret     string
	APIPassphrase string
	OrderType     string // GTC, FOK or FAK
	Timeout       time.Duration
}

// CLOB places orders through the Polymarket central limit order book.
type CLOB struct {
	client    clob.Client
	signer    auth.Signer
	funder    *common.Address
	orderType clobtypes.OrderType
	timeout   time.Duration
}

// NewCLOB authenticates against the CLOB. It performs no network I/O.
func NewCLOB(cfg CLOBConfig) (*CLOB, error) {
	orderType, err := ParseOrderType(cfg.OrderType)
	if err != nil {
		return nil, err
	}

	key := strings.TrimSpace(cfg.PrivateKey)
	var signer auth.Signer
	switch cfg.ChainID {
	case amoyChainID:
		signer, err = auth.NewPrivateKeySigner(key, amoyChainID)
	case polygonChainID, 0:
		signer, err = auth.NewPrivateKeySigner(key, polygonChainID)
	default:
		return nil, fmt.Errorf("%w: unsupported chain id %d", ErrBroker, cfg.ChainID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: create signer: %v", ErrBroker, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	tr := transport.NewClient(&http.Client{Timeout: timeout}, strings.TrimRight(cfg.Host, "/"))
	tr.SetUserAgent("longshot")
	apiKey := &auth.APIKey{
		Key:        strings.TrimSpace(cfg.APIKey),
		Secret:     strings.TrimSpace(cfg.APISecret),
		Passphrase: strings.TrimSpace(cfg.APIPassphrase),
	}

	c := &CLOB{
		client:    clob.NewClientWithGeoblock(tr, geoblockURL).WithAuth(signer, apiKey),
		signer:    signer,
		orderType: orderType,
		timeout:   timeout,
	}
	if f := strings.TrimSpace(cfg.Funder); f != "" {
		if !common.IsHexAddress(f) {
			return nil, fmt.Errorf("%w: invalid funder address %q", ErrBroker, f)
		}
		addr := common.HexToAddress(f)
		c.funder = &addr
	}
	return c, nil
}

// PlaceBuy signs and posts a buy order. GTC orders rest at price; FOK and
// FAK orders are sent as marketable orders spending size×price USDC with
// price as the worst accepted fill.
func (c *CLOB) PlaceBuy(ctx context.Context, tokenID string, price, size decimal.Decimal) (BuyResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	b := clob.NewOrderBuilder(c.client, c.signer).
		TokenID(tokenID).
		Side(model.SideBuy).
		PriceDec(price).
		OrderType(c.orderType)
	if c.funder != nil {
		b = b.Maker(*c.funder).UseProxy()
	}

	var (
		signable *clobtypes.SignableOrder
		err      error
	)
	if c.orderType == clobtypes.OrderTypeGTC {
		signable, err = b.SizeDec(size).BuildSignableWithContext(ctx)
	} else {
		signable, err = b.AmountUSDC(size.Mul(price).InexactFloat64()).BuildMarketWithContext(ctx)
	}
	if err != nil {
		return BuyResult{}, fmt.Errorf("%w: build order for %s: %v", ErrBroker, tokenID, err)
	}

	resp, err := c.client.CreateOrderFromSignable(ctx, signable)
	if err != nil {
		return BuyResult{}, fmt.Errorf("%w: post order for %s: %v", ErrBroker, tokenID, err)
	}
	return BuyResult{
		Size:    size,
		OrderID: resp.ID,
		Status:  fmt.Sprint(resp.Status),
	}, nil
}

// AccountTotalUSD reads the collateral balance. It is never cached.
func (c *CLOB) AccountTotalUSD(ctx context.Context) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	bal, err := c.client.BalanceAllowance(ctx, &clobtypes.BalanceAllowanceRequest{
		AssetType: "COLLATERAL",
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: balance lookup: %v", ErrBroker, err)
	}
	return ParseCollateral(bal.Balance)
}

// ParseCollateral converts a base-unit USDC balance string into dollars.
func ParseCollateral(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: empty balance", ErrBroker)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: unreadable balance %q", ErrBroker, raw)
	}
	if v.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative balance %q", ErrBroker, raw)
	}
	return v.Shift(-usdcDecimals), nil
}

// ParseOrderType maps a configured order type onto the CLOB's.
func ParseOrderType(s string) (clobtypes.OrderType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "GTC":
		return clobtypes.OrderTypeGTC, nil
	case "FOK":
		return clobtypes.OrderTypeFOK, nil
	case "FAK":
		return clobtypes.OrderTypeFAK, nil
	default:
		var zero clobtypes.OrderType
		return zero, fmt.Errorf("%w: unsupported order type %q (want GTC, FOK or FAK)", ErrBroker, s)
	}
}
