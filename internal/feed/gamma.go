// Package feed pulls active markets from the Polymarket Gamma API and
// normalizes them into model.MarketSnapshot.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/GoPolymarket/polymarket-go-sdk/pkg/gamma"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/transport"
	"golang.org/x/time/rate"

	"github.com/atmx/longshot/internal/model"
)

// DefaultURL is the public Gamma API.
const DefaultURL = "https://gamma-api.polymarket.com"

// DefaultUserAgent mimics a browser UA to avoid Cloudflare 403s.
const DefaultUserAgent = "Mozilla/5.0"

// ErrFeed wraps every failure to fetch or decode a page of markets.
var ErrFeed = errors.New("feed: market fetch failed")

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config controls pagination and throttling.
type Config struct {
	BaseURL  string
	PageSize int
	MaxPages int
	RPS      float64 // page requests per second; <= 0 means unthrottled
	Timeout  time.Duration
	Doer     Doer // nil uses an *http.Client with Timeout
}

// Client fetches market pages through the Gamma client. It does not retry;
// the scan loop does.
type Client struct {
	gamma    gamma.Client
	pageSize int
	maxPages int
	limiter  *rate.Limiter
}

// NewClient validates cfg and applies defaults.
func NewClient(cfg Config) (*Client, error) {
	host := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if host == "" {
		host = DefaultURL
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("gamma url parse %q: %w", host, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("gamma url must be http(s), got %q", host)
	}

	doer := cfg.Doer
	if doer == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		doer = &http.Client{Timeout: timeout}
	}
	tr := transport.NewClient(doer, host)
	tr.SetUserAgent(DefaultUserAgent)

	c := &Client{
		gamma:    gamma.NewClient(tr),
		pageSize: cfg.PageSize,
		maxPages: cfg.MaxPages,
		limiter:  rate.NewLimiter(rate.Inf, 1),
	}
	if c.pageSize <= 0 {
		c.pageSize = 200
	}
	if c.maxPages <= 0 {
		c.maxPages = 3
	}
	if cfg.RPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}
	return c, nil
}

// FetchMarkets walks pages until a short page or the page limit.
func (c *Client) FetchMarkets(ctx context.Context) ([]model.MarketSnapshot, error) {
	var all []model.MarketSnapshot
	for page := 0; page < c.maxPages; page++ {
		markets, err := c.fetchPage(ctx, page*c.pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, markets...)
		if len(markets) < c.pageSize {
			break
		}
	}
	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, offset int) ([]model.MarketSnapshot, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: throttle: %v", ErrFeed, err)
	}

	limit, active, closed := c.pageSize, true, false
	markets, err := c.gamma.Markets(ctx, &gamma.MarketsRequest{
		Limit:  &limit,
		Offset: &offset,
		Active: &active,
		Closed: &closed,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: gamma markets offset=%d: %v", ErrFeed, offset, err)
	}

	out := make([]model.MarketSnapshot, 0, len(markets))
	for _, m := range markets {
		snap, err := normalizeMarket(m)
		if err != nil {
			return nil, fmt.Errorf("%w: gamma decode: %v", ErrFeed, err)
		}
		out = append(out, snap)
	}
	return out, nil
}

// normalizeMarket re-reads a decoded Gamma market through gammaMarket,
// which tolerates the stringified list fields and mixed number encodings.
func normalizeMarket(m gamma.Market) (model.MarketSnapshot, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return model.MarketSnapshot{}, err
	}
	var gm gammaMarket
	if err := json.Unmarshal(raw, &gm); err != nil {
		return model.MarketSnapshot{}, err
	}
	return gm.normalize(), nil
}
