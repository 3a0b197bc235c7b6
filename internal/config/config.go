// Package config reads the bot's settings from the environment, after
// merging a .env file whose values never override ones already set.
//
// A Config is built once at startup and not mutated afterwards. Edits made
// through the dashboard are written to the .env file and take effect on
// the next restart.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/atmx/longshot/internal/allocator"
	"github.com/atmx/longshot/internal/broker"
	"github.com/atmx/longshot/internal/feed"
	"github.com/atmx/longshot/internal/model"
	"github.com/atmx/longshot/internal/strategy"
)

// ErrInvalidConfig is returned for any unreadable or inconsistent setting.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// DefaultEnvFile is read from the working directory.
const DefaultEnvFile = ".env"

// GammaConfig configures the market feed.
type GammaConfig struct {
	BaseURL  string
	PageSize int
	MaxPages int
	RPS      float64
}

// WebConfig configures the dashboard listener.
type WebConfig struct {
	Enabled bool
	Host    string
	Port    int
}

// LiveConfig holds broker credentials. Only read in live mode.
type LiveConfig struct {
	Host          string
	ChainID       int64
	PrivateKey    string
	Funder        string
	APIKey        string
	APISecret     string
	APIPassphrase string
	OrderType     string
}

// Config is the full set of runtime settings.
type Config struct {
	Mode         string
	ScanInterval time.Duration

	MinPrice               decimal.Decimal
	MaxPrice               decimal.Decimal
	MinLiquidity           decimal.Decimal
	MinLiquidityMultiplier decimal.Decimal
	MinDaysToEnd           float64
	MaxDaysToEnd           float64
	IncludeKeywords        []string
	ExcludeKeywords        []string
	AllowRepeatBuys        bool
	MaxOrdersPerScan       int

	OrderFraction           decimal.Decimal
	PaperAccountUSD         decimal.Decimal
	MaxExposurePct          decimal.Decimal
	MaxExposurePerMarketPct decimal.Decimal

	Gamma GammaConfig
	Web   WebConfig
	Live  LiveConfig

	StateFile   string
	DatabaseURL string
	RedisURL    string
	LogLevel    string

	EnvFile string
}

// Load merges envFile into the process environment and parses it.
// A missing file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	cfg, err := Parse(os.Getenv)
	if err != nil {
		return nil, err
	}
	cfg.EnvFile = envFile
	return cfg, nil
}

// Parse builds and validates a Config from getenv. Empty values count as
// unset.
func Parse(getenv func(string) string) (*Config, error) {
	p := parser{getenv: getenv}

	cfg := &Config{
		Mode:         strings.ToLower(p.str("BOT_MODE", model.ModePaper)),
		ScanInterval: time.Duration(p.int("SCAN_INTERVAL_MS", 30000)) * time.Millisecond,

		MinPrice:               p.dec("MIN_PRICE", "0.005"),
		MaxPrice:               p.dec("MAX_PRICE", "0.05"),
		MinLiquidity:           p.dec("MIN_LIQUIDITY", "500"),
		MinLiquidityMultiplier: p.dec("MIN_LIQUIDITY_MULTIPLIER", "0"),
		MinDaysToEnd:           p.float("MIN_DAYS_TO_END", 0),
		MaxDaysToEnd:           p.float("MAX_DAYS_TO_END", 365),
		IncludeKeywords:        splitList(getenv("INCLUDE_KEYWORDS")),
		ExcludeKeywords:        splitList(getenv("EXCLUDE_KEYWORDS")),
		AllowRepeatBuys:        p.bool("ALLOW_REPEAT_BUYS", false),
		MaxOrdersPerScan:       p.int("MAX_ORDERS_PER_SCAN", 10),

		OrderFraction:           p.dec("ORDER_FRACTION", "0.001"),
		PaperAccountUSD:         p.dec("PAPER_ACCOUNT_USD", "10000"),
		MaxExposurePct:          p.dec("MAX_EXPOSURE_PCT", "5"),
		MaxExposurePerMarketPct: p.dec("MAX_EXPOSURE_PER_MARKET_PCT", "1"),

		Gamma: GammaConfig{
			BaseURL:  p.str("GAMMA_BASE_URL", feed.DefaultURL),
			PageSize: p.int("GAMMA_PAGE_SIZE", 200),
			MaxPages: p.int("GAMMA_MAX_PAGES", 3),
			RPS:      p.float("GAMMA_RPS", 5),
		},
		Web: WebConfig{
			Enabled: p.bool("WEB_ENABLED", true),
			Host:    p.str("WEB_HOST", "127.0.0.1"),
			Port:    p.int("WEB_PORT", 8787),
		},
		Live: LiveConfig{
			Host:          p.str("CLOB_HOST", "https://clob.polymarket.com"),
			ChainID:       int64(p.int("CLOB_CHAIN_ID", 137)),
			PrivateKey:    p.str("POLYMARKET_PRIVATE_KEY", ""),
			Funder:        p.str("POLYMARKET_FUNDER", ""),
			APIKey:        p.str("POLYMARKET_API_KEY", ""),
			APISecret:     p.str("POLYMARKET_API_SECRET", ""),
			APIPassphrase: p.str("POLYMARKET_API_PASSPHRASE", ""),
			OrderType:     strings.ToUpper(p.str("LIVE_ORDER_TYPE", "GTC")),
		},

		StateFile:   p.str("STATE_FILE", "data/paper-state.json"),
		DatabaseURL: p.str("DATABASE_URL", ""),
		RedisURL:    p.str("REDIS_URL", ""),
		LogLevel:    strings.ToLower(p.str("LOG_LEVEL", "info")),
		EnvFile:     DefaultEnvFile,
	}

	if len(p.errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(p.errs...))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	hundred := decimal.NewFromInt(100)
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(c.Mode == model.ModePaper || c.Mode == model.ModeLive, "BOT_MODE must be paper or live")
	check(c.ScanInterval > 0, "SCAN_INTERVAL_MS must be > 0")
	check(c.MinPrice.LessThan(c.MaxPrice), "MIN_PRICE must be less than MAX_PRICE")
	check(!c.MinPrice.IsNegative(), "MIN_PRICE must be >= 0")
	check(c.OrderFraction.IsPositive(), "ORDER_FRACTION must be > 0")
	check(c.MaxExposurePct.IsPositive() && c.MaxExposurePct.LessThanOrEqual(hundred),
		"MAX_EXPOSURE_PCT must be in (0, 100]")
	check(c.MaxExposurePerMarketPct.IsPositive() && c.MaxExposurePerMarketPct.LessThanOrEqual(hundred),
		"MAX_EXPOSURE_PER_MARKET_PCT must be in (0, 100]")
	check(c.MaxExposurePerMarketPct.LessThanOrEqual(c.MaxExposurePct),
		"MAX_EXPOSURE_PER_MARKET_PCT must be <= MAX_EXPOSURE_PCT")
	check(!c.MinLiquidityMultiplier.IsNegative(), "MIN_LIQUIDITY_MULTIPLIER must be >= 0")
	check(c.Web.Port > 0 && c.Web.Port <= 65535, "WEB_PORT must be a positive integer")
	check(c.Gamma.PageSize > 0, "GAMMA_PAGE_SIZE must be > 0")
	check(c.Gamma.MaxPages > 0, "GAMMA_MAX_PAGES must be > 0")

	if c.Mode == model.ModeLive {
		check(c.Live.PrivateKey != "", "POLYMARKET_PRIVATE_KEY is required in live mode")
		check(c.Live.Funder != "", "POLYMARKET_FUNDER is required in live mode")
		check(c.Live.APIKey != "" && c.Live.APISecret != "" && c.Live.APIPassphrase != "",
			"POLYMARKET_API_KEY, POLYMARKET_API_SECRET and POLYMARKET_API_PASSPHRASE are required in live mode")
		if _, err := broker.ParseOrderType(c.Live.OrderType); err != nil {
			errs = append(errs, errors.New("LIVE_ORDER_TYPE must be GTC, FOK or FAK"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Addr is the dashboard listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Web.Host, strconv.Itoa(c.Web.Port))
}

// MinLiquidityUSD is the liquidity floor the selector applies: the larger
// of MIN_LIQUIDITY and the per-market cap times MIN_LIQUIDITY_MULTIPLIER.
func (c *Config) MinLiquidityUSD(perMarketCapUSD decimal.Decimal) decimal.Decimal {
	return decimal.Max(c.MinLiquidity, perMarketCapUSD.Mul(c.MinLiquidityMultiplier))
}

// FilterParams builds the selector settings for one cycle.
func (c *Config) FilterParams(perMarketCapUSD decimal.Decimal) strategy.FilterParams {
	return strategy.FilterParams{
		MinPrice:         c.MinPrice,
		MaxPrice:         c.MaxPrice,
		MinLiquidity:     c.MinLiquidityUSD(perMarketCapUSD),
		MinDaysToEnd:     c.MinDaysToEnd,
		MaxDaysToEnd:     c.MaxDaysToEnd,
		IncludeKeywords:  c.IncludeKeywords,
		ExcludeKeywords:  c.ExcludeKeywords,
		AllowRepeatBuys:  c.AllowRepeatBuys,
		MaxOrdersPerScan: c.MaxOrdersPerScan,
	}
}

// CapitalSettings are the sizing ratios handed to the allocator.
func (c *Config) CapitalSettings() allocator.CapitalSettings {
	return allocator.CapitalSettings{
		OrderFraction:           c.OrderFraction,
		MaxExposurePct:          c.MaxExposurePct,
		MaxExposurePerMarketPct: c.MaxExposurePerMarketPct,
	}
}

// parser collects every bad value instead of stopping at the first.
type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) raw(key string) (string, bool) {
	v := strings.TrimSpace(p.getenv(key))
	return v, v != ""
}

func (p *parser) str(key, def string) string {
	if v, ok := p.raw(key); ok {
		return v
	}
	return def
}

func (p *parser) int(key string, def int) int {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a number", key, v))
		return def
	}
	return f
}

func (p *parser) dec(key, def string) decimal.Decimal {
	v, ok := p.raw(key)
	if !ok {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a decimal", key, v))
		return decimal.RequireFromString(def)
	}
	return d
}

func (p *parser) bool(key string, def bool) bool {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// splitList parses a comma-separated keyword list, lower-cased.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
