package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EditableKeys are the settings the dashboard may change.
var EditableKeys = []string{
	"BOT_MODE",
	"SCAN_INTERVAL_MS",
	"MAX_ORDERS_PER_SCAN",
	"MAX_PRICE",
	"MIN_PRICE",
	"MIN_LIQUIDITY",
	"MIN_LIQUIDITY_MULTIPLIER",
	"MIN_DAYS_TO_END",
	"MAX_DAYS_TO_END",
	"INCLUDE_KEYWORDS",
	"EXCLUDE_KEYWORDS",
	"ORDER_FRACTION",
	"PAPER_ACCOUNT_USD",
	"MAX_EXPOSURE_PCT",
	"MAX_EXPOSURE_PER_MARKET_PCT",
	"ALLOW_REPEAT_BUYS",
	"GAMMA_PAGE_SIZE",
	"GAMMA_MAX_PAGES",
	"GAMMA_RPS",
	"WEB_ENABLED",
	"WEB_HOST",
	"WEB_PORT",
}

// IsEditable reports whether key is in EditableKeys.
func IsEditable(key string) bool {
	for _, k := range EditableKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Editable returns the running value of every editable key.
func (c *Config) Editable() map[string]string {
	return map[string]string{
		"BOT_MODE":                    c.Mode,
		"SCAN_INTERVAL_MS":            strconv.FormatInt(c.ScanInterval.Milliseconds(), 10),
		"MAX_ORDERS_PER_SCAN":         strconv.Itoa(c.MaxOrdersPerScan),
		"MAX_PRICE":                   c.MaxPrice.String(),
		"MIN_PRICE":                   c.MinPrice.String(),
		"MIN_LIQUIDITY":               c.MinLiquidity.String(),
		"MIN_LIQUIDITY_MULTIPLIER":    c.MinLiquidityMultiplier.String(),
		"MIN_DAYS_TO_END":             strconv.FormatFloat(c.MinDaysToEnd, 'f', -1, 64),
		"MAX_DAYS_TO_END":             strconv.FormatFloat(c.MaxDaysToEnd, 'f', -1, 64),
		"INCLUDE_KEYWORDS":            strings.Join(c.IncludeKeywords, ","),
		"EXCLUDE_KEYWORDS":            strings.Join(c.ExcludeKeywords, ","),
		"ORDER_FRACTION":              c.OrderFraction.String(),
		"PAPER_ACCOUNT_USD":           c.PaperAccountUSD.String(),
		"MAX_EXPOSURE_PCT":            c.MaxExposurePct.String(),
		"MAX_EXPOSURE_PER_MARKET_PCT": c.MaxExposurePerMarketPct.String(),
		"ALLOW_REPEAT_BUYS":           strconv.FormatBool(c.AllowRepeatBuys),
		"GAMMA_PAGE_SIZE":             strconv.Itoa(c.Gamma.PageSize),
		"GAMMA_MAX_PAGES":             strconv.Itoa(c.Gamma.MaxPages),
		"GAMMA_RPS":                   strconv.FormatFloat(c.Gamma.RPS, 'f', -1, 64),
		"WEB_ENABLED":                 strconv.FormatBool(c.Web.Enabled),
		"WEB_HOST":                    c.Web.Host,
		"WEB_PORT":                    strconv.Itoa(c.Web.Port),
	}
}

// ReadEnvFile parses path. A missing file reads as empty.
func ReadEnvFile(path string) (map[string]string, error) {
	m, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return m, nil
}

// EffectiveEditable overlays the values in the env file on the running
// configuration, so the dashboard shows what the next restart will use.
func (c *Config) EffectiveEditable() (map[string]string, error) {
	out := c.Editable()
	fileVals, err := ReadEnvFile(c.EnvFile)
	if err != nil {
		return nil, err
	}
	for k, v := range fileVals {
		if _, ok := out[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

var assignRE = regexp.MustCompile(`^\s*(?:export\s+)?([A-Za-z_][A-Za-z0-9_]*)\s*=`)

// UpdateEnvFile rewrites the editable keys in updates into path. Existing
// assignments are replaced in place; comments and unrelated lines are kept.
// Keys not in EditableKeys are ignored. It returns the keys written.
func UpdateEnvFile(path string, updates map[string]string) ([]string, error) {
	accepted := make(map[string]string)
	var written []string
	for _, key := range EditableKeys {
		v, ok := updates[key]
		if !ok {
			continue
		}
		if strings.ContainsAny(v, "\r\n") {
			return nil, fmt.Errorf("%w: %s: value must be a single line", ErrInvalidConfig, key)
		}
		quoted, err := quoteValue(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
		}
		accepted[key] = quoted
		written = append(written, key)
	}
	if len(accepted) == 0 {
		return written, nil
	}

	var lines []string
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		text := strings.ReplaceAll(string(b), "\r\n", "\n")
		lines = strings.Split(strings.TrimRight(text, "\n"), "\n")
		if len(lines) == 1 && lines[0] == "" {
			lines = nil
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	seen := make(map[string]bool)
	for i, line := range lines {
		m := assignRE.FindStringSubmatch(line)
		if m == nil || !IsEditable(m[1]) {
			continue
		}
		v, ok := accepted[m[1]]
		if !ok {
			continue
		}
		lines[i] = m[1] + "=" + v
		seen[m[1]] = true
	}
	for _, key := range written {
		if !seen[key] {
			lines = append(lines, key+"="+accepted[key])
		}
	}

	out := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(out), 0o600); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	return written, nil
}

// quoteValue renders v so godotenv reads it back unchanged. godotenv
// expands $ inside double quotes, so those values are single-quoted; single
// quotes have no escape, so a value with both ' and $ cannot be written.
func quoteValue(v string) (string, error) {
	switch {
	case v == "" || !strings.ContainsAny(v, " \t#'\"\\$"):
		return v, nil
	case strings.Contains(v, "$") && strings.Contains(v, "'"):
		return "", fmt.Errorf("value %q cannot contain both $ and '", v)
	case strings.Contains(v, "$"):
		return "'" + v + "'", nil
	default:
		return strconv.Quote(v), nil
	}
}
