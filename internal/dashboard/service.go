// Package dashboard provides the HTTP handlers for the local dashboard:
// a derived portfolio status, the trade log, the editable settings and a
// WebSocket feed of scan events.
//
// Everything served here is derived from the persisted ledger and the
// scan runtime. Nothing in this package writes the ledger.
package dashboard

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/longshot/internal/config"
	"github.com/atmx/longshot/internal/model"
	"github.com/atmx/longshot/internal/scan"
	"github.com/atmx/longshot/internal/store"
)

//go:embed static/index.html
var indexHTML []byte

const (
	defaultTradeLimit = 100
	maxTradeLimit     = 500
)

var (
	hundred  = decimal.NewFromInt(100)
	one      = decimal.NewFromInt(1)
	wonMark  = decimal.RequireFromString("0.99")
	lostMark = decimal.RequireFromString("0.01")
)

// Service serves the dashboard API. Reads go through the store, so a
// web-only process sees the ledger written by a separate scanning process.
type Service struct {
	store   store.Store
	cfg     *config.Config
	runtime *scan.Runtime
}

// NewService creates a dashboard service. runtime may be nil in web-only
// mode.
func NewService(st store.Store, cfg *config.Config, runtime *scan.Runtime) *Service {
	if runtime == nil {
		runtime = scan.NewRuntime()
	}
	return &Service{store: st, cfg: cfg, runtime: runtime}
}

// --- Response types ---

// StatusResponse is the JSON body for GET /api/status.
type StatusResponse struct {
	Mode                    string                    `json:"mode"`
	Summary                 model.Summary             `json:"summary"`
	Positions               map[string]model.Position `json:"positions"`
	PositionCount           int                       `json:"position_count"`
	TradeCount              int                       `json:"trade_count"`
	PerOrderUSD             decimal.Decimal           `json:"per_order_usd"`
	AccountTotalUSD         *decimal.Decimal          `json:"account_total_usd"`
	MaxExposureUSD          *decimal.Decimal          `json:"max_exposure_usd"`
	MaxExposurePerMarketUSD *decimal.Decimal          `json:"max_exposure_per_market_usd"`
	MinLiquidityUSD         *decimal.Decimal          `json:"min_liquidity_usd"`
	AvgEntryPrice           *decimal.Decimal          `json:"avg_entry_price"`
	AvgOdds                 *decimal.Decimal          `json:"avg_odds"`
	WinRate                 *decimal.Decimal          `json:"win_rate"`
	SettledCount            int                       `json:"settled_count"`
	WonCount                int                       `json:"won_count"`
	LastScan                *model.ScanReport         `json:"last_scan"`
	LastError               string                    `json:"last_error,omitempty"`
	UpdatedAt               *time.Time                `json:"updated_at"`
}

// TradesResponse is the JSON body for GET /api/trades.
type TradesResponse struct {
	Trades []model.Trade `json:"trades"`
}

// ConfigUpdateResponse is the JSON body returned from POST /api/config.
type ConfigUpdateResponse struct {
	OK      bool     `json:"ok"`
	Message string   `json:"message"`
	Keys    []string `json:"keys"`
}

// --- HTTP Handlers ---

// Index handles GET /
func (s *Service) Index(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// GetStatus handles GET /api/status
func (s *Service) GetStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.store.Load(r.Context())
	if err != nil {
		writeError(w, "failed to load ledger", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s.deriveStatus(state, s.runtime.Snapshot()))
}

func (s *Service) deriveStatus(state *model.LedgerState, rt scan.RuntimeSnapshot) StatusResponse {
	resp := StatusResponse{
		Mode:          s.cfg.Mode,
		Positions:     state.Positions,
		PositionCount: len(state.Positions),
		TradeCount:    len(state.Trades),
		PerOrderUSD:   rt.PerOrderUSD,
		LastScan:      rt.LastScan,
		LastError:     rt.LastError,
	}
	if resp.LastScan == nil {
		resp.LastScan = state.LastScan
	}
	if state.Summary != nil {
		resp.Summary = *state.Summary
	} else {
		resp.Summary = model.Summary{CashUsedUSD: state.CashUsedUSD}
	}
	if !state.UpdatedAt.IsZero() {
		t := state.UpdatedAt
		resp.UpdatedAt = &t
	}

	if s.cfg.Mode == model.ModePaper {
		total := s.cfg.PaperAccountUSD
		resp.AccountTotalUSD = &total
	} else {
		resp.AccountTotalUSD = rt.AccountTotalUSD
	}
	if resp.AccountTotalUSD != nil {
		total := *resp.AccountTotalUSD
		maxExp := total.Mul(s.cfg.MaxExposurePct).Div(hundred)
		perMarket := total.Mul(s.cfg.MaxExposurePerMarketPct).Div(hundred)
		minLiq := s.cfg.MinLiquidityUSD(perMarket)
		resp.MaxExposureUSD = &maxExp
		resp.MaxExposurePerMarketUSD = &perMarket
		resp.MinLiquidityUSD = &minLiq
		if resp.PerOrderUSD.IsZero() {
			resp.PerOrderUSD = total.Mul(s.cfg.OrderFraction)
		}
	}

	totalCost, totalQty := decimal.Zero, decimal.Zero
	for _, p := range state.Positions {
		mark := p.MarkPrice
		if mark.IsZero() {
			mark = p.AvgPrice
		}
		if mark.GreaterThanOrEqual(wonMark) || mark.LessThanOrEqual(lostMark) {
			resp.SettledCount++
			if mark.GreaterThanOrEqual(wonMark) {
				resp.WonCount++
			}
		}
		totalCost = totalCost.Add(p.CostUSD)
		totalQty = totalQty.Add(p.Qty)
	}
	if totalQty.IsPositive() {
		avg := totalCost.Div(totalQty)
		resp.AvgEntryPrice = &avg
		if avg.IsPositive() {
			odds := one.Div(avg)
			resp.AvgOdds = &odds
		}
	}
	if resp.SettledCount > 0 {
		rate := decimal.NewFromInt(int64(resp.WonCount)).Div(decimal.NewFromInt(int64(resp.SettledCount))).Mul(hundred)
		resp.WinRate = &rate
	}
	return resp
}

// GetTrades handles GET /api/trades?limit=N
// Returns the last N trades, newest first.
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	limit := defaultTradeLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = min(max(n, 1), maxTradeLimit)
		}
	}

	state, err := s.store.Load(r.Context())
	if err != nil {
		writeError(w, "failed to load ledger", http.StatusInternalServerError)
		return
	}

	trades := state.Trades
	if len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	out := make([]model.Trade, len(trades))
	for i, t := range trades {
		out[len(trades)-1-i] = t
	}
	writeJSON(w, http.StatusOK, TradesResponse{Trades: out})
}

// GetConfig handles GET /api/config
// Values in the env file win over the running values, since they are what
// the next restart will use.
func (s *Service) GetConfig(w http.ResponseWriter, _ *http.Request) {
	vals, err := s.cfg.EffectiveEditable()
	if err != nil {
		writeError(w, "failed to read env file", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, vals)
}

// UpdateConfig handles POST /api/config
// Writes whitelisted keys to the env file. The running process is not
// reconfigured and the ledger is never touched.
func (s *Service) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var incoming map[string]any
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	updates := make(map[string]string, len(incoming))
	for key, v := range incoming {
		str, err := envValue(v)
		if err != nil {
			writeError(w, fmt.Sprintf("%s: %v", key, err), http.StatusBadRequest)
			return
		}
		updates[key] = str
	}

	// Reject edits that would leave the next restart with an invalid config.
	effective, err := s.cfg.EffectiveEditable()
	if err != nil {
		writeError(w, "failed to read env file", http.StatusInternalServerError)
		return
	}
	if _, err := config.Parse(func(key string) string {
		if v, ok := updates[key]; ok && config.IsEditable(key) {
			return v
		}
		if v, ok := effective[key]; ok {
			return v
		}
		return os.Getenv(key)
	}); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	written, err := config.UpdateEnvFile(s.cfg.EnvFile, updates)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	sort.Strings(written)

	slog.Info("dashboard config saved", "keys", written, "file", s.cfg.EnvFile)
	writeJSON(w, http.StatusOK, ConfigUpdateResponse{
		OK:      true,
		Message: "saved to " + s.cfg.EnvFile + "; restart to apply",
		Keys:    written,
	})
}

// envValue renders a JSON scalar the way it should appear in the env file.
func envValue(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
