package dashboard_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/atmx/longshot/internal/config"
	"github.com/atmx/longshot/internal/dashboard"
	"github.com/atmx/longshot/internal/ledger"
	"github.com/atmx/longshot/internal/model"
	"github.com/atmx/longshot/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a Service backed by an in-memory store and an env
// file in a temp dir.
func newTestEnv(t *testing.T, env map[string]string) (*store.MemoryStore, *config.Config, chi.Router) {
	t.Helper()
	cfg, err := config.Parse(func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.EnvFile = filepath.Join(t.TempDir(), ".env")

	ms := store.NewMemoryStore()
	svc := dashboard.NewService(ms, cfg, nil)

	r := chi.NewRouter()
	r.Get("/", svc.Index)
	r.Get("/api/status", svc.GetStatus)
	r.Get("/api/trades", svc.GetTrades)
	r.Get("/api/config", svc.GetConfig)
	r.Post("/api/config", svc.UpdateConfig)
	return ms, cfg, r
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func position(market string, qty, cost, mark float64) model.Position {
	return model.Position{
		TokenID:   market + "-yes",
		MarketID:  market,
		Question:  market + "?",
		Outcome:   "Yes",
		Qty:       d(qty),
		CostUSD:   d(cost),
		AvgPrice:  d(cost).Div(d(qty)),
		MarkPrice: d(mark),
	}
}

// --- Status ---

func TestGetStatus_DerivesPortfolioStats(t *testing.T) {
	ms, _, router := newTestEnv(t, nil)
	state := ledger.New()
	state.CashUsedUSD = d(25)
	state.Positions["won:won-yes"] = position("won", 1000, 10, 0.995)
	state.Positions["lost:lost-yes"] = position("lost", 1000, 5, 0) // mark falls back to avg 0.005
	state.Positions["open:open-yes"] = position("open", 500, 10, 0.02)
	if err := ms.Save(context.Background(), state); err != nil {
		t.Fatal(err)
	}

	w := do(t, router, "GET", "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp dashboard.StatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}

	if resp.Mode != model.ModePaper || resp.PositionCount != 3 {
		t.Errorf("unexpected header fields: %+v", resp)
	}
	if resp.SettledCount != 2 || resp.WonCount != 1 {
		t.Errorf("expected 2 settled / 1 won, got %d/%d", resp.SettledCount, resp.WonCount)
	}
	if resp.WinRate == nil || !resp.WinRate.Equal(d(50)) {
		t.Errorf("expected win rate 50, got %v", resp.WinRate)
	}
	if resp.AvgEntryPrice == nil || !resp.AvgEntryPrice.Equal(d(0.01)) {
		t.Errorf("expected avg entry 0.01, got %v", resp.AvgEntryPrice)
	}
	if resp.AvgOdds == nil || !resp.AvgOdds.Equal(d(100)) {
		t.Errorf("expected avg odds 100, got %v", resp.AvgOdds)
	}
	if resp.AccountTotalUSD == nil || !resp.AccountTotalUSD.Equal(d(10000)) {
		t.Errorf("paper account total should come from config, got %v", resp.AccountTotalUSD)
	}
	if !resp.MaxExposureUSD.Equal(d(500)) || !resp.MaxExposurePerMarketUSD.Equal(d(100)) {
		t.Errorf("unexpected caps %v / %v", resp.MaxExposureUSD, resp.MaxExposurePerMarketUSD)
	}
	if !resp.MinLiquidityUSD.Equal(d(500)) {
		t.Errorf("expected min liquidity 500, got %v", resp.MinLiquidityUSD)
	}
	if !resp.PerOrderUSD.Equal(d(10)) {
		t.Errorf("expected per-order 10 before any scan, got %s", resp.PerOrderUSD)
	}
	if !resp.Summary.CashUsedUSD.Equal(d(25)) {
		t.Errorf("summary should fall back to ledger cash, got %s", resp.Summary.CashUsedUSD)
	}
}

func TestGetStatus_EmptyLedger(t *testing.T) {
	_, _, router := newTestEnv(t, map[string]string{"MIN_LIQUIDITY_MULTIPLIER": "10"})

	w := do(t, router, "GET", "/api/status", nil)
	var resp dashboard.StatusResponse
	json.NewDecoder(w.Body).Decode(&resp)

	if resp.AvgEntryPrice != nil || resp.AvgOdds != nil || resp.WinRate != nil {
		t.Error("averages should be null with no positions")
	}
	if resp.MinLiquidityUSD == nil || !resp.MinLiquidityUSD.Equal(d(1000)) {
		t.Errorf("expected min liquidity 100*10, got %v", resp.MinLiquidityUSD)
	}
	if resp.UpdatedAt != nil {
		t.Error("a never-saved ledger has no updated_at")
	}
}

func TestGetStatus_LiveWithoutBalance(t *testing.T) {
	_, _, router := newTestEnv(t, map[string]string{
		"BOT_MODE":                  "live",
		"POLYMARKET_PRIVATE_KEY":    "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
		"POLYMARKET_FUNDER":         "0x0000000000000000000000000000000000000001",
		"POLYMARKET_API_KEY":        "k",
		"POLYMARKET_API_SECRET":     "s",
		"POLYMARKET_API_PASSPHRASE": "p",
	})

	w := do(t, router, "GET", "/api/status", nil)
	var resp dashboard.StatusResponse
	json.NewDecoder(w.Body).Decode(&resp)

	if resp.AccountTotalUSD != nil || resp.MaxExposureUSD != nil {
		t.Error("live status should not invent an account total before the first scan")
	}
}

type brokenStore struct{}

func (brokenStore) Load(context.Context) (*model.LedgerState, error) { return nil, store.ErrPersistence }
func (brokenStore) Save(context.Context, *model.LedgerState) error { return store.ErrPersistence }

func TestGetStatus_StoreError(t *testing.T) {
	cfg, _ := config.Parse(func(string) string { return "" })
	svc := dashboard.NewService(brokenStore{}, cfg, nil)

	w := httptest.NewRecorder()
	svc.GetStatus(w, httptest.NewRequest("GET", "/api/status", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["error"] == "" {
		t.Error("expected an error message")
	}
}

// --- Trades ---

func seedTrades(t *testing.T, ms *store.MemoryStore, n int) {
	t.Helper()
	state := ledger.New()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		c := model.Candidate{
			Key:      model.PositionKey("m", string(rune('a'+i))),
			MarketID: "m",
			TokenID:  string(rune('a' + i)),
			Outcome:  "Yes",
			Price:    d(0.01),
		}
		if _, err := ledger.ApplyFill(state, c, d(1), model.ModePaper, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}
	if err := ms.Save(context.Background(), state); err != nil {
		t.Fatal(err)
	}
}

func getTrades(t *testing.T, router http.Handler, query string) []model.Trade {
	t.Helper()
	w := do(t, router, "GET", "/api/trades"+query, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp dashboard.TradesResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	return resp.Trades
}

func TestGetTrades_NewestFirst(t *testing.T) {
	ms, _, router := newTestEnv(t, nil)
	seedTrades(t, ms, 5)

	trades := getTrades(t, router, "?limit=2")
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].TokenID != "e" || trades[1].TokenID != "d" {
		t.Errorf("expected newest first, got %s, %s", trades[0].TokenID, trades[1].TokenID)
	}
}

func TestGetTrades_LimitBounds(t *testing.T) {
	ms, _, router := newTestEnv(t, nil)
	seedTrades(t, ms, 5)

	tests := []struct {
		query string
		want  int
	}{
		{"", 5},
		{"?limit=abc", 5},
		{"?limit=0", 1},
		{"?limit=-3", 1},
		{"?limit=100000", 5},
	}
	for _, tc := range tests {
		if got := len(getTrades(t, router, tc.query)); got != tc.want {
			t.Errorf("%q: expected %d trades, got %d", tc.query, tc.want, got)
		}
	}
}

func TestGetTrades_EmptyLedgerIsEmptyArray(t *testing.T) {
	_, _, router := newTestEnv(t, nil)
	w := do(t, router, "GET", "/api/trades", nil)
	if !strings.Contains(w.Body.String(), `"trades":[]`) {
		t.Errorf("expected an empty array, got %s", w.Body.String())
	}
}

// --- Config ---

func TestGetConfig_FileOverridesRunning(t *testing.T) {
	_, cfg, router := newTestEnv(t, nil)
	os.WriteFile(cfg.EnvFile, []byte("MAX_PRICE=0.04\nPOLYMARKET_PRIVATE_KEY=secret\n"), 0o600)

	w := do(t, router, "GET", "/api/config", nil)
	var vals map[string]string
	json.NewDecoder(w.Body).Decode(&vals)

	if vals["MAX_PRICE"] != "0.04" {
		t.Errorf("expected file value 0.04, got %q", vals["MAX_PRICE"])
	}
	if vals["MIN_PRICE"] != "0.005" {
		t.Errorf("expected running value 0.005, got %q", vals["MIN_PRICE"])
	}
	if _, ok := vals["POLYMARKET_PRIVATE_KEY"]; ok {
		t.Error("secrets must not be exposed")
	}
}

func TestUpdateConfig_WritesWhitelistedKeys(t *testing.T) {
	_, cfg, router := newTestEnv(t, nil)
	os.WriteFile(cfg.EnvFile, []byte("# bot settings\nMAX_PRICE=0.05\n"), 0o600)

	w := do(t, router, "POST", "/api/config", map[string]any{
		"MAX_PRICE":         0.03,
		"ALLOW_REPEAT_BUYS": true,
		"INCLUDE_KEYWORDS":  "election, fed",
		"DATABASE_URL":      "postgres://elsewhere",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp dashboard.ConfigUpdateResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.OK || len(resp.Keys) != 3 || resp.Keys[0] != "ALLOW_REPEAT_BUYS" {
		t.Errorf("unexpected response %+v", resp)
	}
	if !strings.Contains(resp.Message, "restart") {
		t.Errorf("message should ask for a restart: %q", resp.Message)
	}

	b, _ := os.ReadFile(cfg.EnvFile)
	text := string(b)
	for _, want := range []string{"# bot settings", "MAX_PRICE=0.03", "ALLOW_REPEAT_BUYS=true", `INCLUDE_KEYWORDS="election, fed"`} {
		if !strings.Contains(text, want) {
			t.Errorf("env file missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "DATABASE_URL") {
		t.Error("non-editable keys must not be written")
	}
	if !cfg.MaxPrice.Equal(d(0.05)) {
		t.Error("running config must not change")
	}
}

func TestUpdateConfig_RejectsInvalid(t *testing.T) {
	_, cfg, router := newTestEnv(t, nil)

	tests := []struct {
		name string
		body any
	}{
		{"inverted price band", map[string]any{"MIN_PRICE": "0.5"}},
		{"unparseable number", map[string]any{"WEB_PORT": "eighty"}},
		{"nested value", map[string]any{"MAX_PRICE": []any{0.1}}},
		{"not an object", []int{1, 2}},
	}
	for _, tc := range tests {
		w := do(t, router, "POST", "/api/config", tc.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tc.name, w.Code)
		}
	}
	if _, err := os.Stat(cfg.EnvFile); !os.IsNotExist(err) {
		t.Error("rejected updates must not create the env file")
	}
}

func TestIndex_ServesDashboard(t *testing.T) {
	_, _, router := newTestEnv(t, nil)
	w := do(t, router, "GET", "/", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("unexpected response %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Body.String(), "/api/status") {
		t.Error("page should poll the status endpoint")
	}
}

// --- WebSocket ---

func TestWSHub_PublishReachesClient(t *testing.T) {
	hub := dashboard.NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish("scan_completed", map[string]int{"executed": 2})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string         `json:"type"`
		Data map[string]int `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "scan_completed" || msg.Data["executed"] != 2 {
		t.Errorf("unexpected message %+v", msg)
	}
}
