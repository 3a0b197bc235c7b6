package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/longshot/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var now = time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

func defaultParams() FilterParams {
	return FilterParams{
		MinPrice:         d(0.005),
		MaxPrice:         d(0.05),
		MinLiquidity:     d(500),
		MinDaysToEnd:     0,
		MaxDaysToEnd:     365,
		MaxOrdersPerScan: 10,
	}
}

func market(id, question string, liquidity float64, legs ...model.Leg) model.MarketSnapshot {
	return model.MarketSnapshot{
		ID:        id,
		Question:  question,
		Active:    true,
		Liquidity: d(liquidity),
		Legs:      legs,
	}
}

func leg(token string, price float64) model.Leg {
	return model.Leg{Outcome: "Yes", Price: d(price), TokenID: token}
}

func endsIn(days float64) *time.Time {
	t := now.Add(time.Duration(days * 24 * float64(time.Hour)))
	return &t
}

func keys(cs []model.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Key
	}
	return out
}

func TestSelect_FiltersInactiveAndClosed(t *testing.T) {
	inactive := market("m1", "q", 1000, leg("a", 0.01))
	inactive.Active = false
	closed := market("m2", "q", 1000, leg("b", 0.01))
	closed.Closed = true
	ok := market("m3", "q", 1000, leg("c", 0.01))

	got := Select([]model.MarketSnapshot{inactive, closed, ok}, nil, defaultParams(), now)
	if len(got) != 1 || got[0].Key != "m3:c" {
		t.Fatalf("expected only m3:c, got %v", keys(got))
	}
}

func TestSelect_MinLiquidity(t *testing.T) {
	markets := []model.MarketSnapshot{
		market("low", "q", 499.99, leg("a", 0.01)),
		market("edge", "q", 500, leg("b", 0.01)),
	}
	got := Select(markets, nil, defaultParams(), now)
	if len(got) != 1 || got[0].MarketID != "edge" {
		t.Fatalf("expected only the market at the minimum, got %v", keys(got))
	}
}

func TestSelect_PriceBoundsInclusive(t *testing.T) {
	m := market("m", "q", 1000,
		leg("below", 0.004),
		leg("min", 0.005),
		leg("mid", 0.02),
		leg("max", 0.05),
		leg("above", 0.051),
	)
	got := Select([]model.MarketSnapshot{m}, nil, defaultParams(), now)
	want := []string{"m:min", "m:mid", "m:max"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", keys(got), want)
	}
	for i := range want {
		if got[i].Key != want[i] {
			t.Errorf("position %d = %s, want %s", i, got[i].Key, want[i])
		}
	}
	for _, c := range got {
		if c.Price.LessThan(d(0.005)) || c.Price.GreaterThan(d(0.05)) {
			t.Errorf("candidate %s outside price band: %s", c.Key, c.Price)
		}
	}
}

func TestSelect_Keywords(t *testing.T) {
	markets := []model.MarketSnapshot{
		market("btc", "Will Bitcoin hit $200k?", 1000, leg("a", 0.01)),
		market("eth", "Will ETH flip BTC?", 1000, leg("b", 0.01)),
		market("nba", "Will the Lakers win?", 1000, leg("c", 0.01)),
	}

	p := defaultParams()
	p.IncludeKeywords = []string{"bitcoin", "eth"}
	got := Select(markets, nil, p, now)
	if len(got) != 2 {
		t.Fatalf("include filter: got %v", keys(got))
	}

	p.ExcludeKeywords = []string{"flip"}
	got = Select(markets, nil, p, now)
	if len(got) != 1 || got[0].MarketID != "btc" {
		t.Fatalf("exclude filter: got %v", keys(got))
	}

	p.IncludeKeywords = nil
	p.ExcludeKeywords = []string{"LAKERS"}
	got = Select(markets, nil, p, now)
	if len(got) != 2 {
		t.Fatalf("case-insensitive exclude: got %v", keys(got))
	}
}

func TestSelect_DaysToEndWindow(t *testing.T) {
	past := market("past", "q", 1000, leg("a", 0.01))
	past.EndDate = endsIn(-2)
	soon := market("soon", "q", 1000, leg("b", 0.01))
	soon.EndDate = endsIn(3)
	far := market("far", "q", 1000, leg("c", 0.01))
	far.EndDate = endsIn(400)
	undated := market("undated", "q", 1000, leg("d", 0.01))

	got := Select([]model.MarketSnapshot{past, soon, far, undated}, nil, defaultParams(), now)
	ids := map[string]bool{}
	for _, c := range got {
		ids[c.MarketID] = true
	}
	if !ids["soon"] || !ids["undated"] || ids["past"] || ids["far"] {
		t.Fatalf("unexpected selection %v", keys(got))
	}

	// A negative lower bound admits markets already past their end date.
	p := defaultParams()
	p.MinDaysToEnd = -5
	got = Select([]model.MarketSnapshot{past}, nil, p, now)
	if len(got) != 1 {
		t.Fatalf("expected past market within [-5, 365], got %v", keys(got))
	}
}

func TestSelect_SkipsSeenKeys(t *testing.T) {
	state := &model.LedgerState{SeenKeys: map[string]bool{"m:a": true}}
	m := market("m", "q", 1000, leg("a", 0.01), leg("b", 0.02))

	got := Select([]model.MarketSnapshot{m}, state, defaultParams(), now)
	if len(got) != 1 || got[0].Key != "m:b" {
		t.Fatalf("expected seen key suppressed, got %v", keys(got))
	}

	p := defaultParams()
	p.AllowRepeatBuys = true
	got = Select([]model.MarketSnapshot{m}, state, p, now)
	if len(got) != 2 {
		t.Fatalf("repeat buys allowed: got %v", keys(got))
	}
}

func TestSelect_RankingAndCap(t *testing.T) {
	markets := []model.MarketSnapshot{
		market("m1", "q", 1000, leg("a", 0.03)),
		market("m2", "q", 5000, leg("b", 0.01)),
		market("m3", "q", 9000, leg("c", 0.01)),
		market("m4", "q", 800, leg("d", 0.02)),
	}

	got := Select(markets, nil, defaultParams(), now)
	want := []string{"m3:c", "m2:b", "m4:d", "m1:a"}
	for i := range want {
		if got[i].Key != want[i] {
			t.Fatalf("ranking = %v, want %v", keys(got), want)
		}
	}

	p := defaultParams()
	p.MaxOrdersPerScan = 2
	got = Select(markets, nil, p, now)
	if len(got) != 2 || got[0].Key != "m3:c" || got[1].Key != "m2:b" {
		t.Fatalf("capped = %v", keys(got))
	}
}

func TestSelect_NonPositiveCapYieldsEmpty(t *testing.T) {
	markets := []model.MarketSnapshot{market("m", "q", 1000, leg("a", 0.01))}
	for _, n := range []int{0, -3} {
		p := defaultParams()
		p.MaxOrdersPerScan = n
		got := Select(markets, nil, p, now)
		if got == nil || len(got) != 0 {
			t.Errorf("cap %d: expected empty non-nil slice, got %v", n, got)
		}
	}
}

func TestSelect_MultipleLegsSameMarket(t *testing.T) {
	m := market("m", "q", 1000, leg("yes", 0.01), leg("no", 0.02))
	got := Select([]model.MarketSnapshot{m}, nil, defaultParams(), now)
	if len(got) != 2 || got[0].MarketID != "m" || got[1].MarketID != "m" {
		t.Fatalf("expected two candidates for one market, got %v", keys(got))
	}
	if got[0].Key == got[1].Key {
		t.Error("candidates from distinct legs must have distinct keys")
	}
}

func TestSelect_ZeroLegMarket(t *testing.T) {
	got := Select([]model.MarketSnapshot{market("m", "q", 1000)}, nil, defaultParams(), now)
	if len(got) != 0 {
		t.Fatalf("zero-leg market produced %v", keys(got))
	}
}

func TestSelect_DoesNotMutateInputs(t *testing.T) {
	state := &model.LedgerState{SeenKeys: map[string]bool{}}
	markets := []model.MarketSnapshot{
		market("m1", "q", 1000, leg("a", 0.03)),
		market("m2", "q", 1000, leg("b", 0.01)),
	}
	Select(markets, state, defaultParams(), now)
	if markets[0].ID != "m1" || markets[1].ID != "m2" {
		t.Error("input order changed")
	}
	if len(state.SeenKeys) != 0 {
		t.Error("seen keys mutated")
	}
}
