// Package strategy turns market snapshots into a ranked, capped list of buy
// candidates. Selection is pure: no I/O, no mutation of its inputs.
package strategy

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/longshot/internal/model"
)

// FilterParams is the immutable per-cycle strategy configuration.
// Keywords are expected lower-cased.
type FilterParams struct {
	MinPrice         decimal.Decimal
	MaxPrice         decimal.Decimal
	MinLiquidity     decimal.Decimal
	MinDaysToEnd     float64
	MaxDaysToEnd     float64
	IncludeKeywords  []string
	ExcludeKeywords  []string
	AllowRepeatBuys  bool
	MaxOrdersPerScan int
}

// Select returns the legs that pass every filter, cheapest first (ties
// broken by higher liquidity), truncated to MaxOrdersPerScan.
func Select(markets []model.MarketSnapshot, state *model.LedgerState, p FilterParams, now time.Time) []model.Candidate {
	if p.MaxOrdersPerScan <= 0 {
		return []model.Candidate{}
	}

	var candidates []model.Candidate
	for _, m := range markets {
		if !m.Active || m.Closed {
			continue
		}
		if m.Liquidity.LessThan(p.MinLiquidity) {
			continue
		}
		if !MatchesKeywords(m.Question, p.IncludeKeywords, p.ExcludeKeywords) {
			continue
		}
		if days, ok := DaysUntil(m.EndDate, now); ok {
			if days < p.MinDaysToEnd || days > p.MaxDaysToEnd {
				continue
			}
		}

		for _, leg := range m.Legs {
			if leg.Price.LessThan(p.MinPrice) || leg.Price.GreaterThan(p.MaxPrice) {
				continue
			}
			key := model.PositionKey(m.ID, leg.TokenID)
			if !p.AllowRepeatBuys && state != nil && state.SeenKeys[key] {
				continue
			}
			candidates = append(candidates, model.Candidate{
				Key:       key,
				MarketID:  m.ID,
				TokenID:   leg.TokenID,
				Question:  m.Question,
				Outcome:   leg.Outcome,
				Price:     leg.Price,
				Liquidity: m.Liquidity,
				EndDate:   m.EndDate,
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].Price.Equal(candidates[j].Price) {
			return candidates[i].Price.LessThan(candidates[j].Price)
		}
		return candidates[i].Liquidity.GreaterThan(candidates[j].Liquidity)
	})

	if len(candidates) > p.MaxOrdersPerScan {
		candidates = candidates[:p.MaxOrdersPerScan]
	}
	if candidates == nil {
		candidates = []model.Candidate{}
	}
	return candidates
}

// MatchesKeywords reports whether question contains at least one include
// keyword (when any are configured) and none of the exclude keywords.
// Matching is case-insensitive substring.
func MatchesKeywords(question string, include, exclude []string) bool {
	q := strings.ToLower(question)
	if len(include) > 0 {
		matched := false
		for _, kw := range include {
			if strings.Contains(q, strings.ToLower(kw)) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, kw := range exclude {
		if strings.Contains(q, strings.ToLower(kw)) {
			return false
		}
	}
	return true
}

// DaysUntil returns the signed number of days from now to end.
// ok is false when there is no end date.
func DaysUntil(end *time.Time, now time.Time) (days float64, ok bool) {
	if end == nil || end.IsZero() {
		return 0, false
	}
	return end.Sub(now).Hours() / 24, true
}
