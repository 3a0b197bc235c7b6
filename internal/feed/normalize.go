package feed

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/longshot/internal/model"
)

const unknownQuestion = "Unknown Market"

// gammaMarket is the subset of a Gamma /markets row the bot reads. Gamma is
// loose with types: ids and numbers arrive as strings or numbers, and list
// fields are often a JSON string that itself contains a JSON array.
type gammaMarket struct {
	ID              json.RawMessage `json:"id"`
	Question        string          `json:"question"`
	Title           string          `json:"title"`
	Slug            string          `json:"slug"`
	Active          bool            `json:"active"`
	Closed          bool            `json:"closed"`
	LiquidityNum    json.RawMessage `json:"liquidityNum"`
	Liquidity       json.RawMessage `json:"liquidity"`
	ScaledLiquidity json.RawMessage `json:"scaledLiquidity"`
	EndDate         string          `json:"endDate"`
	EndDateAlt      string          `json:"end_date"`
	Outcomes        stringList      `json:"outcomes"`
	OutcomePrices   stringList      `json:"outcomePrices"`
	ClobTokenIDs    stringList      `json:"clobTokenIds"`
}

func (m gammaMarket) normalize() model.MarketSnapshot {
	question := m.Question
	if question == "" {
		question = m.Title
	}
	if question == "" {
		question = unknownQuestion
	}

	end := m.EndDate
	if end == "" {
		end = m.EndDateAlt
	}

	snap := model.MarketSnapshot{
		ID:         scalarString(m.ID),
		Question:   question,
		Slug:       m.Slug,
		Active:     m.Active,
		Closed:     m.Closed,
		Liquidity:  firstNumber(m.LiquidityNum, m.Liquidity, m.ScaledLiquidity),
		EndDate:    parseEndDate(end),
		EndDateRaw: end,
		Legs:       []model.Leg{},
	}

	for i, name := range m.Outcomes {
		if i >= len(m.OutcomePrices) || i >= len(m.ClobTokenIDs) {
			break
		}
		price, err := decimal.NewFromString(strings.TrimSpace(m.OutcomePrices[i]))
		if err != nil {
			continue
		}
		token := strings.TrimSpace(m.ClobTokenIDs[i])
		if token == "" {
			continue
		}
		snap.Legs = append(snap.Legs, model.Leg{
			Outcome: name,
			Price:   price,
			TokenID: token,
		})
	}
	return snap
}

// stringList accepts a JSON array of strings or numbers, or a string that
// contains such an array. Anything unreadable decodes to an empty list so
// one malformed market never fails the whole page.
type stringList []string

func (s *stringList) UnmarshalJSON(b []byte) error {
	*s = nil
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	if b[0] == '"' {
		var inner string
		if err := json.Unmarshal(b, &inner); err != nil {
			return nil
		}
		b = bytes.TrimSpace([]byte(inner))
		if len(b) == 0 {
			return nil
		}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return nil
	}
	vals := make([]string, len(items))
	for i, it := range items {
		vals[i] = scalarString(it)
	}
	*s = vals
	return nil
}

// scalarString renders a JSON string or number as text; null and
// composite values become "".
func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
		return ""
	}
	if raw[0] == '{' || raw[0] == '[' {
		return ""
	}
	return string(raw)
}

// firstNumber takes the first present field and parses it; if that field
// is not numeric the result is zero rather than the next field.
func firstNumber(fields ...json.RawMessage) decimal.Decimal {
	for _, f := range fields {
		f = bytes.TrimSpace(f)
		if len(f) == 0 || bytes.Equal(f, []byte("null")) {
			continue
		}
		v, err := decimal.NewFromString(strings.TrimSpace(scalarString(f)))
		if err != nil {
			return decimal.Zero
		}
		return v
	}
	return decimal.Zero
}

var endDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseEndDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range endDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
