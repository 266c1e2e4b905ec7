package markets

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedFilter() *Filter {
	return &Filter{Now: func() time.Time { return now }}
}

func sample() []types.Record {
	return []types.Record{
		{"id": "m1", "title": "Will the Fed cut rates in March?", "category": "Economics",
			"liquidity": 50000, "closes_at": now.Add(10 * 24 * time.Hour).Format(time.RFC3339)},
		{"id": "m2", "question": "Bitcoin above 100k?", "description": "crypto price market", "category": "Crypto",
			"liquidity_usd": "120000", "end_date": now.Add(36 * time.Hour)},
		{"id": "m3", "title": "Election winner", "description": "Presidential race", "category": "politics",
			"liquidity": 8000},
		{"id": "m4", "title": "Rain in London tomorrow", "category": "Weather",
			"liquidity": 90000, "endDate": now.Add(400 * 24 * time.Hour).Format(time.RFC3339)},
	}
}

func ids(rs []types.Record) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.String("id"))
	}
	return out
}

func ptrF(v float64) *float64 { return &v }
func ptrI(v int) *int         { return &v }

func TestDaysToCloseRoundsUp(t *testing.T) {
	assert.Equal(t, 2, DaysToClose(now.Add(36*time.Hour), now))
	assert.Equal(t, 1, DaysToClose(now.Add(time.Minute), now))
	assert.Equal(t, 0, DaysToClose(now, now))
	assert.Equal(t, -1, DaysToClose(now.Add(-30*time.Hour), now))
}

func TestApplyRules(t *testing.T) {
	tests := []struct {
		name  string
		rules Rules
		want  []string
	}{
		{"no rules", Rules{}, []string{"m1", "m2", "m3", "m4"}},
		{"liquidity floor", Rules{MinLiquidityUSD: ptrF(50000)}, []string{"m1", "m2", "m4"}},
		{"days window, missing close passes", Rules{MinDaysToClose: ptrI(2), MaxDaysToClose: ptrI(30)}, []string{"m1", "m2", "m3"}},
		{"max days only", Rules{MaxDaysToClose: ptrI(5)}, []string{"m2", "m3"}},
		{"categories case-folded", Rules{Categories: []string{"Politics", "crypto"}}, []string{"m2", "m3"}},
		{"exclude keywords", Rules{ExcludeKeywords: []string{"BITCOIN", "rain"}}, []string{"m1", "m3"}},
		{"include keywords in description", Rules{IncludeKeywords: []string{"presidential", "fed"}}, []string{"m1", "m3"}},
		{"combined", Rules{
			MinLiquidityUSD: ptrF(10000),
			MaxDaysToClose:  ptrI(30),
			IncludeKeywords: []string{"price", "rates"},
		}, []string{"m1", "m2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := fixedFilter().Apply(sample(), tt.rules)
			assert.Equal(t, tt.want, ids(res.Markets))
			assert.Equal(t, len(tt.want), res.Count)
			assert.Equal(t, 4, res.OriginalCount)
		})
	}
}

func TestApplyOrderIndependent(t *testing.T) {
	liq := Rules{MinLiquidityUSD: ptrF(20000)}
	cat := Rules{Categories: []string{"economics", "crypto", "weather"}}
	kw := Rules{ExcludeKeywords: []string{"london"}}

	f := fixedFilter()
	src := sample()
	a := f.Apply(f.Apply(f.Apply(src, liq).Markets, cat).Markets, kw)
	b := f.Apply(f.Apply(f.Apply(src, kw).Markets, liq).Markets, cat)
	c := f.Apply(src, Rules{
		MinLiquidityUSD: liq.MinLiquidityUSD,
		Categories:      cat.Categories,
		ExcludeKeywords: kw.ExcludeKeywords,
	})
	assert.Equal(t, ids(a.Markets), ids(b.Markets))
	assert.Equal(t, ids(a.Markets), ids(c.Markets))
	assert.Equal(t, []string{"m1", "m2"}, ids(c.Markets))
	assert.Len(t, src, 4)
}

func TestApplyUnparseableCloseTreatedAsMissing(t *testing.T) {
	res := fixedFilter().Apply([]types.Record{{"id": "x", "closes_at": "soon"}}, Rules{MaxDaysToClose: ptrI(1)})
	assert.Equal(t, []string{"x"}, ids(res.Markets))
}
