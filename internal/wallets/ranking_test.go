package wallets

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

func tenWallets() []types.Record {
	pnl := []float64{500, -20, 300, 1200, 80, 40, 950, 10, 2000, 600}
	categories := []string{"Politics", "Crypto"}
	out := make([]types.Record, 0, 10)
	for i := 0; i < 10; i++ {
		out = append(out, WalletMetricSnapshot{
			WalletAddress:   fmt.Sprintf("0x%02d", i+1),
			Omega:           float64(i + 1),
			PnL30d:          pnl[i],
			WinRate30d:      0.5,
			Trades30d:       10 + i,
			PrimaryCategory: categories[i%2],
		}.Record())
	}
	return out
}

func addresses(rs []types.Record) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.String("wallet_address"))
	}
	return out
}

func TestPercentile(t *testing.T) {
	values := []float64{5, 1, 4, 2, 3, 10, 9, 8, 7, 6}
	assert.Equal(t, 8.0, Percentile(values, 80))
	assert.Equal(t, 1.0, Percentile(values, 0))
	assert.Equal(t, 10.0, Percentile(values, 100))
	assert.Equal(t, 10.0, Percentile(values, 150))
	assert.Equal(t, 0.0, Percentile(nil, 50))
	assert.Equal(t, 7.0, Percentile([]float64{7}, 20))
	// input slice left untouched
	assert.Equal(t, 5.0, values[0])
}

func TestRankTopPercentThenSortByPnL(t *testing.T) {
	res := Rank(tenWallets(), Config{
		Conditions: []Condition{{Metric: "omega", Operator: "top_percent", Value: 20}},
		Sorting:    Sorting{Primary: "pnl_30d DESC"},
	})

	assert.Equal(t, 10, res.OriginalCount)
	require.Equal(t, 3, res.Count)
	// omega 8, 9, 10 survive; ordered by pnl 2000, 600, 10
	assert.Equal(t, []string{"0x09", "0x10", "0x08"}, addresses(res.Wallets))
}

func TestRankConditionsCompose(t *testing.T) {
	// second percentile is computed over what the first condition left
	res := Rank(tenWallets(), Config{
		Conditions: []Condition{
			{Metric: "omega", Operator: ">", Value: 5},
			{Metric: "omega", Operator: "bottom_percent", Value: 40},
		},
		Sorting: Sorting{Primary: "omega ASC"},
	})
	// working set 6..10, 40th percentile index ceil(2)-1 = 1 -> 7
	assert.Equal(t, []string{"0x06", "0x07"}, addresses(res.Wallets))
}

func TestRankTopPercentMonotonic(t *testing.T) {
	prev := len(tenWallets()) + 1
	for _, p := range []float64{100, 80, 50, 30, 20, 10, 1} {
		res := Rank(tenWallets(), Config{Conditions: []Condition{{Metric: "omega", Operator: "top_percent", Value: p}}})
		assert.LessOrEqual(t, res.Count, prev, "p=%v", p)
		prev = res.Count
	}
}

func TestRankCategoryFilterAndLimit(t *testing.T) {
	res := Rank(tenWallets(), Config{
		Categories: []string{"crypto"},
		Sorting:    Sorting{Primary: "omega"},
		Limit:      2,
	})
	assert.Equal(t, 10, res.OriginalCount)
	assert.Equal(t, []string{"0x10", "0x08"}, addresses(res.Wallets))
}

func TestRankDefaultLimit(t *testing.T) {
	many := make([]types.Record, 0, 150)
	for i := 0; i < 150; i++ {
		many = append(many, types.Record{"wallet_address": fmt.Sprint(i), "omega": i})
	}
	assert.Equal(t, DefaultLimit, Rank(many, Config{}).Count)
}

func TestRankTieBreakers(t *testing.T) {
	ws := []types.Record{
		{"wallet_address": "a", "omega": 2, "pnl_30d": 100, "trades_30d": 5},
		{"wallet_address": "b", "omega": 2, "pnl_30d": 100, "trades_30d": 9},
		{"wallet_address": "c", "omega": 2, "pnl_30d": 300, "trades_30d": 1},
		{"wallet_address": "d", "omega": 3, "pnl_30d": 0, "trades_30d": 1},
	}
	res := Rank(ws, Config{Sorting: Sorting{
		Primary:   "omega DESC",
		Secondary: "pnl_30d DESC",
		Tertiary:  "trades_30d ASC",
	}})
	assert.Equal(t, []string{"d", "c", "a", "b"}, addresses(res.Wallets))

	// differing only on the tertiary field, the tertiary directive alone decides
	res = Rank(ws[:2], Config{Sorting: Sorting{Primary: "omega", Secondary: "pnl_30d", Tertiary: "trades_30d DESC"}})
	assert.Equal(t, []string{"b", "a"}, addresses(res.Wallets))
}

func TestRankMissingValuesSortLast(t *testing.T) {
	ws := []types.Record{
		{"wallet_address": "nil", "sharpe_30d": nil},
		{"wallet_address": "lo", "sharpe_30d": 0.5},
		{"wallet_address": "none"},
		{"wallet_address": "hi", "sharpe_30d": 2.0},
	}
	for _, dir := range []string{"ASC", "DESC"} {
		res := Rank(ws, Config{Sorting: Sorting{Primary: "sharpe_30d " + dir}})
		got := addresses(res.Wallets)
		assert.ElementsMatch(t, []string{"nil", "none"}, got[2:], dir)
	}
}

func TestRankPercentileExcludesMissingMetric(t *testing.T) {
	ws := []types.Record{
		{"wallet_address": "a", "omega": 1},
		{"wallet_address": "b"},
		{"wallet_address": "c", "omega": 3},
	}
	res := Rank(ws, Config{Conditions: []Condition{{Metric: "omega", Operator: "top_percent", Value: 100}}})
	assert.ElementsMatch(t, []string{"a", "c"}, addresses(res.Wallets))
}

func TestRankDoesNotMutateInput(t *testing.T) {
	in := tenWallets()
	first := in[0]["wallet_address"]
	Rank(in, Config{Sorting: Sorting{Primary: "pnl_30d DESC"}})
	assert.Equal(t, first, in[0]["wallet_address"])
}
