// Package wallets filters and ranks wallet metric snapshots.
package wallets

import (
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

const DefaultLimit = 100

// WalletMetricSnapshot is the warehouse row shape wallet records follow.
type WalletMetricSnapshot struct {
	WalletAddress      string  `mapstructure:"wallet_address" json:"wallet_address"`
	Omega              float64 `mapstructure:"omega" json:"omega"`
	PnL30d             float64 `mapstructure:"pnl_30d" json:"pnl_30d"`
	ROI30d             float64 `mapstructure:"roi_30d" json:"roi_30d"`
	WinRate30d         float64 `mapstructure:"win_rate_30d" json:"win_rate_30d"`
	Sharpe30d          float64 `mapstructure:"sharpe_30d" json:"sharpe_30d"`
	Trades30d          int     `mapstructure:"trades_30d" json:"trades_30d"`
	PrimaryCategory    string  `mapstructure:"primary_category" json:"primary_category"`
	TotalVolumeUSD     float64 `mapstructure:"total_volume_usd" json:"total_volume_usd"`
	AvgPositionSizeUSD float64 `mapstructure:"avg_position_size_usd" json:"avg_position_size_usd"`
}

func (s WalletMetricSnapshot) Record() types.Record {
	return types.Record{
		"wallet_address":        s.WalletAddress,
		"omega":                 s.Omega,
		"pnl_30d":               s.PnL30d,
		"roi_30d":               s.ROI30d,
		"win_rate_30d":          s.WinRate30d,
		"sharpe_30d":            s.Sharpe30d,
		"trades_30d":            s.Trades30d,
		"primary_category":      s.PrimaryCategory,
		"total_volume_usd":      s.TotalVolumeUSD,
		"avg_position_size_usd": s.AvgPositionSizeUSD,
	}
}

// Condition narrows the working set. Operator is top_percent,
// bottom_percent or one of >=, >, <=, <, =.
type Condition struct {
	Metric   string  `mapstructure:"metric"`
	Operator string  `mapstructure:"operator"`
	Value    float64 `mapstructure:"value"`
}

// Sorting holds "field DIRECTION" directives; direction defaults to DESC.
type Sorting struct {
	Primary   string `mapstructure:"primary"`
	Secondary string `mapstructure:"secondary"`
	Tertiary  string `mapstructure:"tertiary"`
}

type Config struct {
	Categories []string    `mapstructure:"categories"`
	Conditions []Condition `mapstructure:"conditions"`
	Sorting    Sorting     `mapstructure:"sorting"`
	Limit      int         `mapstructure:"limit"`
}

type Result struct {
	Wallets       []types.Record `json:"wallets"`
	Count         int            `json:"count"`
	OriginalCount int            `json:"original_count"`
}

// Rank applies the category filter, then each condition against the set the
// previous condition left, then the three-level sort and the limit.
func Rank(wallets []types.Record, cfg Config) Result {
	working := make([]types.Record, 0, len(wallets))
	if len(cfg.Categories) > 0 {
		for _, w := range wallets {
			if containsFold(cfg.Categories, w.String("primary_category")) {
				working = append(working, w)
			}
		}
	} else {
		working = append(working, wallets...)
	}

	for _, c := range cfg.Conditions {
		working = applyCondition(working, c)
	}

	keys := parseSorting(cfg.Sorting)
	if len(keys) > 0 {
		sort.SliceStable(working, func(i, j int) bool {
			for _, k := range keys {
				if c := k.compare(working[i], working[j]); c != 0 {
					return c < 0
				}
			}
			return false
		})
	}

	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(working) > limit {
		working = working[:limit]
	}
	return Result{Wallets: working, Count: len(working), OriginalCount: len(wallets)}
}

func applyCondition(working []types.Record, c Condition) []types.Record {
	var keep func(v float64) bool
	switch strings.ToLower(c.Operator) {
	case "top_percent":
		threshold := Percentile(metricValues(working, c.Metric), 100-c.Value)
		keep = func(v float64) bool { return v >= threshold }
	case "bottom_percent":
		threshold := Percentile(metricValues(working, c.Metric), c.Value)
		keep = func(v float64) bool { return v <= threshold }
	case ">=":
		keep = func(v float64) bool { return v >= c.Value }
	case ">":
		keep = func(v float64) bool { return v > c.Value }
	case "<=":
		keep = func(v float64) bool { return v <= c.Value }
	case "<":
		keep = func(v float64) bool { return v < c.Value }
	case "=", "==":
		keep = func(v float64) bool { return v == c.Value }
	default:
		log.Warn().Str("operator", c.Operator).Str("metric", c.Metric).Msg("Unknown wallet condition operator, skipping")
		return working
	}

	out := make([]types.Record, 0, len(working))
	for _, w := range working {
		if v, ok := w.Float(c.Metric); ok && keep(v) {
			out = append(out, w)
		}
	}
	return out
}

// Percentile returns the value at percentile p of values: sorted ascending,
// index ceil(p/100*n)-1 clamped to the slice. An empty set yields 0.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func metricValues(wallets []types.Record, metric string) []float64 {
	values := make([]float64, 0, len(wallets))
	for _, w := range wallets {
		if v, ok := w.Float(metric); ok && !math.IsNaN(v) {
			values = append(values, v)
		}
	}
	return values
}

type sortKey struct {
	field string
	asc   bool
}

func parseSorting(s Sorting) []sortKey {
	var keys []sortKey
	for _, directive := range []string{s.Primary, s.Secondary, s.Tertiary} {
		parts := strings.Fields(directive)
		if len(parts) == 0 {
			continue
		}
		k := sortKey{field: parts[0]}
		if len(parts) > 1 && strings.EqualFold(parts[1], "ASC") {
			k.asc = true
		}
		keys = append(keys, k)
	}
	return keys
}

// compare puts missing values last whatever the direction
func (k sortKey) compare(a, b types.Record) int {
	av, aok := a.Get(k.field)
	bv, bok := b.Get(k.field)
	aMissing := !aok || types.IsNull(av)
	bMissing := !bok || types.IsNull(bv)
	switch {
	case aMissing && bMissing:
		return 0
	case aMissing:
		return 1
	case bMissing:
		return -1
	}
	c, ok := types.Compare(av, bv)
	if !ok {
		return 0
	}
	if k.asc {
		return c
	}
	return -c
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
