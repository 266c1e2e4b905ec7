// Package markets narrows a market set by liquidity, time to close,
// category and keywords.
package markets

import (
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

// Rules are all optional; nil pointers and empty lists disable the rule.
type Rules struct {
	MinLiquidityUSD *float64 `mapstructure:"min_liquidity_usd"`
	MinDaysToClose  *int     `mapstructure:"min_days_to_close"`
	MaxDaysToClose  *int     `mapstructure:"max_days_to_close"`
	Categories      []string `mapstructure:"categories"`
	ExcludeKeywords []string `mapstructure:"exclude_keywords"`
	IncludeKeywords []string `mapstructure:"include_keywords"`
}

type Result struct {
	Markets       []types.Record `json:"markets"`
	Count         int            `json:"count"`
	OriginalCount int            `json:"original_count"`
}

// Filter holds the clock used for the days-to-close window.
type Filter struct {
	Now func() time.Time
}

func NewFilter() *Filter {
	return &Filter{Now: time.Now}
}

// Apply runs the rules in a fixed order, each narrowing what the previous one left.
func (f *Filter) Apply(markets []types.Record, rules Rules) Result {
	now := time.Now()
	if f != nil && f.Now != nil {
		now = f.Now()
	}

	working := make([]types.Record, 0, len(markets))
	working = append(working, markets...)

	if rules.MinLiquidityUSD != nil {
		floor := *rules.MinLiquidityUSD
		working = keep(working, func(m types.Record) bool {
			return liquidity(m) >= floor
		})
	}

	if rules.MinDaysToClose != nil || rules.MaxDaysToClose != nil {
		working = keep(working, func(m types.Record) bool {
			closes, ok := closesAt(m)
			if !ok {
				return true
			}
			days := DaysToClose(closes, now)
			if rules.MinDaysToClose != nil && days < *rules.MinDaysToClose {
				return false
			}
			if rules.MaxDaysToClose != nil && days > *rules.MaxDaysToClose {
				return false
			}
			return true
		})
	}

	if len(rules.Categories) > 0 {
		working = keep(working, func(m types.Record) bool {
			category := m.String("category")
			for _, c := range rules.Categories {
				if strings.EqualFold(c, category) {
					return true
				}
			}
			return false
		})
	}

	if len(rules.ExcludeKeywords) > 0 {
		working = keep(working, func(m types.Record) bool {
			return !mentionsAny(text(m), rules.ExcludeKeywords)
		})
	}

	if len(rules.IncludeKeywords) > 0 {
		working = keep(working, func(m types.Record) bool {
			return mentionsAny(text(m), rules.IncludeKeywords)
		})
	}

	log.Debug().
		Int("original_count", len(markets)).
		Int("count", len(working)).
		Msg("Market filter applied")

	return Result{Markets: working, Count: len(working), OriginalCount: len(markets)}
}

// DaysToClose rounds the remaining time up to whole days.
func DaysToClose(closes, now time.Time) int {
	return int(math.Ceil(closes.Sub(now).Hours() / 24))
}

func keep(in []types.Record, pred func(types.Record) bool) []types.Record {
	out := in[:0:0]
	for _, m := range in {
		if pred(m) {
			out = append(out, m)
		}
	}
	return out
}

func liquidity(m types.Record) float64 {
	for _, key := range []string{"liquidity", "liquidity_usd"} {
		if v, ok := m.Float(key); ok {
			return v
		}
	}
	return 0
}

var closeFields = []string{"closes_at", "end_date", "endDate"}

func closesAt(m types.Record) (time.Time, bool) {
	for _, key := range closeFields {
		v, ok := m.Get(key)
		if !ok || types.IsNull(v) {
			continue
		}
		if t, ok := v.(time.Time); ok {
			return t, true
		}
		t, err := cast.ToTimeE(v)
		if err != nil {
			log.Debug().Err(err).Str("field", key).Msg("Unparseable close time, treating as missing")
			continue
		}
		return t, true
	}
	return time.Time{}, false
}

func text(m types.Record) string {
	title := m.String("title")
	if title == "" {
		title = m.String("question")
	}
	return strings.ToLower(title + " " + m.String("description"))
}

func mentionsAny(haystack string, keywords []string) bool {
	for _, k := range keywords {
		k = strings.TrimSpace(strings.ToLower(k))
		if k != "" && strings.Contains(haystack, k) {
			return true
		}
	}
	return false
}
