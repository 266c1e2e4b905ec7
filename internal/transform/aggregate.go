package transform

import (
	"fmt"
	"math"
	"strings"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

type AggregateConfig struct {
	Operation string `mapstructure:"operation"`
	Field     string `mapstructure:"field"`
	GroupBy   string `mapstructure:"groupBy"`
}

var aggregateOps = map[string]bool{"count": true, "sum": true, "avg": true, "min": true, "max": true}

// Aggregate reduces records to one summary record, or one per group when
// GroupBy is set. Groups keep first-seen order.
func Aggregate(records []types.Record, cfg AggregateConfig) ([]types.Record, error) {
	op := strings.ToLower(cfg.Operation)
	if !aggregateOps[op] {
		return nil, &types.ConfigError{Field: "operation", Reason: fmt.Sprintf("unsupported aggregate %q", cfg.Operation)}
	}
	if op != "count" && cfg.Field == "" {
		return nil, &types.ConfigError{Field: "field", Reason: fmt.Sprintf("%s requires a field", op)}
	}

	if cfg.GroupBy == "" {
		return []types.Record{summarize(records, op, cfg.Field)}, nil
	}

	var order []string
	groups := make(map[string][]types.Record)
	for _, r := range records {
		key := "null"
		if v, ok := r.Get(cfg.GroupBy); ok && v != nil {
			key = types.ToString(v)
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}

	out := make([]types.Record, 0, len(order))
	for _, key := range order {
		s := summarize(groups[key], op, cfg.Field)
		s["group"] = key
		s["groupBy"] = cfg.GroupBy
		out = append(out, s)
	}
	return out, nil
}

func summarize(records []types.Record, op, field string) types.Record {
	return types.Record{
		"operation": op,
		"field":     field,
		"result":    reduce(records, op, field),
		"count":     len(records),
	}
}

func reduce(records []types.Record, op, field string) float64 {
	if len(records) == 0 {
		return 0
	}
	switch op {
	case "count":
		return float64(len(records))
	case "sum", "avg":
		sum := 0.0
		for _, r := range records {
			if f, ok := r.Float(field); ok {
				sum += f
			}
		}
		if op == "avg" {
			return sum / float64(len(records))
		}
		return sum
	case "min", "max":
		found := false
		best := 0.0
		for _, r := range records {
			f, ok := r.Float(field)
			if !ok || math.IsNaN(f) {
				continue
			}
			if !found || (op == "min" && f < best) || (op == "max" && f > best) {
				best = f
				found = true
			}
		}
		return best
	}
	return 0
}
