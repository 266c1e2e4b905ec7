// Package transform applies ordered operations (add-column, filter-rows,
// sort, aggregate) to a record set.
package transform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/expr"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

const (
	OpAddColumn  = "add-column"
	OpFilterRows = "filter-rows"
	OpSort       = "sort"
	OpAggregate  = "aggregate"
)

// Operation options may sit under config or inline next to type.
type Operation struct {
	Type   string                 `mapstructure:"type"`
	Config map[string]interface{} `mapstructure:"config"`
	Inline map[string]interface{} `mapstructure:",remain"`
}

func (o Operation) options() map[string]interface{} {
	if len(o.Config) > 0 {
		return o.Config
	}
	return o.Inline
}

type addColumnConfig struct {
	Name    string `mapstructure:"name"`
	Formula string `mapstructure:"formula"`
}

type filterRowsConfig struct {
	Condition string `mapstructure:"condition"`
}

type sortConfig struct {
	Field     string `mapstructure:"field"`
	Direction string `mapstructure:"direction"`
}

type Result struct {
	Transformed []types.Record `json:"transformed"`
	Count       int            `json:"count"`
}

// Run executes ops in order; each step consumes the previous step's output.
// Unknown operation kinds are skipped.
func Run(records []types.Record, ops []Operation) (Result, error) {
	current := records
	for i, op := range ops {
		var err error
		switch strings.ToLower(op.Type) {
		case OpAddColumn:
			current, err = addColumn(current, op.options())
		case OpFilterRows:
			current, err = filterRows(current, op.options())
		case OpSort:
			current, err = sortRows(current, op.options())
		case OpAggregate:
			var cfg AggregateConfig
			if err = decode(op.options(), &cfg); err == nil {
				current, err = Aggregate(current, cfg)
			}
		default:
			log.Warn().Str("operation", op.Type).Int("index", i).Msg("Unknown transform operation, skipping")
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("operation %d (%s): %w", i, op.Type, err)
		}
	}
	if current == nil {
		current = []types.Record{}
	}
	return Result{Transformed: current, Count: len(current)}, nil
}

func addColumn(records []types.Record, opts map[string]interface{}) ([]types.Record, error) {
	var cfg addColumnConfig
	if err := decode(opts, &cfg); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		return nil, &types.ConfigError{Field: "name", Reason: "required"}
	}
	formula, err := expr.Compile(cfg.Formula)
	if err != nil {
		return nil, &types.ConfigError{Field: "formula", Reason: err.Error()}
	}

	out := make([]types.Record, 0, len(records))
	for _, r := range records {
		row := r.Clone()
		v, err := formula.Eval(r)
		if err != nil {
			log.Debug().Err(err).Str("column", cfg.Name).Msg("Formula failed for record")
			v = nil
		}
		row[cfg.Name] = v
		out = append(out, row)
	}
	return out, nil
}

func filterRows(records []types.Record, opts map[string]interface{}) ([]types.Record, error) {
	var cfg filterRowsConfig
	if err := decode(opts, &cfg); err != nil {
		return nil, err
	}
	cond, err := expr.Compile(cfg.Condition)
	if err != nil {
		return nil, &types.ConfigError{Field: "condition", Reason: err.Error()}
	}
	out := make([]types.Record, 0, len(records))
	for _, r := range records {
		if cond.Test(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func sortRows(records []types.Record, opts map[string]interface{}) ([]types.Record, error) {
	var cfg sortConfig
	if err := decode(opts, &cfg); err != nil {
		return nil, err
	}
	if cfg.Field == "" {
		return nil, &types.ConfigError{Field: "field", Reason: "required"}
	}
	desc := strings.EqualFold(cfg.Direction, "desc")

	out := make([]types.Record, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		a, aok := out[i].Get(cfg.Field)
		b, bok := out[j].Get(cfg.Field)
		aMissing := !aok || types.IsNull(a)
		bMissing := !bok || types.IsNull(b)
		if aMissing || bMissing {
			return !aMissing && bMissing
		}
		c, ok := types.Compare(a, b)
		if !ok {
			return false
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
	return out, nil
}

func decode(in map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}
