// Package filter evaluates records against legacy AND-only condition lists
// and v2 condition trees.
package filter

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// Condition is one predicate. Legacy lists use lowercase operators (eq, gt,
// in, contains...); v2 trees use EQUALS, GREATER_THAN and friends plus a
// field type.
type Condition struct {
	ID        string      `mapstructure:"id" json:"id"`
	Field     string      `mapstructure:"field" json:"field"`
	Operator  string      `mapstructure:"operator" json:"operator"`
	Value     interface{} `mapstructure:"value" json:"value"`
	FieldType string      `mapstructure:"fieldType" json:"fieldType"`
}

type Config struct {
	Version    int         `mapstructure:"version"`
	Logic      Logic       `mapstructure:"logic"`
	Conditions []Condition `mapstructure:"conditions"`
}

// Legacy reports whether the config predates condition trees.
func (c Config) Legacy() bool {
	return c.Version == 0 && c.Logic == ""
}

type Result struct {
	Filtered      []types.Record      `json:"filtered"`
	Count         int                 `json:"count"`
	OriginalCount int                 `json:"originalCount"`
	Failures      map[string][]string `json:"failures,omitempty"`
}

// Evaluate filters input. A single object is treated as a one-record batch.
func Evaluate(input interface{}, cfg Config) Result {
	records := types.ToRecords(input)
	res := Result{
		Filtered:      make([]types.Record, 0, len(records)),
		OriginalCount: len(records),
	}

	if cfg.Legacy() {
		for _, r := range records {
			if matchLegacy(r, cfg.Conditions) {
				res.Filtered = append(res.Filtered, r)
			}
		}
		res.Count = len(res.Filtered)
		return res
	}

	logic := LogicAnd
	if strings.EqualFold(string(cfg.Logic), string(LogicOr)) {
		logic = LogicOr
	}
	res.Failures = make(map[string][]string)
	for i, r := range records {
		ok, reasons := matchTree(r, cfg.Conditions, logic)
		if ok {
			res.Filtered = append(res.Filtered, r)
			continue
		}
		id := r.ID(i)
		res.Failures[id] = append(res.Failures[id], reasons...)
	}
	res.Count = len(res.Filtered)
	return res
}

func matchLegacy(r types.Record, conds []Condition) bool {
	for _, c := range conds {
		if !evalLegacy(r, c) {
			return false
		}
	}
	return true
}

func evalLegacy(r types.Record, c Condition) bool {
	actual, _ := r.Get(c.Field)
	switch strings.ToLower(c.Operator) {
	case "eq":
		return types.Equal(actual, c.Value)
	case "ne":
		return !types.Equal(actual, c.Value)
	case "gt", "gte", "lt", "lte":
		a, aok := types.ToFloat(actual)
		b, bok := types.ToFloat(c.Value)
		if !aok || !bok {
			return false
		}
		switch strings.ToLower(c.Operator) {
		case "gt":
			return a > b
		case "gte":
			return a >= b
		case "lt":
			return a < b
		}
		return a <= b
	case "in":
		return inSet(actual, c.Value)
	case "contains":
		return strings.Contains(strings.ToLower(types.ToString(actual)), strings.ToLower(types.ToString(c.Value)))
	default:
		log.Warn().Str("operator", c.Operator).Str("field", c.Field).Msg("Unknown filter operator, passing record")
		return true
	}
}

func matchTree(r types.Record, conds []Condition, logic Logic) (bool, []string) {
	if len(conds) == 0 {
		return true, nil
	}
	var reasons []string
	for _, c := range conds {
		ok, reason := evalV2(r, c)
		if ok {
			if logic == LogicOr {
				return true, nil
			}
			continue
		}
		reasons = append(reasons, reason)
	}
	if logic == LogicOr {
		return false, reasons
	}
	return len(reasons) == 0, reasons
}

// negated renders the failure side of each operator for diagnostics
var negated = map[string]string{
	"EQUALS":                "!=",
	"NOT_EQUALS":            "==",
	"GREATER_THAN":          "<=",
	"GREATER_THAN_OR_EQUAL": "<",
	"LESS_THAN":             ">=",
	"LESS_THAN_OR_EQUAL":    ">",
	"CONTAINS":              "does not contain",
	"NOT_CONTAINS":          "contains",
	"STARTS_WITH":           "does not start with",
	"ENDS_WITH":             "does not end with",
	"IN":                    "not in",
	"NOT_IN":                "in",
}

func evalV2(r types.Record, c Condition) (bool, string) {
	actual, present := r.Get(c.Field)
	op := strings.ToUpper(c.Operator)

	switch op {
	case "IS_NULL":
		if !present || types.IsNull(actual) {
			return true, ""
		}
		return false, fmt.Sprintf("%s (%s) is not null", c.Field, display(actual, present))
	case "IS_NOT_NULL":
		if present && !types.IsNull(actual) {
			return true, ""
		}
		return false, fmt.Sprintf("%s is null", c.Field)
	}

	neg, known := negated[op]
	if !known {
		log.Warn().Str("operator", c.Operator).Str("field", c.Field).Msg("Unknown condition operator, passing record")
		return true, ""
	}

	a, b := coerce(actual, c.Value, c.FieldType)
	var ok bool
	switch op {
	case "EQUALS":
		ok = present && types.Equal(a, b)
	case "NOT_EQUALS":
		ok = !present || !types.Equal(a, b)
	case "GREATER_THAN", "GREATER_THAN_OR_EQUAL", "LESS_THAN", "LESS_THAN_OR_EQUAL":
		cmp, comparable := types.Compare(a, b)
		if comparable {
			switch op {
			case "GREATER_THAN":
				ok = cmp > 0
			case "GREATER_THAN_OR_EQUAL":
				ok = cmp >= 0
			case "LESS_THAN":
				ok = cmp < 0
			default:
				ok = cmp <= 0
			}
		}
	case "CONTAINS":
		ok = present && strings.Contains(lower(a), lower(b))
	case "NOT_CONTAINS":
		ok = !strings.Contains(lower(a), lower(b))
	case "STARTS_WITH":
		ok = present && strings.HasPrefix(lower(a), lower(b))
	case "ENDS_WITH":
		ok = present && strings.HasSuffix(lower(a), lower(b))
	case "IN":
		ok = present && inSet(a, c.Value)
	case "NOT_IN":
		ok = !inSet(a, c.Value)
	}
	if ok {
		return true, ""
	}
	return false, fmt.Sprintf("%s (%s) %s %s", c.Field, display(actual, present), neg, displayValue(c.Value))
}

// coerce brings both sides of a comparison to the declared field type
func coerce(actual, expected interface{}, fieldType string) (interface{}, interface{}) {
	switch strings.ToLower(fieldType) {
	case "number":
		a, aok := types.ToFloat(actual)
		b, bok := types.ToFloat(expected)
		var av, bv interface{}
		if aok {
			av = a
		}
		if bok {
			bv = b
		}
		return av, bv
	case "date":
		return unixOrNil(actual), unixOrNil(expected)
	case "boolean":
		return boolOrSelf(actual), boolOrSelf(expected)
	}
	return actual, expected
}

func unixOrNil(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return float64(t.Unix())
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, t); err == nil {
				return float64(ts.Unix())
			}
		}
	}
	if f, ok := types.ToFloat(v); ok {
		return f
	}
	return nil
}

func boolOrSelf(v interface{}) interface{} {
	if s, ok := v.(string); ok {
		switch strings.ToLower(s) {
		case "true":
			return true
		case "false":
			return false
		}
	}
	return v
}

func inSet(actual, set interface{}) bool {
	for _, candidate := range asSlice(set) {
		if types.Equal(actual, candidate) {
			return true
		}
	}
	return false
}

func asSlice(v interface{}) []interface{} {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		parts := strings.Split(s, ",")
		out := make([]interface{}, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []interface{}{v}
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func lower(v interface{}) string { return strings.ToLower(types.ToString(v)) }

func display(v interface{}, present bool) string {
	if !present || v == nil {
		return "null"
	}
	return types.ToString(v)
}

func displayValue(v interface{}) string {
	rv := reflect.ValueOf(v)
	if v != nil && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) {
		parts := make([]string, 0, rv.Len())
		for _, item := range asSlice(v) {
			parts = append(parts, types.ToString(item))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return types.ToString(v)
}
