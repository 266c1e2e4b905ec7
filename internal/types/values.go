package types

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// ToFloat coerces a record value to a number. Booleans, nil and
// non-numeric strings are not numbers.
func ToFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case nil, bool:
		return 0, false
	case string:
		if strings.TrimSpace(t) == "" {
			return 0, false
		}
		f, err := cast.ToFloat64E(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return f, true
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ToString stringifies a record value; nil becomes "".
func ToString(v interface{}) string {
	if v == nil {
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return s
}

// IsNull reports whether v is absent for comparison purposes.
func IsNull(v interface{}) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

// ToRecords normalizes node input into a record slice. A single object is
// wrapped into a one-element collection.
func ToRecords(input interface{}) []Record {
	switch v := input.(type) {
	case nil:
		return []Record{}
	case []Record:
		return v
	case Record:
		return []Record{v}
	case map[string]interface{}:
		return []Record{Record(v)}
	case []map[string]interface{}:
		out := make([]Record, 0, len(v))
		for _, m := range v {
			out = append(out, Record(m))
		}
		return out
	case []interface{}:
		out := make([]Record, 0, len(v))
		for _, item := range v {
			switch m := item.(type) {
			case map[string]interface{}:
				out = append(out, Record(m))
			case Record:
				out = append(out, m)
			default:
				out = append(out, Record{"value": item})
			}
		}
		return out
	default:
		return []Record{{"value": v}}
	}
}

// Equal compares two record values loosely: numerically when both sides
// coerce to numbers, otherwise by their string forms.
func Equal(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ab == bb
	}
	af, aok := ToFloat(a)
	bf, bok := ToFloat(b)
	if aok && bok {
		return af == bf
	}
	return ToString(a) == ToString(b)
}

// Compare orders two record values. ok is false when they are not comparable.
func Compare(a, b interface{}) (int, bool) {
	if IsNull(a) || IsNull(b) {
		return 0, false
	}
	af, aok := ToFloat(a)
	bf, bok := ToFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	if aok != bok {
		return 0, false
	}
	return strings.Compare(ToString(a), ToString(b)), true
}
